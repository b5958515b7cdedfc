package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/atsika/meshplane"
	"github.com/atsika/meshplane/keyvalue"
	"github.com/atsika/meshplane/manual"
	"github.com/atsika/meshplane/nodealias"
	"github.com/atsika/meshplane/pubsub"
	"github.com/atsika/meshplane/router/spread"
	"github.com/atsika/meshplane/transport/udpnoise"
)

func main() {
	nodeIdFlag := flag.Uint("node-id", 1, "this node's numeric id")
	listenFlag := flag.String("listen", "0.0.0.0:9000", "UDP address to listen on")
	seedsFlag := flag.String("seeds", "", "comma-separated seed list, each node_id@host:port")
	tagsFlag := flag.String("tags", "", "comma-separated local tags this node announces")
	connectTagsFlag := flag.String("connect-tags", "", "comma-separated tags an accepted connection must overlap, if set")
	tickFlag := flag.Duration("tick", 500*time.Millisecond, "plane tick interval")
	syncFlag := flag.Duration("kv-sync", 10*time.Second, "key-value anti-entropy interval")
	enableKVFlag := flag.Bool("kv", true, "enable the key-value behavior")
	enablePubsubFlag := flag.Bool("pubsub", true, "enable the pub/sub behavior")
	enableAliasFlag := flag.Bool("node-alias", true, "enable the node-alias behavior")
	metricsAddrFlag := flag.String("metrics-addr", "", "if set, serve Prometheus metrics at this address under /metrics")
	verboseFlag := flag.Bool("v", false, "debug logging")

	flag.Usage = printUsage
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	}

	nodeId := meshplane.NodeId(*nodeIdFlag)

	selfAddr, err := listenNodeAddr(nodeId, *listenFlag)
	if err != nil {
		log.Fatalf("meshnode: %v", err)
	}

	seeds, err := parseSeeds(*seedsFlag)
	if err != nil {
		log.Fatalf("meshnode: %v", err)
	}

	transport, err := udpnoise.Listen(*listenFlag, log)
	if err != nil {
		log.Fatalf("meshnode: listen %s: %v", *listenFlag, err)
	}

	router := spread.NewSharedRouter(nodeId)

	opts := []meshplane.Option{
		meshplane.WithRouter(router),
		meshplane.WithTickMs(int(tickFlag.Milliseconds())),
		meshplane.WithLogger(log),
		meshplane.WithBehavior(spread.NewRouterSyncBehavior(router), nil),
	}

	manualBehavior := manual.NewManualBehavior(manual.ManualBehaviorConf{
		NodeId:      nodeId,
		NodeAddr:    selfAddr,
		Seeds:       seeds,
		LocalTags:   splitTags(*tagsFlag),
		ConnectTags: splitTags(*connectTagsFlag),
	})
	opts = append(opts, meshplane.WithBehavior(manualBehavior, manualBehavior.NewHandlerFactory()))

	var metrics meshplane.Metrics
	var reg *prometheus.Registry
	if *metricsAddrFlag != "" {
		reg = prometheus.NewRegistry()
		metrics = meshplane.NewPromMetrics(reg)
		opts = append(opts, meshplane.WithMetrics(metrics))
	}

	var kv *keyvalue.KeyValueBehavior
	if *enableKVFlag {
		kv = keyvalue.NewKeyValueBehavior(syncFlag.Milliseconds())
		opts = append(opts, meshplane.WithBehavior(kv, nil))
	}

	var ps *pubsub.PubsubBehavior
	if *enablePubsubFlag {
		ps = pubsub.NewPubsubBehavior(nodeId)
		opts = append(opts, meshplane.WithBehavior(ps, nil))
	}

	if *enableAliasFlag {
		opts = append(opts, meshplane.WithBehavior(nodealias.NewNodeAliasBehavior(), nil))
	}

	cfg := meshplane.NewNetworkPlaneConfig(nodeId, transport, opts...)
	plane, err := meshplane.NewNetworkPlane(cfg)
	if err != nil {
		log.Fatalf("meshnode: %v", err)
	}

	if err := plane.Started(); err != nil {
		log.Fatalf("meshnode: start: %v", err)
	}
	log.WithFields(logrus.Fields{
		"node_id": nodeId,
		"listen":  *listenFlag,
		"seeds":   len(seeds),
	}).Info("meshnode started")

	if *metricsAddrFlag != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddrFlag, mux); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		log.WithField("addr", *metricsAddrFlag).Info("serving prometheus metrics")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("meshnode: shutting down")
		cancel()
	}()

	for {
		more, err := plane.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.WithError(err).Error("meshnode: plane loop stopped")
			break
		}
		if !more {
			break
		}
	}
	plane.Stopped()
}

// listenNodeAddr turns the bound UDP listen address into this node's
// advertised NodeAddr, resolving a wildcard host to the loopback address
// seeds can actually dial in single-host test clusters.
func listenNodeAddr(nodeId meshplane.NodeId, listen string) (meshplane.NodeAddr, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return meshplane.NodeAddr{}, fmt.Errorf("invalid -listen %q: %w", listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return meshplane.NodeAddr{}, fmt.Errorf("invalid -listen port %q: %w", listen, err)
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return meshplane.NodeAddr{}, fmt.Errorf("invalid -listen host %q: only IPv4 is supported", host)
	}
	var descriptor meshplane.TransportDescriptor
	descriptor.Protocol = meshplane.ProtoUDP
	copy(descriptor.IP[:], ip)
	descriptor.Port = uint16(port)
	return meshplane.NodeAddr{NodeId: nodeId, Descriptors: []meshplane.TransportDescriptor{descriptor}}, nil
}

// parseSeeds parses a comma-separated "node_id@host:port" list into
// NodeAddr values.
func parseSeeds(s string) ([]meshplane.NodeAddr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []meshplane.NodeAddr
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		at := strings.IndexByte(entry, '@')
		if at < 0 {
			return nil, fmt.Errorf("invalid seed %q: expected node_id@host:port", entry)
		}
		idStr, hostport := entry[:at], entry[at+1:]
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid seed node id %q: %w", idStr, err)
		}
		addr, err := listenNodeAddr(meshplane.NodeId(id), hostport)
		if err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", entry, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func splitTags(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printUsage() {
	fmt.Println("meshnode - single-node peer-to-peer overlay runtime")
	fmt.Println("Usage:")
	fmt.Println("  meshnode -node-id <id> -listen <host:port> [-seeds node_id@host:port,...] [-tags a,b] [-connect-tags a,b]")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  meshnode -node-id 1 -listen 0.0.0.0:9000")
	fmt.Println("  meshnode -node-id 2 -listen 0.0.0.0:9001 -seeds 1@127.0.0.1:9000")
}
