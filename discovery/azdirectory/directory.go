// Package azdirectory implements node presence discovery on top of Azure
// Storage: nodes publish their NodeAddr to a shared directory so peers
// with no prior knowledge of each other can bootstrap a connection.
package azdirectory

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/atsika/meshplane"
)

// Endpoint identifies an Azure Storage account (or Azurite-compatible
// endpoint) hosting the directory.
type Endpoint struct {
	URL     *url.URL
	Account string
	Key     string
	IsAzure bool
}

// NewEndpoint derives account/key/service-kind from a connection URL,
// falling back to AZURE_STORAGE_ACCOUNT(_KEY) environment variables the
// way the Azure CLI tooling does.
func NewEndpoint(u *url.URL) *Endpoint {
	ep := &Endpoint{URL: u}

	hostOnly := u.Host
	if h, _, err := net.SplitHostPort(u.Host); err == nil {
		hostOnly = h
	}
	ep.IsAzure = strings.HasSuffix(strings.ToLower(hostOnly), ".core.windows.net")

	if u.User.Username() != "" {
		ep.Account = u.User.Username()
	} else if ep.IsAzure {
		ep.Account = strings.Split(hostOnly, ".")[0]
	} else {
		path := strings.Trim(u.Path, "/")
		if path != "" {
			ep.Account = strings.Split(path, "/")[0]
		}
	}
	if ep.Account == "" {
		ep.Account = os.Getenv("AZURE_STORAGE_ACCOUNT")
	}
	if key, ok := u.User.Password(); ok {
		ep.Key = key
	} else {
		ep.Key = os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")
	}
	return ep
}

// ServiceURL returns the base URL for the Azure Storage service this
// endpoint addresses.
func (e *Endpoint) ServiceURL() string {
	if e.IsAzure {
		return e.URL.Scheme + "://" + e.URL.Host
	}
	return e.URL.Scheme + "://" + e.URL.Host + "/" + e.Account
}

// JoinURL joins the service URL with a resource name.
func (e *Endpoint) JoinURL(resource string) string {
	base := e.ServiceURL()
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + resource
}

// DirectoryEntry is one node's published presence: its address plus when
// it was last seen fresh, so stale entries can be pruned by TTL.
type DirectoryEntry struct {
	Addr     meshplane.NodeAddr
	UpdatedAtUnixMs int64
}

func encodeEntry(e DirectoryEntry) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d:", e.UpdatedAtUnixMs))
	b.WriteString(base64.StdEncoding.EncodeToString(e.Addr.Encode()))
	return b.String()
}

func decodeEntry(s string) (DirectoryEntry, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return DirectoryEntry{}, fmt.Errorf("azdirectory: malformed entry")
	}
	var ts int64
	if _, err := fmt.Sscanf(s[:idx], "%d", &ts); err != nil {
		return DirectoryEntry{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(s[idx+1:])
	if err != nil {
		return DirectoryEntry{}, err
	}
	addr, err := meshplane.DecodeNodeAddr(raw)
	if err != nil {
		return DirectoryEntry{}, err
	}
	return DirectoryEntry{Addr: addr, UpdatedAtUnixMs: ts}, nil
}

// Directory is the storage-backed bootstrap surface: publish this node's
// own address, and discover the addresses of other nodes.
type Directory interface {
	Publish(ctx context.Context, entry DirectoryEntry) error
	List(ctx context.Context) ([]DirectoryEntry, error)
	Remove(ctx context.Context, id meshplane.NodeId) error
}

// EntryTTL is how long a published entry is considered fresh. Entries
// older than this are still returned by List (pruning is the caller's
// responsibility) so a slow poller doesn't thrash reconnects.
const EntryTTL = 2 * time.Minute
