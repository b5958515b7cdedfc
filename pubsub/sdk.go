package pubsub

import (
	"context"
	"sync"

	"github.com/atsika/meshplane"
)

type sdkActionKind int

const (
	actPublish sdkActionKind = iota
	actCreatePublisher
	actDropPublisher
	actSubscribeExact
	actSubscribeAuto
	actUnsubscribeExact
	actUnsubscribeAuto
	actFeedback
)

type sdkAction struct {
	kind         sdkActionKind
	channel      ChannelIdentify
	uuid         uint64 // channel uuid for actSubscribeAuto/actUnsubscribeAuto
	consumerUuid uint64 // subscription uuid for actUnsubscribeExact/actUnsubscribeAuto/actFeedback
	data         []byte
	feedbackId   uint8
	feedbackType FeedbackType
	target       any // *ConsumerSingle or *Consumer, for actSubscribeExact/actSubscribeAuto
}

// PubsubSdk is the API a caller uses to publish and consume channels. All
// state lives in the owning PubsubBehavior; the sdk only queues actions
// and hands back handles that read from behavior-fed channels, the same
// shape keyvalue.KeyValueSdk and nodealias.NodeAliasSdk use.
type PubsubSdk struct {
	mu      sync.Mutex
	actions []sdkAction
	awaker  meshplane.Awaker

	localNode meshplane.NodeId

	feedbackMgr *subscriberManager[ChannelIdentify, Feedback]
}

func NewPubsubSdk(localNode meshplane.NodeId) *PubsubSdk {
	return &PubsubSdk{
		localNode:   localNode,
		feedbackMgr: newSubscriberManager[ChannelIdentify, Feedback](),
	}
}

func (s *PubsubSdk) SetAwaker(a meshplane.Awaker) {
	s.mu.Lock()
	s.awaker = a
	s.mu.Unlock()
}

func (s *PubsubSdk) notify() {
	if s.awaker != nil {
		s.awaker.Notify()
	}
}

func (s *PubsubSdk) push(a sdkAction) {
	s.mu.Lock()
	s.actions = append(s.actions, a)
	s.mu.Unlock()
	s.notify()
}

func (s *PubsubSdk) drainActions() []sdkAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.actions
	s.actions = nil
	return a
}

// CreatePublisher claims uuid as a channel this node owns and returns a
// handle to send data and receive feedback on it.
func (s *PubsubSdk) CreatePublisher(uuid uint64) *Publisher {
	channel := ChannelIdentify{Source: s.localNode, Uuid: uuid}
	fbUuid, fbCh := s.feedbackMgr.Subscribe(channel, 64)
	s.push(sdkAction{kind: actCreatePublisher, channel: channel})
	return &Publisher{sdk: s, channel: channel, feedbackUuid: fbUuid, feedback: fbCh}
}

// CreateConsumerSingle subscribes to one exact channel.
func (s *PubsubSdk) CreateConsumerSingle(channel ChannelIdentify, bufferSize int) *ConsumerSingle {
	c := &ConsumerSingle{sdk: s, channel: channel, bufferSize: bufferSize}
	s.push(sdkAction{kind: actSubscribeExact, channel: channel, target: c})
	return c
}

// CreateConsumer subscribes to every channel published under uuid
// regardless of which node owns it.
func (s *PubsubSdk) CreateConsumer(uuid uint64, bufferSize int) *Consumer {
	c := &Consumer{sdk: s, uuid: uuid, bufferSize: bufferSize}
	s.push(sdkAction{kind: actSubscribeAuto, uuid: uuid, target: c})
	return c
}

func (s *PubsubSdk) dropPublisher(channel ChannelIdentify, feedbackUuid uint64) {
	s.feedbackMgr.Unsubscribe(channel, feedbackUuid)
	s.push(sdkAction{kind: actDropPublisher, channel: channel})
}

func (s *PubsubSdk) publish(channel ChannelIdentify, data []byte) {
	s.push(sdkAction{kind: actPublish, channel: channel, data: data})
}

func (s *PubsubSdk) feedback(channel ChannelIdentify, consumerUuid uint64, id uint8, ft FeedbackType) {
	s.push(sdkAction{kind: actFeedback, channel: channel, consumerUuid: consumerUuid, feedbackId: id, feedbackType: ft})
}

func (s *PubsubSdk) unsubscribeExact(channel ChannelIdentify, consumerUuid uint64) {
	s.push(sdkAction{kind: actUnsubscribeExact, channel: channel, consumerUuid: consumerUuid})
}

func (s *PubsubSdk) unsubscribeAuto(uuid uint64, consumerUuid uint64) {
	s.push(sdkAction{kind: actUnsubscribeAuto, uuid: uuid, consumerUuid: consumerUuid})
}

func (s *PubsubSdk) deliverFeedback(channel ChannelIdentify, fb Feedback) {
	s.feedbackMgr.Publish(channel, fb)
}

// Publisher sends data to every subscriber of one channel and receives
// their feedback.
type Publisher struct {
	sdk          *PubsubSdk
	channel      ChannelIdentify
	feedbackUuid uint64
	feedback     <-chan Feedback
	closeOnce    sync.Once
}

func (p *Publisher) Identify() ChannelIdentify { return p.channel }

func (p *Publisher) Send(data []byte) { p.sdk.publish(p.channel, data) }

func (p *Publisher) RecvFeedback(ctx context.Context) (Feedback, error) {
	select {
	case fb, ok := <-p.feedback:
		if !ok {
			return Feedback{}, context.Canceled
		}
		return fb, nil
	case <-ctx.Done():
		return Feedback{}, ctx.Err()
	}
}

func (p *Publisher) Close() {
	p.closeOnce.Do(func() { p.sdk.dropPublisher(p.channel, p.feedbackUuid) })
}

// ConsumerSingle reads data published on exactly one channel.
type ConsumerSingle struct {
	sdk        *PubsubSdk
	channel    ChannelIdentify
	bufferSize int

	mu   sync.Mutex
	uuid uint64
	data <-chan DataEvent
	bound bool
}

func (c *ConsumerSingle) Uuid() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uuid
}

func (c *ConsumerSingle) bind(uuid uint64, ch <-chan DataEvent) {
	c.mu.Lock()
	c.uuid = uuid
	c.data = ch
	c.bound = true
	c.mu.Unlock()
}

func (c *ConsumerSingle) channelOrNil() <-chan DataEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *ConsumerSingle) Recv(ctx context.Context) (DataEvent, error) {
	for {
		ch := c.channelOrNil()
		if ch == nil {
			select {
			case <-ctx.Done():
				return DataEvent{}, ctx.Err()
			default:
			}
			continue
		}
		select {
		case ev, ok := <-ch:
			if !ok {
				return DataEvent{}, context.Canceled
			}
			return ev, nil
		case <-ctx.Done():
			return DataEvent{}, ctx.Err()
		}
	}
}

func (c *ConsumerSingle) Feedback(id uint8, ft FeedbackType) {
	c.sdk.feedback(c.channel, c.Uuid(), id, ft)
}

func (c *ConsumerSingle) Close() { c.sdk.unsubscribeExact(c.channel, c.Uuid()) }

// Consumer reads data published under one uuid from any source node.
type Consumer struct {
	sdk        *PubsubSdk
	uuid       uint64
	bufferSize int

	mu           sync.Mutex
	consumerUuid uint64
	data         <-chan DataEvent
	lastChannel  ChannelIdentify
}

func (c *Consumer) Uuid() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumerUuid
}

func (c *Consumer) bind(uuid uint64, ch <-chan DataEvent) {
	c.mu.Lock()
	c.consumerUuid = uuid
	c.data = ch
	c.mu.Unlock()
}

func (c *Consumer) channelOrNil() <-chan DataEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *Consumer) Recv(ctx context.Context) (DataEvent, error) {
	for {
		ch := c.channelOrNil()
		if ch == nil {
			select {
			case <-ctx.Done():
				return DataEvent{}, ctx.Err()
			default:
			}
			continue
		}
		select {
		case ev, ok := <-ch:
			if !ok {
				return DataEvent{}, context.Canceled
			}
			c.mu.Lock()
			c.lastChannel = ev.Channel
			c.mu.Unlock()
			return ev, nil
		case <-ctx.Done():
			return DataEvent{}, ctx.Err()
		}
	}
}

// Feedback reports against the channel this consumer most recently
// received data from.
func (c *Consumer) Feedback(id uint8, ft FeedbackType) {
	c.mu.Lock()
	channel := c.lastChannel
	c.mu.Unlock()
	c.sdk.feedback(channel, c.Uuid(), id, ft)
}

func (c *Consumer) Close() { c.sdk.unsubscribeAuto(c.uuid, c.Uuid()) }
