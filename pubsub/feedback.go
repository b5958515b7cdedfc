package pubsub

// FeedbackKind tags which payload shape a FeedbackType carries.
type FeedbackKind uint8

const (
	FeedbackPassthrough FeedbackKind = iota
	FeedbackNumber
)

// NumberInfo is a simple running aggregate a consumer reports about the
// stream it's receiving (e.g. loss count, jitter bucket). The publisher
// merges every consumer's latest NumberInfo for the same feedback id into
// one combined view before delivering it.
type NumberInfo struct {
	Count int64
	Max   int64
	Min   int64
	Sum   int64
}

// Merge combines two NumberInfo samples. The zero NumberInfo is not a
// neutral element (its Min and Max of 0 enter the result), so callers
// always merge actual samples, never a sample against an empty default.
func (a NumberInfo) Merge(b NumberInfo) NumberInfo {
	max := a.Max
	if b.Max > max {
		max = b.Max
	}
	min := a.Min
	if b.Min < min {
		min = b.Min
	}
	return NumberInfo{
		Count: a.Count + b.Count,
		Max:   max,
		Min:   min,
		Sum:   a.Sum + b.Sum,
	}
}

// FeedbackType is either a raw passthrough blob, delivered to the
// publisher once per consumer call, or a Number sample, which the
// publisher keeps one slot for per (channel, id, consumer) and reports
// merged across every consumer that has reported under that id.
type FeedbackType struct {
	Kind        FeedbackKind
	Passthrough []byte
	WindowMs    uint32
	Info        NumberInfo
}

// Feedback is delivered to a Publisher via RecvFeedback.
type Feedback struct {
	Channel ChannelIdentify
	Id      uint8
	Type    FeedbackType
}
