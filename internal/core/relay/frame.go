package relay

import "context"

// Kind classifies a relay frame. Audio frames carry payload and may be
// dropped under backpressure; the rest are control frames and never are.
type Kind int

const (
	KindStart Kind = iota
	KindAudio
	KindStop
	KindMark
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindAudio:
		return "audio"
	case KindStop:
		return "stop"
	case KindMark:
		return "mark"
	default:
		return "unknown"
	}
}

// Control reports whether the frame kind must survive backpressure.
func (k Kind) Control() bool {
	return k != KindAudio
}

// Frame is one unit of media or control traffic crossing the relay.
// Payload is raw mulaw/8000 audio for KindAudio; Mark carries the label
// for KindMark frames.
type Frame struct {
	Kind    Kind
	Payload []byte
	Mark    string
}

// Transport is one side of the relay. Implementations wrap a WebSocket
// connection and translate between wire envelopes and Frames. ReadFrame
// and WriteFrame must honor context cancellation at frame boundaries;
// Close must be safe to call more than once.
type Transport interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, frame Frame) error
	Close() error
}
