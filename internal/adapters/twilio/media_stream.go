package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/core/relay"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// streamEnvelope is the Twilio Media Streams wire format. Every message is
// a JSON envelope discriminated by the event field.
type streamEnvelope struct {
	Event     string         `json:"event"`
	StreamSid string         `json:"streamSid,omitempty"`
	Start     *startPayload  `json:"start,omitempty"`
	Media     *mediaPayload  `json:"media,omitempty"`
	Mark      *markPayload   `json:"mark,omitempty"`
	Stop      *stopPayload   `json:"stop,omitempty"`
	Sequence  string         `json:"sequenceNumber,omitempty"`
}

type startPayload struct {
	StreamSid   string            `json:"streamSid"`
	AccountSid  string            `json:"accountSid"`
	CallSid     string            `json:"callSid"`
	MediaFormat mediaFormat       `json:"mediaFormat"`
	Params      map[string]string `json:"customParameters,omitempty"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Payload string `json:"payload"` // base64 mulaw/8000
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	CallSid string `json:"callSid"`
}

// MarkInterruption is the mark label the agent side emits when the caller
// interrupts; the telephony side translates it into a buffer clear.
const MarkInterruption = "interruption"

// writeWait bounds a single WebSocket write so a dead peer cannot block the
// relay writer forever.
const writeWait = 5 * time.Second

// MediaStreamTransport adapts a Twilio media-stream WebSocket to the relay
// Transport interface. Both directions carry base64 mulaw/8000 payloads so
// frames are re-wrapped, never transcoded.
type MediaStreamTransport struct {
	conn *websocket.Conn

	mu        sync.Mutex
	streamSID string
	callSID   string
	params    map[string]string
	closed    bool
}

// NewMediaStreamTransport wraps an upgraded media-stream connection.
func NewMediaStreamTransport(conn *websocket.Conn) *MediaStreamTransport {
	return &MediaStreamTransport{conn: conn}
}

// CallSID returns the Twilio call SID, known after the start event.
func (t *MediaStreamTransport) CallSID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callSID
}

// StreamSID returns the Twilio stream SID, known after the start event.
func (t *MediaStreamTransport) StreamSID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamSID
}

// CustomParameter returns a <Parameter> value passed in the start event.
func (t *MediaStreamTransport) CustomParameter(name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.params == nil {
		return ""
	}
	return t.params[name]
}

// ReadFrame reads envelopes until one maps to a relay frame. The connected
// event is handshake noise and is skipped.
func (t *MediaStreamTransport) ReadFrame(ctx context.Context) (relay.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return relay.Frame{}, err
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return relay.Frame{}, err
		}

		frame, ok, err := t.decodeEnvelope(data)
		if err != nil {
			return relay.Frame{}, err
		}
		if ok {
			return frame, nil
		}
	}
}

// decodeEnvelope maps one wire message to a frame. ok is false for
// envelopes the relay does not care about.
func (t *MediaStreamTransport) decodeEnvelope(data []byte) (relay.Frame, bool, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return relay.Frame{}, false, fmt.Errorf("decode media stream envelope: %w", err)
	}

	switch env.Event {
	case "connected":
		return relay.Frame{}, false, nil

	case "start":
		if env.Start != nil {
			t.mu.Lock()
			t.streamSID = env.Start.StreamSid
			t.callSID = env.Start.CallSid
			t.params = env.Start.Params
			t.mu.Unlock()
			logger.Base().Info("media stream started",
				zap.String("call_id", env.Start.CallSid),
				zap.String("stream_sid", env.Start.StreamSid),
				zap.String("encoding", env.Start.MediaFormat.Encoding))
		}
		return relay.Frame{Kind: relay.KindStart}, true, nil

	case "media":
		if env.Media == nil {
			return relay.Frame{}, false, nil
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return relay.Frame{}, false, fmt.Errorf("decode media payload: %w", err)
		}
		return relay.Frame{Kind: relay.KindAudio, Payload: payload}, true, nil

	case "mark":
		name := ""
		if env.Mark != nil {
			name = env.Mark.Name
		}
		return relay.Frame{Kind: relay.KindMark, Mark: name}, true, nil

	case "stop":
		return relay.Frame{Kind: relay.KindStop}, true, nil

	default:
		return relay.Frame{}, false, nil
	}
}

// WriteFrame sends a relay frame to Twilio. Audio becomes a media event,
// an interruption mark becomes a clear event so Twilio flushes buffered
// agent audio, other marks echo as mark events. Start and stop frames have
// no outbound wire form here and are ignored.
func (t *MediaStreamTransport) WriteFrame(ctx context.Context, frame relay.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := t.encodeFrame(frame)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *MediaStreamTransport) encodeFrame(frame relay.Frame) ([]byte, error) {
	t.mu.Lock()
	streamSID := t.streamSID
	t.mu.Unlock()

	switch frame.Kind {
	case relay.KindAudio:
		return json.Marshal(streamEnvelope{
			Event:     "media",
			StreamSid: streamSID,
			Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame.Payload)},
		})

	case relay.KindMark:
		if frame.Mark == MarkInterruption {
			return json.Marshal(streamEnvelope{
				Event:     "clear",
				StreamSid: streamSID,
			})
		}
		return json.Marshal(streamEnvelope{
			Event:     "mark",
			StreamSid: streamSID,
			Mark:      &markPayload{Name: frame.Mark},
		})

	case relay.KindStart, relay.KindStop:
		return nil, nil

	default:
		return nil, nil
	}
}

// Close closes the WebSocket. Safe to call more than once.
func (t *MediaStreamTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return t.conn.Close()
}
