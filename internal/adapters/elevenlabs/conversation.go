package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/adapters/twilio"
	"github.com/carelinkhq/carecall-voice-service/internal/core/relay"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultWSBaseURL is the conversational WebSocket endpoint.
const DefaultWSBaseURL = "wss://api.elevenlabs.io"

// writeWait bounds a single WebSocket write so a dead peer cannot block the
// relay writer forever.
const writeWait = 5 * time.Second

// agentEvent is the incoming event envelope from the conversational agent.
type agentEvent struct {
	Type string `json:"type"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	UserTranscriptEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`
}

// initiationMessage is sent first on every connection to inject the
// per-caller dynamic variables.
type initiationMessage struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

// ConversationTransport adapts the agent's conversational WebSocket to the
// relay Transport interface. Agent audio arrives base64-encoded mulaw/8000
// and is re-wrapped, never transcoded. Pings are answered inline and never
// surface as frames; interruptions surface as mark frames so the telephony
// side can flush its playback buffer.
type ConversationTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Dialer opens conversational WebSocket connections for an agent.
type Dialer struct {
	BaseURL string
	AgentID string
	APIKey  string
}

// NewDialer creates a dialer for the configured agent.
func NewDialer(baseURL, agentID, apiKey string) *Dialer {
	if baseURL == "" {
		baseURL = DefaultWSBaseURL
	}
	return &Dialer{BaseURL: baseURL, AgentID: agentID, APIKey: apiKey}
}

// Dial connects to the agent and sends the initiation message carrying the
// dynamic variables. The returned transport is ready to relay.
func (d *Dialer) Dial(ctx context.Context, dynamicVariables map[string]string) (*ConversationTransport, error) {
	endpoint := fmt.Sprintf("%s/v1/convai/conversation?agent_id=%s", d.BaseURL, url.QueryEscape(d.AgentID))

	header := make(map[string][]string)
	if d.APIKey != "" {
		header["xi-api-key"] = []string{d.APIKey}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("dial conversational agent (status %d): %w", status, err)
	}

	init := initiationMessage{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: dynamicVariables,
	}
	if err := conn.WriteJSON(init); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send conversation initiation: %w", err)
	}

	logger.Base().Info("conversational agent connected",
		zap.String("agent_id", d.AgentID),
		zap.Int("dynamic_variables", len(dynamicVariables)))
	return &ConversationTransport{conn: conn}, nil
}

// ReadFrame reads agent events until one maps to a relay frame.
func (t *ConversationTransport) ReadFrame(ctx context.Context) (relay.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return relay.Frame{}, err
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return relay.Frame{Kind: relay.KindStop}, nil
			}
			return relay.Frame{}, err
		}

		var event agentEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Base().Warn("unparseable agent event", zap.Error(err))
			continue
		}

		switch event.Type {
		case "audio":
			if event.AudioEvent == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(event.AudioEvent.AudioBase64)
			if err != nil {
				logger.Base().Warn("bad agent audio payload", zap.Error(err))
				continue
			}
			return relay.Frame{Kind: relay.KindAudio, Payload: payload}, nil

		case "ping":
			eventID := 0
			if event.PingEvent != nil {
				eventID = event.PingEvent.EventID
			}
			if err := t.writeJSON(map[string]interface{}{"type": "pong", "event_id": eventID}); err != nil {
				return relay.Frame{}, err
			}

		case "interruption":
			return relay.Frame{Kind: relay.KindMark, Mark: twilio.MarkInterruption}, nil

		case "agent_response":
			if event.AgentResponseEvent != nil {
				logger.Base().Debug("agent response", zap.String("text", event.AgentResponseEvent.AgentResponse))
			}

		case "user_transcript":
			if event.UserTranscriptEvent != nil {
				logger.Base().Debug("user transcript", zap.String("text", event.UserTranscriptEvent.UserTranscript))
			}

		default:
			// conversation_initiation_metadata and friends
		}
	}
}

// WriteFrame sends caller audio to the agent. Control frames have no wire
// form on this side and are ignored.
func (t *ConversationTransport) WriteFrame(ctx context.Context, frame relay.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frame.Kind != relay.KindAudio {
		return nil
	}
	return t.writeJSON(map[string]string{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(frame.Payload),
	})
}

func (t *ConversationTransport) writeJSON(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return websocket.ErrCloseSent
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(v)
}

// Close closes the WebSocket. Safe to call more than once.
func (t *ConversationTransport) Close() error {
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
