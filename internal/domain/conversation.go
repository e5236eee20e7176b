package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// CallDirection distinguishes who placed the call.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// Conversation is the persisted record of a completed call.
type Conversation struct {
	ID              string        `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallSID         string        `json:"call_sid" db:"call_sid" gorm:"column:call_sid;unique"`
	UserID          string        `json:"user_id" db:"user_id" gorm:"column:user_id;index"`
	ContactNumber   string        `json:"contact_number" db:"contact_number" gorm:"column:contact_number"`
	Direction       CallDirection `json:"direction" db:"direction" gorm:"column:direction"`
	Transcript      string        `json:"transcript" db:"transcript" gorm:"column:transcript;type:text"`
	DurationSeconds int           `json:"duration_seconds" db:"duration_seconds" gorm:"column:duration_seconds"`
	HappinessLevel  string        `json:"happiness_level" db:"happiness_level" gorm:"column:happiness_level"`
	StartedAt       time.Time     `json:"started_at" db:"started_at" gorm:"column:started_at"`
	EndedAt         time.Time     `json:"ended_at" db:"ended_at" gorm:"column:ended_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// TranscriptTurn is one utterance in the provider's post-call transcript.
type TranscriptTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// TerminationEvent is the decoded post_call_transcription webhook payload.
// It is only ever applied to a session after signature verification.
type TerminationEvent struct {
	Type string               `json:"type"`
	Data TerminationEventData `json:"data"`
}

// TerminationEventData carries the call identity, transcript and metadata.
type TerminationEventData struct {
	ConversationID string                     `json:"conversation_id"`
	AgentID        string                     `json:"agent_id"`
	Transcript     []TranscriptTurn           `json:"transcript"`
	Metadata       CallMetadata               `json:"metadata"`
	Analysis       CallAnalysis               `json:"analysis"`
	DynamicVars    map[string]json.RawMessage `json:"conversation_initiation_client_data,omitempty"`
}

// CallMetadata is the provider-reported call metadata.
type CallMetadata struct {
	CallSID          string `json:"call_sid"`
	PhoneNumber      string `json:"phone_number"`
	CallDurationSecs int    `json:"call_duration_secs"`
	CallDirection    string `json:"call_direction"`
}

// CallAnalysis is the provider-computed post-call analysis. The service
// stores it verbatim and never recomputes any of it.
type CallAnalysis struct {
	HappinessLevel    string `json:"happiness_level"`
	TranscriptSummary string `json:"transcript_summary"`
}

// FlattenTranscript renders the transcript turns as "role: message" lines.
func (d *TerminationEventData) FlattenTranscript() string {
	if len(d.Transcript) == 0 {
		return ""
	}
	lines := make([]string, 0, len(d.Transcript))
	for _, turn := range d.Transcript {
		msg := strings.TrimSpace(turn.Message)
		if msg == "" {
			continue
		}
		lines = append(lines, turn.Role+": "+msg)
	}
	return strings.Join(lines, "\n")
}

// Direction maps the provider's call_direction string onto CallDirection,
// defaulting to inbound when the provider omits it.
func (m *CallMetadata) Direction() CallDirection {
	if strings.EqualFold(m.CallDirection, string(DirectionOutbound)) {
		return DirectionOutbound
	}
	return DirectionInbound
}
