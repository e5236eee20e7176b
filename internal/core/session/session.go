package session

import (
	"context"
	"sync"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"go.uber.org/zap"
)

// CallSession is the in-memory state for one live call, keyed by the Twilio
// CallSid. Identity fields are set at creation and never change; everything
// else is guarded by the session mutex.
type CallSession struct {
	CallID      string
	Direction   domain.CallDirection
	PhoneNumber string
	CreatedAt   time.Time

	mu          sync.RWMutex
	state       State
	streamSID   string
	connectedAt time.Time
	endedAt     time.Time

	transcript    string
	metadata      domain.CallMetadata
	terminated    bool
	transcriptSet bool

	cancelRelay context.CancelFunc
}

// newCallSession is only called by the registry under its lock.
func newCallSession(callID string, direction domain.CallDirection, phoneNumber string) *CallSession {
	return &CallSession{
		CallID:      callID,
		Direction:   direction,
		PhoneNumber: phoneNumber,
		CreatedAt:   time.Now(),
		state:       StatePending,
	}
}

// State returns the current lifecycle state.
func (s *CallSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transition moves the session to the next lifecycle state. Illegal
// transitions return domain.ErrInvalidTransition and leave the session
// untouched; callers log and continue. Entering StateStreaming stamps
// ConnectedAt, entering a terminal state stamps EndedAt, each at most once.
func (s *CallSession) Transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.allowed(next) {
		return domain.ErrInvalidTransition
	}

	prev := s.state
	s.state = next

	now := time.Now()
	if next == StateStreaming && s.connectedAt.IsZero() {
		s.connectedAt = now
	}
	if next.Terminal() && s.endedAt.IsZero() {
		s.endedAt = now
	}

	logger.Base().Info("call state transition",
		zap.String("call_id", s.CallID),
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
	return nil
}

// ConnectedAt returns when audio streaming began, zero if it never did.
func (s *CallSession) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// EndedAt returns when the session reached a terminal state.
func (s *CallSession) EndedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt
}

// SetStreamSID records the Twilio media stream SID once known.
func (s *CallSession) SetStreamSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamSID == "" {
		s.streamSID = sid
	}
}

// StreamSID returns the Twilio media stream SID, empty until the stream starts.
func (s *CallSession) StreamSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSID
}

// SetCancelRelay installs the cancel function for the session's running relay.
func (s *CallSession) SetCancelRelay(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRelay = cancel
}

// CancelRelay cancels the running relay, if any. Safe to call repeatedly.
func (s *CallSession) CancelRelay() {
	s.mu.Lock()
	cancel := s.cancelRelay
	s.cancelRelay = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ApplyTermination records the authenticated transcript and metadata.
// Write-once: a second delivery returns domain.ErrTranscriptAlreadySet and
// changes nothing. An empty transcript still counts as a delivery but does
// not mark the session as having a transcript. Returns true when a
// conversation record should be persisted (first application with a
// non-empty transcript).
func (s *CallSession) ApplyTermination(transcript string, metadata domain.CallMetadata) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return false, domain.ErrTranscriptAlreadySet
	}
	s.terminated = true
	s.metadata = metadata
	if transcript == "" {
		return false, nil
	}
	s.transcript = transcript
	s.transcriptSet = true
	return true, nil
}

// Transcript returns the recorded transcript and whether one was recorded.
func (s *CallSession) Transcript() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript, s.transcriptSet
}

// Metadata returns the recorded termination metadata.
func (s *CallSession) Metadata() domain.CallMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// Snapshot is a point-in-time copy of the session for ops listings.
type Snapshot struct {
	CallID        string               `json:"call_id"`
	Direction     domain.CallDirection `json:"direction"`
	PhoneNumber   string               `json:"phone_number"`
	State         State                `json:"state"`
	StreamSID     string               `json:"stream_sid,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	ConnectedAt   *time.Time           `json:"connected_at,omitempty"`
	EndedAt       *time.Time           `json:"ended_at,omitempty"`
	HasTranscript bool                 `json:"has_transcript"`
}

// Snapshot returns a copy of the observable session state.
func (s *CallSession) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		CallID:        s.CallID,
		Direction:     s.Direction,
		PhoneNumber:   s.PhoneNumber,
		State:         s.state,
		StreamSID:     s.streamSID,
		CreatedAt:     s.CreatedAt,
		HasTranscript: s.transcriptSet,
	}
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		snap.ConnectedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}
