package session

import (
	"sync"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"go.uber.org/zap"
)

// Registry holds all live call sessions keyed by call SID. The mutex guards
// map operations only and is never held across I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*CallSession),
	}
}

// Create registers a new session for callID. Returns
// domain.ErrDuplicateSession if one already exists.
func (r *Registry) Create(callID string, direction domain.CallDirection, phoneNumber string) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[callID]; exists {
		return nil, domain.ErrDuplicateSession
	}

	sess := newCallSession(callID, direction, phoneNumber)
	r.sessions[callID] = sess

	logger.Base().Info("session created",
		zap.String("call_id", callID),
		zap.String("direction", string(direction)),
		zap.String("phone_number", phoneNumber),
		zap.Int("active_sessions", len(r.sessions)))
	return sess, nil
}

// CreateOrAttach registers a session for callID or returns the existing one.
// Duplicate webhook deliveries race here; both callers get the same session
// and created tells them apart.
func (r *Registry) CreateOrAttach(callID string, direction domain.CallDirection, phoneNumber string) (sess *CallSession, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.sessions[callID]; exists {
		return existing, false
	}

	sess = newCallSession(callID, direction, phoneNumber)
	r.sessions[callID] = sess
	return sess, true
}

// Get returns the session for callID, or domain.ErrSessionNotFound.
func (r *Registry) Get(callID string) (*CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[callID]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// GetByPhone returns the most recently created live session for a phone
// number. Used to correlate provider context-fetch callbacks, which carry
// the caller number but not the call SID.
func (r *Registry) GetByPhone(phoneNumber string) (*CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *CallSession
	for _, sess := range r.sessions {
		if sess.PhoneNumber != phoneNumber {
			continue
		}
		if best == nil || sess.CreatedAt.After(best.CreatedAt) {
			best = sess
		}
	}
	if best == nil {
		return nil, domain.ErrSessionNotFound
	}
	return best, nil
}

// Remove evicts the session for callID. Removing an unknown ID is a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot slice of every live session.
func (r *Registry) All() []*CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*CallSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}
