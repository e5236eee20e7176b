package bridge

import (
	"context"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/core/relay"
	"github.com/carelinkhq/carecall-voice-service/internal/core/session"
	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/internal/services/profile"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"go.uber.org/zap"
)

// Resolver resolves care profiles for callers. Resolution never fails hard.
type Resolver interface {
	Resolve(ctx context.Context, phoneNumber string) *domain.CareProfile
}

// AgentDialer opens a conversational agent transport with per-caller
// dynamic variables already injected.
type AgentDialer interface {
	Dial(ctx context.Context, dynamicVariables map[string]string) (relay.Transport, error)
}

// Initiator places outbound calls with the provider.
type Initiator interface {
	Initiate(ctx context.Context, phoneNumber string, dynamicVariables map[string]string) (string, error)
}

// ConversationStore persists completed call records.
type ConversationStore interface {
	SaveConversation(ctx context.Context, conversation *domain.Conversation) error
}

// Service orchestrates the full call lifecycle: session registration,
// profile resolution, agent dialing, the audio relay, and termination
// handling. It owns the state machine transitions; handlers only feed it
// events.
type Service struct {
	registry  *session.Registry
	resolver  Resolver
	dialer    AgentDialer
	initiator Initiator
	store     ConversationStore
	monitor   *session.Monitor

	queueLimit   int
	drainTimeout time.Duration
}

// Config tunes relay behavior per call.
type Config struct {
	QueueLimit   int
	DrainTimeout time.Duration
}

// NewService wires the orchestrator. monitor may be nil when Redis is not
// configured.
func NewService(registry *session.Registry, resolver Resolver, dialer AgentDialer,
	initiator Initiator, store ConversationStore, monitor *session.Monitor, cfg Config) *Service {
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = relay.DefaultQueueLimit
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = relay.DefaultDrainTimeout
	}
	return &Service{
		registry:     registry,
		resolver:     resolver,
		dialer:       dialer,
		initiator:    initiator,
		store:        store,
		monitor:      monitor,
		queueLimit:   cfg.QueueLimit,
		drainTimeout: cfg.DrainTimeout,
	}
}

// Registry exposes the session registry for ops listings.
func (s *Service) Registry() *session.Registry {
	return s.registry
}

// HandleInboundCall registers a session for an inbound call webhook.
// Duplicate deliveries attach to the existing session.
func (s *Service) HandleInboundCall(ctx context.Context, callID, phoneNumber string) (*session.CallSession, error) {
	if callID == "" {
		return nil, domain.ErrSessionNotFound
	}

	sess, created := s.registry.CreateOrAttach(callID, domain.DirectionInbound, phoneNumber)
	if !created {
		logger.Base().Info("duplicate inbound webhook, attaching to existing session",
			zap.String("call_id", callID))
		return sess, nil
	}

	s.registerMonitor(sess)
	return sess, nil
}

// AttachTelephony marks the telephony leg as present (PENDING to RINGING).
// An invalid transition is a benign duplicate and is only logged.
func (s *Service) AttachTelephony(sess *session.CallSession) {
	if err := sess.Transition(session.StateRinging); err != nil {
		logger.Base().Warn("telephony attach ignored",
			zap.String("call_id", sess.CallID),
			zap.String("state", sess.State().String()),
			zap.Error(err))
	}
}

// StartAgentStream resolves the caller's context, dials the agent, and
// runs the relay until the call ends. It blocks for the duration of the
// call; callers run it on the media-stream handler goroutine.
func (s *Service) StartAgentStream(ctx context.Context, sess *session.CallSession, telephony relay.Transport) error {
	if err := sess.Transition(session.StateConnecting); err != nil {
		logger.Base().Warn("cannot start agent stream",
			zap.String("call_id", sess.CallID),
			zap.String("state", sess.State().String()))
		_ = telephony.Close()
		return err
	}

	prof := s.resolver.Resolve(ctx, sess.PhoneNumber)
	vars := profile.BuildDynamicVariables(prof, time.Now())

	agent, err := s.dialer.Dial(ctx, vars)
	if err != nil {
		logger.Base().Error("agent dial failed",
			zap.String("call_id", sess.CallID),
			zap.Error(err))
		_ = sess.Transition(session.StateFailed)
		_ = telephony.Close()
		s.finishSession(sess)
		return err
	}

	if err := sess.Transition(session.StateStreaming); err != nil {
		_ = telephony.Close()
		_ = agent.Close()
		return err
	}

	relayCtx, cancel := context.WithCancel(ctx)
	sess.SetCancelRelay(cancel)
	defer cancel()

	run := relay.New(sess.CallID, telephony, agent,
		relay.WithQueueLimit(s.queueLimit),
		relay.WithDrainTimeout(s.drainTimeout))
	cause, runErr := run.Run(relayCtx)

	s.HandleRelayStopped(sess, cause, runErr)
	return nil
}

// HandleRelayStopped drives the session into its terminal state after the
// relay finishes. A stop frame or cancellation ends the call normally; a
// transport error without a stop frame fails it.
func (s *Service) HandleRelayStopped(sess *session.CallSession, cause relay.Cause, err error) {
	if cause == relay.CauseTransportError {
		logger.Base().Warn("relay stopped on transport error",
			zap.String("call_id", sess.CallID),
			zap.Error(err))
		_ = sess.Transition(session.StateFailed)
	} else {
		_ = sess.Transition(session.StateEnding)
		_ = sess.Transition(session.StateEnded)
	}
	s.finishSession(sess)
}

// ApplyTermination applies an authenticated termination payload to the
// session it names. Transcript and metadata are write-once; a duplicate
// delivery is a logged no-op. Exactly one conversation record is persisted
// per session that ended with a transcript.
func (s *Service) ApplyTermination(ctx context.Context, event *domain.TerminationEvent) error {
	callID := event.Data.Metadata.CallSID
	if callID == "" {
		callID = event.Data.ConversationID
	}

	transcript := event.Data.FlattenTranscript()

	sess, err := s.registry.Get(callID)
	if err != nil {
		// Session already reaped or owned by another pod; persist directly,
		// the store dedupes by call sid.
		logger.Base().Warn("termination for unknown session",
			zap.String("call_id", callID))
		if transcript == "" {
			return nil
		}
		return s.store.SaveConversation(ctx, conversationRecord(callID, nil, event, transcript))
	}

	// The provider can deliver termination before the stop frame lands,
	// or before streaming ever started. Either way the call is over: stop
	// the relay and drive the session terminal.
	sess.CancelRelay()
	if !sess.State().Terminal() {
		_ = sess.Transition(session.StateEnding)
		_ = sess.Transition(session.StateEnded)
	}

	shouldSave, applyErr := sess.ApplyTermination(transcript, event.Data.Metadata)
	if applyErr == domain.ErrTranscriptAlreadySet {
		logger.Base().Info("duplicate termination payload ignored",
			zap.String("call_id", callID))
		return nil
	}

	if !shouldSave {
		return nil
	}
	return s.store.SaveConversation(ctx, conversationRecord(callID, sess, event, transcript))
}

// InitiateOutbound places an outbound call and registers its session keyed
// by the returned call SID. No session exists if the provider rejects.
func (s *Service) InitiateOutbound(ctx context.Context, phoneNumber string) (string, error) {
	prof := s.resolver.Resolve(ctx, phoneNumber)
	vars := profile.BuildDynamicVariables(prof, time.Now())

	callID, err := s.initiator.Initiate(ctx, phoneNumber, vars)
	if err != nil {
		return "", err
	}

	sess, created := s.registry.CreateOrAttach(callID, domain.DirectionOutbound, phoneNumber)
	if created {
		s.registerMonitor(sess)
	}
	return callID, nil
}

// Shutdown cancels every running relay, drives sessions terminal, and
// evicts them. Other pods are told so cross-pod session listings stay
// accurate. Used on process exit.
func (s *Service) Shutdown(ctx context.Context) {
	for _, sess := range s.registry.All() {
		sess.CancelRelay()
		if !sess.State().Terminal() {
			_ = sess.Transition(session.StateEnding)
			_ = sess.Transition(session.StateEnded)
		}
		s.unregisterMonitor(sess)
		if s.monitor != nil {
			_ = s.monitor.NotifyCleanup(ctx, sess.CallID)
		}
		s.registry.Remove(sess.CallID)
	}
	logger.Base().Info("bridge shutdown complete")
}

// HandleRemoteCleanup evicts a session another pod has already cleaned up.
// A no-op when the call is unknown here.
func (s *Service) HandleRemoteCleanup(callID string) {
	sess, err := s.registry.Get(callID)
	if err != nil {
		return
	}
	sess.CancelRelay()
	if !sess.State().Terminal() {
		_ = sess.Transition(session.StateEnding)
		_ = sess.Transition(session.StateEnded)
	}
	s.registry.Remove(callID)
	logger.Base().Info("session evicted by remote cleanup",
		zap.String("call_id", callID))
}

// StartReaper evicts terminal sessions older than maxAge so late
// termination webhooks have a window to land before eviction.
func (s *Service) StartReaper(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reapOnce(maxAge)
			}
		}
	}()
}

func (s *Service) reapOnce(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	for _, sess := range s.registry.All() {
		if !sess.State().Terminal() {
			continue
		}
		endedAt := sess.EndedAt()
		if endedAt.IsZero() || endedAt.After(cutoff) {
			continue
		}
		s.registry.Remove(sess.CallID)
		logger.Base().Info("reaped terminal session",
			zap.String("call_id", sess.CallID),
			zap.String("state", sess.State().String()))
	}
}

// finishSession handles post-terminal bookkeeping without evicting the
// session, so a late termination webhook can still find it.
func (s *Service) finishSession(sess *session.CallSession) {
	s.unregisterMonitor(sess)
}

func (s *Service) registerMonitor(sess *session.CallSession) {
	if s.monitor == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.monitor.Register(ctx, session.SessionInfo{
			CallID:      sess.CallID,
			PhoneNumber: sess.PhoneNumber,
			Direction:   string(sess.Direction),
			StartTime:   sess.CreatedAt,
		}); err != nil {
			logger.Base().Warn("session monitor register failed",
				zap.String("call_id", sess.CallID),
				zap.Error(err))
		}
	}()
}

func (s *Service) unregisterMonitor(sess *session.CallSession) {
	if s.monitor == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.monitor.Unregister(ctx, sess.CallID); err != nil {
			logger.Base().Warn("session monitor unregister failed",
				zap.String("call_id", sess.CallID),
				zap.Error(err))
		}
	}()
}

// conversationRecord builds the persisted record from the termination
// payload, preferring session identity when a session is known.
func conversationRecord(callID string, sess *session.CallSession, event *domain.TerminationEvent, transcript string) *domain.Conversation {
	rec := &domain.Conversation{
		CallSID:         callID,
		ContactNumber:   event.Data.Metadata.PhoneNumber,
		Direction:       event.Data.Metadata.Direction(),
		Transcript:      transcript,
		DurationSeconds: event.Data.Metadata.CallDurationSecs,
		HappinessLevel:  event.Data.Analysis.HappinessLevel,
		EndedAt:         time.Now(),
	}
	if sess != nil {
		if rec.ContactNumber == "" {
			rec.ContactNumber = sess.PhoneNumber
		}
		rec.Direction = sess.Direction
		rec.StartedAt = sess.CreatedAt
		if connectedAt := sess.ConnectedAt(); !connectedAt.IsZero() {
			rec.StartedAt = connectedAt
		}
		if endedAt := sess.EndedAt(); !endedAt.IsZero() {
			rec.EndedAt = endedAt
		}
	}
	return rec
}
