package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/core/relay"
	"github.com/carelinkhq/carecall-voice-service/internal/core/session"
	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, phoneNumber string) *domain.CareProfile {
	f.calls++
	return domain.FallbackProfile(phoneNumber)
}

type fakeTransport struct {
	in chan relay.Frame

	mu      sync.Mutex
	written []relay.Frame

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan relay.Frame, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame(ctx context.Context) (relay.Frame, error) {
	select {
	case <-ctx.Done():
		return relay.Frame{}, ctx.Err()
	case <-f.closed:
		return relay.Frame{}, io.ErrClosedPipe
	case frame, ok := <-f.in:
		if !ok {
			return relay.Frame{}, io.EOF
		}
		return frame, nil
	}
}

func (f *fakeTransport) WriteFrame(ctx context.Context, frame relay.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	transport relay.Transport
	err       error
	lastVars  map[string]string
}

func (f *fakeDialer) Dial(_ context.Context, vars map[string]string) (relay.Transport, error) {
	f.lastVars = vars
	if f.err != nil {
		return nil, f.err
	}
	return f.transport, nil
}

type fakeInitiator struct {
	callID string
	err    error
}

func (f *fakeInitiator) Initiate(_ context.Context, _ string, _ map[string]string) (string, error) {
	return f.callID, f.err
}

type recordingStore struct {
	mu    sync.Mutex
	saved []*domain.Conversation
}

func (r *recordingStore) SaveConversation(_ context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, conv)
	return nil
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func newTestService(dialer *fakeDialer, initiator *fakeInitiator, store *recordingStore) (*Service, *session.Registry) {
	registry := session.NewRegistry()
	svc := NewService(registry, &fakeResolver{}, dialer, initiator, store, nil, Config{})
	return svc, registry
}

func terminationEvent(callSID, transcript string) *domain.TerminationEvent {
	event := &domain.TerminationEvent{
		Type: "post_call_transcription",
		Data: domain.TerminationEventData{
			ConversationID: "conv_001",
			Metadata: domain.CallMetadata{
				CallSID:          callSID,
				PhoneNumber:      "+15551234567",
				CallDurationSecs: 42,
			},
			Analysis: domain.CallAnalysis{HappinessLevel: "content"},
		},
	}
	if transcript != "" {
		event.Data.Transcript = []domain.TranscriptTurn{
			{Role: "agent", Message: transcript},
		}
	}
	return event
}

func TestInboundCallFullLifecycle(t *testing.T) {
	telephony := newFakeTransport()
	agent := newFakeTransport()
	dialer := &fakeDialer{transport: agent}
	store := &recordingStore{}
	svc, _ := newTestService(dialer, &fakeInitiator{}, store)

	sess, err := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, session.StatePending, sess.State())

	svc.AttachTelephony(sess)
	assert.Equal(t, session.StateRinging, sess.State())

	telephony.in <- relay.Frame{Kind: relay.KindStart}
	telephony.in <- relay.Frame{Kind: relay.KindAudio, Payload: []byte{1}}
	telephony.in <- relay.Frame{Kind: relay.KindStop}

	require.NoError(t, svc.StartAgentStream(context.Background(), sess, telephony))

	assert.Equal(t, session.StateEnded, sess.State())
	assert.True(t, telephony.isClosed())
	assert.True(t, agent.isClosed())

	// the agent prompt context was injected at dial time
	assert.Equal(t, "Valued Customer", dialer.lastVars["caller_name"])

	// no transcript yet, nothing persisted until the termination webhook
	_, ok := sess.Transcript()
	assert.False(t, ok)
	assert.Equal(t, 0, store.count())
}

func TestInboundCallDuplicateWebhookAttaches(t *testing.T) {
	svc, registry := newTestService(&fakeDialer{}, &fakeInitiator{}, &recordingStore{})

	first, err := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	require.NoError(t, err)
	second, err := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, registry.Len())
}

func TestStartAgentStreamDialFailure(t *testing.T) {
	telephony := newFakeTransport()
	dialer := &fakeDialer{err: errors.New("agent unreachable")}
	svc, _ := newTestService(dialer, &fakeInitiator{}, &recordingStore{})

	sess, err := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	require.NoError(t, err)
	svc.AttachTelephony(sess)

	err = svc.StartAgentStream(context.Background(), sess, telephony)
	assert.Error(t, err)
	assert.Equal(t, session.StateFailed, sess.State())
	assert.True(t, telephony.isClosed())
}

func TestHandleRelayStoppedTransportError(t *testing.T) {
	svc, _ := newTestService(&fakeDialer{}, &fakeInitiator{}, &recordingStore{})

	sess, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	svc.AttachTelephony(sess)
	require.NoError(t, sess.Transition(session.StateConnecting))
	require.NoError(t, sess.Transition(session.StateStreaming))

	svc.HandleRelayStopped(sess, relay.CauseTransportError, io.ErrUnexpectedEOF)
	assert.Equal(t, session.StateFailed, sess.State())
}

func TestApplyTerminationPersistsOnce(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newTestService(&fakeDialer{}, &fakeInitiator{}, store)

	sess, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	svc.AttachTelephony(sess)
	require.NoError(t, sess.Transition(session.StateConnecting))
	require.NoError(t, sess.Transition(session.StateStreaming))
	svc.HandleRelayStopped(sess, relay.CauseTelephonyStop, nil)

	event := terminationEvent("CA123", "hello, how are you today?")
	require.NoError(t, svc.ApplyTermination(context.Background(), event))

	require.Equal(t, 1, store.count())
	saved := store.saved[0]
	assert.Equal(t, "CA123", saved.CallSID)
	assert.Equal(t, "agent: hello, how are you today?", saved.Transcript)
	assert.Equal(t, domain.DirectionInbound, saved.Direction)
	assert.Equal(t, 42, saved.DurationSeconds)
	assert.Equal(t, "content", saved.HappinessLevel)

	transcript, ok := sess.Transcript()
	assert.True(t, ok)
	assert.Equal(t, "agent: hello, how are you today?", transcript)

	// duplicate delivery is a no-op
	require.NoError(t, svc.ApplyTermination(context.Background(), event))
	assert.Equal(t, 1, store.count())
}

func TestApplyTerminationBeforeStopFrame(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newTestService(&fakeDialer{}, &fakeInitiator{}, store)

	sess, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	svc.AttachTelephony(sess)
	require.NoError(t, sess.Transition(session.StateConnecting))
	require.NoError(t, sess.Transition(session.StateStreaming))

	require.NoError(t, svc.ApplyTermination(context.Background(), terminationEvent("CA123", "goodbye")))

	assert.Equal(t, session.StateEnded, sess.State(), "early termination drives the session terminal")
	assert.Equal(t, 1, store.count())
}

func TestApplyTerminationCancelsRelay(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newTestService(&fakeDialer{}, &fakeInitiator{}, store)

	sess, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	svc.AttachTelephony(sess)
	require.NoError(t, sess.Transition(session.StateConnecting))
	require.NoError(t, sess.Transition(session.StateStreaming))

	canceled := false
	sess.SetCancelRelay(func() { canceled = true })

	require.NoError(t, svc.ApplyTermination(context.Background(), terminationEvent("CA123", "goodbye")))

	assert.True(t, canceled, "termination must stop both forwarding directions")
	assert.Equal(t, session.StateEnded, sess.State())
}

func TestApplyTerminationWhilePendingEndsSession(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newTestService(&fakeDialer{}, &fakeInitiator{}, store)

	// The provider can finish and deliver its webhook before the media
	// stream ever connects.
	sess, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	require.Equal(t, session.StatePending, sess.State())

	canceled := false
	sess.SetCancelRelay(func() { canceled = true })

	require.NoError(t, svc.ApplyTermination(context.Background(), terminationEvent("CA123", "hello")))

	assert.Equal(t, session.StateEnded, sess.State())
	assert.True(t, canceled)
	assert.Equal(t, 1, store.count())
}

func TestApplyTerminationUnknownSession(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newTestService(&fakeDialer{}, &fakeInitiator{}, store)

	require.NoError(t, svc.ApplyTermination(context.Background(), terminationEvent("CA404", "hello")))
	require.Equal(t, 1, store.count())
	assert.Equal(t, "CA404", store.saved[0].CallSID)
	assert.Equal(t, "+15551234567", store.saved[0].ContactNumber)

	// no transcript means nothing worth keeping
	require.NoError(t, svc.ApplyTermination(context.Background(), terminationEvent("CA405", "")))
	assert.Equal(t, 1, store.count())
}

func TestApplyTerminationEmptyTranscriptDoesNotPersist(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newTestService(&fakeDialer{}, &fakeInitiator{}, store)

	sess, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	svc.AttachTelephony(sess)

	require.NoError(t, svc.ApplyTermination(context.Background(), terminationEvent("CA123", "")))
	assert.Equal(t, 0, store.count())
	assert.Equal(t, session.StateEnded, sess.State())
}

func TestInitiateOutbound(t *testing.T) {
	svc, registry := newTestService(&fakeDialer{}, &fakeInitiator{callID: "CA999"}, &recordingStore{})

	callID, err := svc.InitiateOutbound(context.Background(), "+15559876543")
	require.NoError(t, err)
	assert.Equal(t, "CA999", callID)

	sess, err := registry.Get("CA999")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionOutbound, sess.Direction)
	assert.Equal(t, "+15559876543", sess.PhoneNumber)
}

func TestInitiateOutboundProviderRejects(t *testing.T) {
	initiator := &fakeInitiator{err: &domain.InitiationError{StatusCode: 422, Reason: "unverified number"}}
	svc, registry := newTestService(&fakeDialer{}, initiator, &recordingStore{})

	_, err := svc.InitiateOutbound(context.Background(), "+15559876543")
	require.Error(t, err)

	var initErr *domain.InitiationError
	assert.True(t, errors.As(err, &initErr))
	assert.Equal(t, 0, registry.Len(), "no session when the provider rejects")
}

func TestShutdownCancelsAndEvicts(t *testing.T) {
	svc, registry := newTestService(&fakeDialer{}, &fakeInitiator{}, &recordingStore{})

	sess, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	canceled := false
	sess.SetCancelRelay(func() { canceled = true })

	svc.Shutdown(context.Background())
	assert.True(t, canceled)
	assert.Equal(t, 0, registry.Len())
}

func TestHandleRemoteCleanup(t *testing.T) {
	svc, registry := newTestService(&fakeDialer{}, &fakeInitiator{}, &recordingStore{})

	sess, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	canceled := false
	sess.SetCancelRelay(func() { canceled = true })

	svc.HandleRemoteCleanup("CA123")
	assert.True(t, canceled)
	assert.True(t, sess.State().Terminal())
	assert.Equal(t, 0, registry.Len())

	// unknown call is a no-op
	svc.HandleRemoteCleanup("CA404")
}

func TestReaperEvictsOnlyAgedTerminalSessions(t *testing.T) {
	svc, registry := newTestService(&fakeDialer{}, &fakeInitiator{}, &recordingStore{})

	ended, _ := svc.HandleInboundCall(context.Background(), "CA123", "+15551234567")
	require.NoError(t, ended.Transition(session.StateFailed))

	pending, _ := svc.HandleInboundCall(context.Background(), "CA456", "+15559876543")

	time.Sleep(10 * time.Millisecond)
	svc.reapOnce(time.Millisecond)

	_, err := registry.Get("CA123")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	got, err := registry.Get("CA456")
	require.NoError(t, err)
	assert.Same(t, pending, got, "live sessions are never reaped")
}
