package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/config"
	"github.com/carelinkhq/carecall-voice-service/internal/core/session"
	"github.com/carelinkhq/carecall-voice-service/internal/core/webhook"
	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/internal/services/bridge"
	"github.com/carelinkhq/carecall-voice-service/internal/services/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "wsec_testsecret"

type recordStore struct {
	mu    sync.Mutex
	saved []*domain.Conversation
}

func (r *recordStore) SaveConversation(_ context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, conv)
	return nil
}

func (r *recordStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func newTestHandlerManager(store bridge.ConversationStore) (*HandlerManager, *session.Registry) {
	registry := session.NewRegistry()
	resolver := profile.NewResolver(nil, nil, 0)
	svc := bridge.NewService(registry, resolver, nil, nil, store, nil, bridge.Config{})

	hm := &HandlerManager{
		cfg:           &config.Config{InstanceID: "test-pod"},
		registry:      registry,
		bridgeSvc:     svc,
		resolver:      resolver,
		authenticator: webhook.NewAuthenticator(testWebhookSecret),
	}
	return hm, registry
}

func signedCallEndRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := fmt.Sprintf("t=%s,v0=%s", ts, webhook.Sign([]byte(testWebhookSecret), ts, payload))

	req := httptest.NewRequest(http.MethodPost, "/twilio/call-end", bytes.NewReader(payload))
	req.Header.Set("ElevenLabs-Signature", sig)
	return req
}

func terminationPayload(callSID string) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "post_call_transcription",
		"data": map[string]interface{}{
			"conversation_id": "conv_001",
			"transcript": []map[string]string{
				{"role": "agent", "message": "Hello"},
			},
			"metadata": map[string]interface{}{
				"call_sid":           callSID,
				"phone_number":       "+15551234567",
				"call_duration_secs": 42,
			},
		},
	})
	return data
}

func TestHandleCallEndRejectsInvalidSignature(t *testing.T) {
	store := &recordStore{}
	hm, registry := newTestHandlerManager(store)

	sess, _ := registry.Create("CA123", domain.DirectionInbound, "+15551234567")

	req := httptest.NewRequest(http.MethodPost, "/twilio/call-end",
		bytes.NewReader(terminationPayload("CA123")))
	req.Header.Set("ElevenLabs-Signature", "t=1700000000,v0=deadbeef")

	rec := httptest.NewRecorder()
	hm.HandleCallEnd(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a rejected payload never touches the session
	assert.Equal(t, session.StatePending, sess.State())
	_, ok := sess.Transcript()
	assert.False(t, ok)
	assert.Equal(t, 0, store.count())
}

func TestHandleCallEndMissingSignature(t *testing.T) {
	hm, _ := newTestHandlerManager(&recordStore{})

	req := httptest.NewRequest(http.MethodPost, "/twilio/call-end",
		bytes.NewReader(terminationPayload("CA123")))
	rec := httptest.NewRecorder()
	hm.HandleCallEnd(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCallEndAppliesTermination(t *testing.T) {
	store := &recordStore{}
	hm, registry := newTestHandlerManager(store)

	sess, _ := registry.Create("CA123", domain.DirectionInbound, "+15551234567")

	rec := httptest.NewRecorder()
	hm.HandleCallEnd(rec, signedCallEndRequest(t, terminationPayload("CA123")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sess.State().Terminal())

	transcript, ok := sess.Transcript()
	require.True(t, ok)
	assert.Equal(t, "agent: Hello", transcript)
	assert.Equal(t, 1, store.count())
}

func TestHandleCallEndIgnoresOtherEventTypes(t *testing.T) {
	store := &recordStore{}
	hm, _ := newTestHandlerManager(store)

	payload, _ := json.Marshal(map[string]interface{}{
		"type": "post_call_audio",
		"data": map[string]interface{}{},
	})

	rec := httptest.NewRecorder()
	hm.HandleCallEnd(rec, signedCallEndRequest(t, payload))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, store.count())
}

func TestHandleConversationInitiation(t *testing.T) {
	hm, registry := newTestHandlerManager(&recordStore{})
	registry.Create("CA123", domain.DirectionInbound, "+15551234567")

	body, _ := json.Marshal(map[string]string{
		"caller_id": "+1 (555) 123-4567",
		"agent_id":  "agent_1",
		"call_sid":  "CA123",
	})
	req := httptest.NewRequest(http.MethodPost, "/twilio/conversation-initiation", bytes.NewReader(body))

	rec := httptest.NewRecorder()
	hm.HandleConversationInitiation(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Type             string            `json:"type"`
		DynamicVariables map[string]string `json:"dynamic_variables"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conversation_initiation_client_data", resp.Type)
	assert.Equal(t, "Valued Customer", resp.DynamicVariables["caller_name"])
	assert.NotEmpty(t, resp.DynamicVariables["time_of_day"])
}
