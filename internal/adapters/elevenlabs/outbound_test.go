package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiateSuccess(t *testing.T) {
	var gotReq outboundCallRequest
	var gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/convai/twilio/outbound-call", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotAPIKey = r.Header.Get("xi-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(outboundCallResponse{
			Success:        true,
			ConversationID: "conv_001",
			CallSid:        "CA999",
		})
	}))
	defer server.Close()

	initiator := NewInitiator(server.URL, "sk_test", "agent_1", "phnum_1", 10, 10)
	callSid, err := initiator.Initiate(context.Background(), "+15559876543",
		map[string]string{"caller_name": "Sarah"})
	require.NoError(t, err)
	assert.Equal(t, "CA999", callSid)

	assert.Equal(t, "sk_test", gotAPIKey)
	assert.Equal(t, "agent_1", gotReq.AgentID)
	assert.Equal(t, "phnum_1", gotReq.AgentPhoneNumberID)
	assert.Equal(t, "+15559876543", gotReq.ToNumber)
	require.NotNil(t, gotReq.ConversationData)
	assert.Equal(t, "Sarah", gotReq.ConversationData.DynamicVariables["caller_name"])
}

func TestInitiateOmitsEmptyDynamicVariables(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req outboundCallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Nil(t, req.ConversationData)

		json.NewEncoder(w).Encode(outboundCallResponse{Success: true, CallSid: "CA999"})
	}))
	defer server.Close()

	initiator := NewInitiator(server.URL, "sk_test", "agent_1", "phnum_1", 10, 10)
	_, err := initiator.Initiate(context.Background(), "+15559876543", nil)
	require.NoError(t, err)
}

func TestInitiateProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "phone number not verified"}`))
	}))
	defer server.Close()

	initiator := NewInitiator(server.URL, "sk_test", "agent_1", "phnum_1", 10, 10)
	_, err := initiator.Initiate(context.Background(), "+15559876543", nil)
	require.Error(t, err)

	var initErr *domain.InitiationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, http.StatusUnprocessableEntity, initErr.StatusCode)
	assert.Contains(t, initErr.Reason, "not verified")
}

func TestInitiateMissingCallSid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(outboundCallResponse{Success: true})
	}))
	defer server.Close()

	initiator := NewInitiator(server.URL, "sk_test", "agent_1", "phnum_1", 10, 10)
	_, err := initiator.Initiate(context.Background(), "+15559876543", nil)

	var initErr *domain.InitiationError
	require.True(t, errors.As(err, &initErr))
	assert.Contains(t, initErr.Reason, "no call sid")
}

func TestInitiateUnsuccessfulResponseMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(outboundCallResponse{Success: false, Message: "agent is busy"})
	}))
	defer server.Close()

	initiator := NewInitiator(server.URL, "sk_test", "agent_1", "phnum_1", 10, 10)
	_, err := initiator.Initiate(context.Background(), "+15559876543", nil)

	var initErr *domain.InitiationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "agent is busy", initErr.Reason)
}

func TestInitiateRespectsContextCancellation(t *testing.T) {
	// limiter rps 0.001 forces a long wait the canceled context interrupts
	initiator := NewInitiator("http://127.0.0.1:0", "sk_test", "agent_1", "phnum_1", 0.001, 1)
	_, _ = initiator.Initiate(context.Background(), "+15550000000", nil) // consumes the single burst token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := initiator.Initiate(ctx, "+15559876543", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
