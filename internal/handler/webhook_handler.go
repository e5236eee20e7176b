package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/internal/services/profile"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"go.uber.org/zap"
)

// conversationInitiationRequest is the provider's context-fetch callback
// body. The caller number arrives under caller_id.
type conversationInitiationRequest struct {
	CallerID       string `json:"caller_id"`
	AgentID        string `json:"agent_id"`
	CalledNumber   string `json:"called_number"`
	CallSID        string `json:"call_sid"`
	ConversationID string `json:"conversation_id"`
}

// conversationInitiationResponse is the synchronous reply injecting the
// caller's dynamic variables.
type conversationInitiationResponse struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

// HandleConversationInitiation serves the provider's context-fetch
// callback. It must answer fast: resolution is cache-backed and falls back
// to the generic profile, never blocking on long work.
func (hm *HandlerManager) HandleConversationInitiation(w http.ResponseWriter, r *http.Request) {
	var req conversationInitiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Base().Warn("bad conversation initiation body", zap.Error(err))
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	phoneNumber := domain.NormalizePhoneNumber(req.CallerID)

	// Correlate to the live session when possible; the callback carries
	// the caller number, not our call SID.
	if sess, err := hm.registry.GetByPhone(phoneNumber); err == nil {
		logger.Base().Info("conversation initiation correlated",
			zap.String("call_id", sess.CallID),
			zap.String("phone_number", phoneNumber))
	}

	prof := hm.resolver.Resolve(r.Context(), phoneNumber)
	vars := profile.BuildDynamicVariables(prof, time.Now())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conversationInitiationResponse{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: vars,
	})
}

// HandleCallEnd receives the signed post-call termination webhook. The
// signature gates everything: a failed verification is logged and
// discarded without touching any session.
func (hm *HandlerManager) HandleCallEnd(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("ElevenLabs-Signature")
	if err := hm.authenticator.Verify(body, signature); err != nil {
		logger.Base().Warn("call-end webhook rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.TerminationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Base().Warn("unparseable call-end payload", zap.Error(err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if event.Type != "post_call_transcription" {
		logger.Base().Info("ignoring call-end event type", zap.String("type", event.Type))
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := hm.bridgeSvc.ApplyTermination(r.Context(), &event); err != nil {
		logger.Base().Error("termination apply failed", zap.Error(err))
		http.Error(w, "termination apply failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
