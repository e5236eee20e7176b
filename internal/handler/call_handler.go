package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

type initiateCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type initiateCallResponse struct {
	Status  string `json:"status"`
	CallSID string `json:"call_sid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleInitiateCall places an outbound check-in call to the path's phone
// number.
func (hm *HandlerManager) HandleInitiateCall(w http.ResponseWriter, r *http.Request) {
	phoneNumber := domain.NormalizePhoneNumber(mux.Vars(r)["phone_number"])
	hm.initiateCall(w, r, phoneNumber)
}

// HandleInitiateCallPost is the JSON-body variant of call initiation.
func (hm *HandlerManager) HandleInitiateCallPost(w http.ResponseWriter, r *http.Request) {
	var req initiateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	hm.initiateCall(w, r, domain.NormalizePhoneNumber(req.PhoneNumber))
}

func (hm *HandlerManager) initiateCall(w http.ResponseWriter, r *http.Request, phoneNumber string) {
	if phoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, initiateCallResponse{
			Status: "error", Error: "phone_number is required",
		})
		return
	}

	callSID, err := hm.bridgeSvc.InitiateOutbound(r.Context(), phoneNumber)
	if err != nil {
		var initErr *domain.InitiationError
		status := http.StatusBadGateway
		if errors.As(err, &initErr) && initErr.StatusCode >= 400 && initErr.StatusCode < 500 {
			status = http.StatusUnprocessableEntity
		}
		logger.Base().Warn("outbound initiation failed",
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
		writeJSON(w, status, initiateCallResponse{Status: "error", Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, initiateCallResponse{Status: "initiated", CallSID: callSID})
}

// HandleCallerName looks up the display name for a phone number, falling
// back to the generic greeting name.
func (hm *HandlerManager) HandleCallerName(w http.ResponseWriter, r *http.Request) {
	phoneNumber := domain.NormalizePhoneNumber(r.URL.Query().Get("phone_number"))
	if phoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	prof := hm.resolver.Resolve(r.Context(), phoneNumber)
	writeJSON(w, http.StatusOK, map[string]string{
		"phone_number": phoneNumber,
		"caller_name":  prof.CallerName(),
	})
}

// profileResponse is the API view of a care profile, without row IDs and
// audit timestamps.
type profileResponse struct {
	CallerName  string `json:"caller_name"`
	PhoneNumber string `json:"phone_number"`
	LovedOne    struct {
		Name         string `json:"name"`
		Nickname     string `json:"nickname,omitempty"`
		Relationship string `json:"relationship,omitempty"`
	} `json:"loved_one"`
	Medications []struct {
		Name      string `json:"name"`
		Dosage    string `json:"dosage,omitempty"`
		TimeOfDay string `json:"time_of_day"`
	} `json:"medications"`
	Preferences struct {
		CallDurationMinutes int    `json:"call_duration_minutes"`
		VoiceSpeed          string `json:"voice_speed"`
		AskAboutMedications bool   `json:"ask_about_medications"`
		AskAboutMeals       bool   `json:"ask_about_meals"`
		AskAboutMood        bool   `json:"ask_about_mood"`
		AskAboutSleep       bool   `json:"ask_about_sleep"`
	} `json:"preferences"`
	Appointments []struct {
		Title       string    `json:"title"`
		Location    string    `json:"location,omitempty"`
		ScheduledAt time.Time `json:"scheduled_at"`
	} `json:"appointments"`
	Fallback bool `json:"fallback"`
}

// HandleProfile returns the structured care profile for a phone number.
func (hm *HandlerManager) HandleProfile(w http.ResponseWriter, r *http.Request) {
	phoneNumber := domain.NormalizePhoneNumber(mux.Vars(r)["phone_number"])
	if phoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	prof := hm.resolver.Resolve(r.Context(), phoneNumber)

	var resp profileResponse
	if err := copier.Copy(&resp, prof); err != nil {
		logger.Base().Error("profile mapping failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp.CallerName = prof.CallerName()
	resp.PhoneNumber = prof.User.PhoneNumber

	writeJSON(w, http.StatusOK, resp)
}

// HandleActiveSessions lists live call sessions on this pod.
func (hm *HandlerManager) HandleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions := hm.registry.All()
	snapshots := make([]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		snapshots = append(snapshots, sess.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instance_id": hm.cfg.InstanceID,
		"count":       len(snapshots),
		"sessions":    snapshots,
	})
}

// HandleStatus reports service identity and live session count.
func (hm *HandlerManager) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":         "carecall-voice-service",
		"instance_id":     hm.cfg.InstanceID,
		"active_sessions": hm.registry.Len(),
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleHealth is the liveness probe. It pings the database when one is
// configured.
func (hm *HandlerManager) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if hm.repoManager != nil {
		if err := hm.repoManager.Ping(r.Context()); err != nil {
			logger.Base().Error("health check database ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded", "database": "unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Base().Error("response encode failed", zap.Error(err))
	}
}
