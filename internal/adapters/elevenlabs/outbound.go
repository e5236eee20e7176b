package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultAPIBaseURL is the REST API endpoint.
const DefaultAPIBaseURL = "https://api.elevenlabs.io"

// Initiator places outbound calls through the provider's Twilio
// integration. Requests are rate limited so a batch of scheduled check-ins
// cannot exhaust the provider quota.
type Initiator struct {
	baseURL            string
	apiKey             string
	agentID            string
	agentPhoneNumberID string
	httpClient         *http.Client
	limiter            *rate.Limiter
}

// NewInitiator creates an outbound call initiator. rps bounds sustained
// request rate; burst allows short spikes.
func NewInitiator(baseURL, apiKey, agentID, agentPhoneNumberID string, rps float64, burst int) *Initiator {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Initiator{
		baseURL:            strings.TrimSuffix(baseURL, "/"),
		apiKey:             apiKey,
		agentID:            agentID,
		agentPhoneNumberID: agentPhoneNumberID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type outboundCallRequest struct {
	AgentID            string                  `json:"agent_id"`
	AgentPhoneNumberID string                  `json:"agent_phone_number_id"`
	ToNumber           string                  `json:"to_number"`
	ConversationData   *conversationInitiation `json:"conversation_initiation_client_data,omitempty"`
}

type conversationInitiation struct {
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type outboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSid        string `json:"callSid"`
}

// Initiate asks the provider to place a call to phoneNumber with the given
// dynamic variables. Returns the Twilio call SID that keys the session. On
// failure no session exists and the provider reason is surfaced as a
// domain.InitiationError.
func (i *Initiator) Initiate(ctx context.Context, phoneNumber string, dynamicVariables map[string]string) (string, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reqBody := outboundCallRequest{
		AgentID:            i.agentID,
		AgentPhoneNumberID: i.agentPhoneNumberID,
		ToNumber:           phoneNumber,
	}
	if len(dynamicVariables) > 0 {
		reqBody.ConversationData = &conversationInitiation{DynamicVariables: dynamicVariables}
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal outbound call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		i.baseURL+"/v1/convai/twilio/outbound-call", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build outbound call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", i.apiKey)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("outbound call request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read outbound call response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.InitiationError{
			StatusCode: resp.StatusCode,
			Reason:     strings.TrimSpace(string(body)),
		}
	}

	var parsed outboundCallResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode outbound call response: %w", err)
	}
	if !parsed.Success && parsed.Message != "" {
		return "", &domain.InitiationError{StatusCode: resp.StatusCode, Reason: parsed.Message}
	}
	if parsed.CallSid == "" {
		return "", &domain.InitiationError{StatusCode: resp.StatusCode, Reason: "provider returned no call sid"}
	}

	logger.Base().Info("outbound call initiated",
		zap.String("call_id", parsed.CallSid),
		zap.String("phone_number", phoneNumber))
	return parsed.CallSid, nil
}
