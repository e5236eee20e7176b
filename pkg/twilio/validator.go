package twilio

import (
	"net/http"
	"net/url"

	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	twilioclient "github.com/twilio/twilio-go/client"
)

// RequestValidator checks the X-Twilio-Signature header on incoming voice
// webhooks. If no auth token is configured the validator is disabled and
// accepts everything, which keeps local development friction-free.
type RequestValidator struct {
	validator twilioclient.RequestValidator
	baseURL   string
	enabled   bool
}

// NewRequestValidator creates a validator for webhooks delivered to baseURL.
func NewRequestValidator(authToken, baseURL string) *RequestValidator {
	if authToken == "" {
		logger.Base().Warn("twilio auth token not provided, webhook signature validation disabled")
		return &RequestValidator{enabled: false}
	}
	return &RequestValidator{
		validator: twilioclient.NewRequestValidator(authToken),
		baseURL:   baseURL,
		enabled:   true,
	}
}

// IsEnabled returns whether signature validation is active.
func (v *RequestValidator) IsEnabled() bool {
	return v.enabled
}

// ValidateForm validates a form-encoded webhook request. The form must
// already be parsed.
func (v *RequestValidator) ValidateForm(r *http.Request) bool {
	if !v.enabled {
		return true
	}

	params := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		params[key] = r.PostForm.Get(key)
	}
	return v.validator.Validate(v.requestURL(r), params, r.Header.Get("X-Twilio-Signature"))
}

// requestURL reconstructs the public URL Twilio signed. Behind a proxy the
// request's own host is the pod, so the configured base URL wins.
func (v *RequestValidator) requestURL(r *http.Request) string {
	if v.baseURL == "" {
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		return scheme + "://" + r.Host + r.URL.RequestURI()
	}
	u, err := url.Parse(v.baseURL)
	if err != nil {
		return v.baseURL + r.URL.RequestURI()
	}
	u.Path = r.URL.Path
	u.RawQuery = r.URL.RawQuery
	return u.String()
}
