package handler

import (
	"net/http"

	twilioadapter "github.com/carelinkhq/carecall-voice-service/internal/adapters/twilio"
	"github.com/carelinkhq/carecall-voice-service/internal/core/relay"
	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"go.uber.org/zap"
)

// HandleInboundCall answers the Twilio voice webhook for an incoming call.
// It registers the session and responds with TwiML connecting the call to
// our media stream. Any failure yields the apology TwiML rather than a
// plain error, so the caller hears something.
func (hm *HandlerManager) HandleInboundCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		logger.Base().Warn("bad inbound call form", zap.Error(err))
		hm.writeTwiMLFailure(w)
		return
	}

	if !hm.twilioValidator.ValidateForm(r) {
		logger.Base().Warn("inbound call failed twilio signature validation",
			zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	callSID := r.PostForm.Get("CallSid")
	from := domain.NormalizePhoneNumber(r.PostForm.Get("From"))
	if callSID == "" {
		logger.Base().Warn("inbound call without CallSid")
		hm.writeTwiMLFailure(w)
		return
	}

	sess, err := hm.bridgeSvc.HandleInboundCall(r.Context(), callSID, from)
	if err != nil {
		logger.Base().Error("inbound call registration failed",
			zap.String("call_id", callSID),
			zap.Error(err))
		hm.writeTwiMLFailure(w)
		return
	}

	logger.Base().Info("inbound call accepted",
		zap.String("call_id", sess.CallID),
		zap.String("phone_number", sess.PhoneNumber))

	response, err := twilioadapter.InboundStreamResponse(hm.cfg.MediaStreamURL())
	if err != nil {
		logger.Base().Error("twiml render failed", zap.Error(err))
		hm.writeTwiMLFailure(w)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(response))
}

// HandleMediaStream upgrades the Twilio media-stream WebSocket, waits for
// the start frame that identifies the call, and hands the transport to the
// bridge. The handler goroutine blocks for the duration of the call.
func (hm *HandlerManager) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := hm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Error("media stream upgrade failed", zap.Error(err))
		return
	}

	transport := twilioadapter.NewMediaStreamTransport(conn)

	// First meaningful frame must be the start event carrying the CallSid.
	frame, err := transport.ReadFrame(r.Context())
	if err != nil {
		logger.Base().Warn("media stream closed before start", zap.Error(err))
		_ = transport.Close()
		return
	}
	if frame.Kind != relay.KindStart {
		logger.Base().Warn("media stream sent unexpected first frame",
			zap.String("kind", frame.Kind.String()))
		_ = transport.Close()
		return
	}

	callSID := transport.CallSID()
	sess, err := hm.registry.Get(callSID)
	if err != nil {
		// Outbound calls placed by the provider stream before our webhook
		// path ever saw them; register on first contact.
		sess, _ = hm.registry.CreateOrAttach(callSID, domain.DirectionOutbound, "")
		logger.Base().Info("media stream for unregistered call, session created",
			zap.String("call_id", callSID))
	}
	sess.SetStreamSID(transport.StreamSID())

	hm.bridgeSvc.AttachTelephony(sess)
	if err := hm.bridgeSvc.StartAgentStream(r.Context(), sess, transport); err != nil {
		logger.Base().Warn("agent stream ended with error",
			zap.String("call_id", callSID),
			zap.Error(err))
	}
}

func (hm *HandlerManager) writeTwiMLFailure(w http.ResponseWriter) {
	response, err := twilioadapter.FailureResponse()
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(response))
}
