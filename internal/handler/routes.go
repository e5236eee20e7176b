package handler

import (
	"context"
	"net/http"

	"github.com/carelinkhq/carecall-voice-service/internal/adapters/elevenlabs"
	"github.com/carelinkhq/carecall-voice-service/internal/config"
	"github.com/carelinkhq/carecall-voice-service/internal/core/relay"
	"github.com/carelinkhq/carecall-voice-service/internal/core/session"
	"github.com/carelinkhq/carecall-voice-service/internal/core/webhook"
	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/internal/repository"
	"github.com/carelinkhq/carecall-voice-service/internal/services/bridge"
	"github.com/carelinkhq/carecall-voice-service/internal/services/profile"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"github.com/carelinkhq/carecall-voice-service/pkg/redis"
	twiliopkg "github.com/carelinkhq/carecall-voice-service/pkg/twilio"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandlerManager wires every service the HTTP layer needs and owns route
// registration.
type HandlerManager struct {
	cfg *config.Config

	registry    *session.Registry
	bridgeSvc   *bridge.Service
	resolver    *profile.Resolver
	repoManager repository.RepositoryManager
	redisSvc    redis.ServiceInterface
	monitor     *session.Monitor

	authenticator   *webhook.Authenticator
	twilioValidator *twiliopkg.RequestValidator

	upgrader websocket.Upgrader
}

// agentDialer narrows the ElevenLabs dialer to the bridge interface.
type agentDialer struct {
	dialer *elevenlabs.Dialer
}

func (d agentDialer) Dial(ctx context.Context, dynamicVariables map[string]string) (relay.Transport, error) {
	return d.dialer.Dial(ctx, dynamicVariables)
}

// noopStore stands in for the conversation store when persistence is
// disabled.
type noopStore struct{}

func (noopStore) SaveConversation(ctx context.Context, conversation *domain.Conversation) error {
	logger.Base().Warn("persistence disabled, dropping conversation record",
		zap.String("call_id", conversation.CallSID))
	return nil
}

// NewHandlerManager creates and wires all services.
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	hm := &HandlerManager{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	// Redis is optional; profile caching and session monitoring degrade
	// gracefully without it.
	if cfg.Redis != nil {
		redisSvc, err := redis.NewService(cfg.Redis)
		if err != nil {
			logger.Base().Warn("redis unavailable, continuing without cache and monitor", zap.Error(err))
		} else {
			hm.redisSvc = redisSvc
			hm.monitor = session.NewMonitor(redisSvc, cfg.InstanceID)
		}
	}

	var store bridge.ConversationStore = noopStore{}
	var profileStore profile.Store
	if cfg.DatabaseEnabled {
		repoManager, err := repository.NewRepositoryManager()
		if err != nil {
			return nil, err
		}
		hm.repoManager = repoManager
		store = repoManager.Conversations()
		profileStore = repoManager.Profiles()
	} else {
		logger.Base().Warn("database disabled, conversations will not be persisted")
	}

	hm.registry = session.NewRegistry()
	hm.resolver = profile.NewResolver(profileStore, hm.redisSvc, cfg.ProfileCacheTTL)
	hm.authenticator = webhook.NewAuthenticator(cfg.WebhookSecret,
		webhook.WithTolerance(cfg.WebhookTolerance))
	hm.twilioValidator = twiliopkg.NewRequestValidator(cfg.TwilioAuthToken, cfg.PublicBaseURL)

	dialer := elevenlabs.NewDialer(cfg.ElevenLabsWSBaseURL, cfg.ElevenLabsAgentID, cfg.ElevenLabsAPIKey)
	initiator := elevenlabs.NewInitiator(cfg.ElevenLabsAPIBaseURL, cfg.ElevenLabsAPIKey,
		cfg.ElevenLabsAgentID, cfg.ElevenLabsPhoneNumberID, cfg.OutboundRPS, cfg.OutboundBurst)

	hm.bridgeSvc = bridge.NewService(hm.registry, hm.resolver, agentDialer{dialer: dialer},
		initiator, store, hm.monitor, bridge.Config{
			QueueLimit:   cfg.RelayQueueLimit,
			DrainTimeout: cfg.RelayDrainTimeout,
		})

	if hm.monitor != nil {
		if err := hm.monitor.SubscribeToCleanup(context.Background(), hm.bridgeSvc.HandleRemoteCleanup); err != nil {
			logger.Base().Warn("cleanup subscription failed", zap.Error(err))
		}
	}

	return hm, nil
}

// Bridge returns the orchestrator, used by main for shutdown and reaping.
func (hm *HandlerManager) Bridge() *bridge.Service {
	return hm.bridgeSvc
}

// GetRepoManager returns the repository manager, nil when persistence is
// disabled.
func (hm *HandlerManager) GetRepoManager() repository.RepositoryManager {
	return hm.repoManager
}

// Close releases held connections.
func (hm *HandlerManager) Close() {
	if hm.repoManager != nil {
		_ = hm.repoManager.Close()
	}
	if svc, ok := hm.redisSvc.(*redis.Service); ok && svc != nil {
		_ = svc.Close()
	}
}

// SetupAllRoutes registers every endpoint on the router.
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)
	router.Use(GlobalLoggingMiddleware)

	// Telephony webhook and media stream
	router.HandleFunc("/twilio/inbound-call", hm.HandleInboundCall).Methods("POST")
	router.HandleFunc("/media-stream", hm.HandleMediaStream).Methods("GET")

	// Provider callbacks
	router.HandleFunc("/twilio/conversation-initiation", hm.HandleConversationInitiation).Methods("POST")
	router.HandleFunc("/twilio/call-end", hm.HandleCallEnd).Methods("POST")

	// Liveness
	router.HandleFunc("/status", hm.HandleStatus).Methods("GET")
	router.HandleFunc("/health", hm.HandleHealth).Methods("GET")

	hm.SetupAPIRoutes(router)
}

// SetupAPIRoutes registers the JSON API under /api behind the ops key.
func (hm *HandlerManager) SetupAPIRoutes(router *mux.Router) {
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(LoggingMiddleware)
	apiRouter.Use(ValidationMiddleware)
	apiRouter.Use(APIKeyMiddleware(hm.cfg.OpsAPISecret))

	apiRouter.HandleFunc("/calls/initiate/{phone_number}", hm.HandleInitiateCall).Methods("GET")
	apiRouter.HandleFunc("/calls/initiate", hm.HandleInitiateCallPost).Methods("POST")
	apiRouter.HandleFunc("/caller-name", hm.HandleCallerName).Methods("GET")
	apiRouter.HandleFunc("/profiles/{phone_number}", hm.HandleProfile).Methods("GET")
	apiRouter.HandleFunc("/sessions", hm.HandleActiveSessions).Methods("GET")
}
