package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"github.com/carelinkhq/carecall-voice-service/pkg/redis"
	"go.uber.org/zap"
)

const (
	CleanupChannel   = "carecall:voice:session:cleanup"
	SessionKeyPrefix = "carecall:voice:session:info"
	SessionTTL       = 1 * time.Hour
)

// SessionInfo represents monitoring data for a call session, published to
// Redis so operators can see live calls across pods.
type SessionInfo struct {
	CallID      string    `json:"callId"`
	PodID       string    `json:"podId"`
	PhoneNumber string    `json:"phoneNumber"`
	Direction   string    `json:"direction"`
	StartTime   time.Time `json:"startTime"`
}

// CleanupMessage is the payload for cleanup broadcast
type CleanupMessage struct {
	CallID string `json:"callId"`
}

// Monitor registers live calls in Redis and relays cross-pod cleanup
// broadcasts so a session orphaned by a crashed pod gets evicted everywhere.
type Monitor struct {
	redisSvc redis.ServiceInterface
	podID    string
}

func NewMonitor(redisSvc redis.ServiceInterface, podID string) *Monitor {
	return &Monitor{
		redisSvc: redisSvc,
		podID:    podID,
	}
}

// Register session for monitoring
func (m *Monitor) Register(ctx context.Context, info SessionInfo) error {
	info.PodID = m.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, _ := json.Marshal(info)
	key := fmt.Sprintf("%s:%s", SessionKeyPrefix, info.CallID)

	err := m.redisSvc.SetValue(ctx, key, string(data), SessionTTL)
	if err == nil {
		logger.Base().Info("session registered in redis", zap.String("call_id", info.CallID), zap.String("pod_id", m.podID))
	}
	return err
}

// Unregister session from monitoring
func (m *Monitor) Unregister(ctx context.Context, callID string) error {
	key := fmt.Sprintf("%s:%s", SessionKeyPrefix, callID)
	return m.redisSvc.DelValue(ctx, key)
}

// NotifyCleanup broadcasts a cleanup request to all pods
func (m *Monitor) NotifyCleanup(ctx context.Context, callID string) error {
	logger.Base().Info("broadcasting cleanup request", zap.String("call_id", callID))
	return m.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{CallID: callID})
}

// SubscribeToCleanup listens for cleanup broadcasts
func (m *Monitor) SubscribeToCleanup(ctx context.Context, handler func(callID string)) error {
	return m.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("failed to unmarshal cleanup message", zap.Error(err))
			return
		}
		handler(msg.CallID)
	})
}
