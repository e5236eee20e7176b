package profile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/carelinkhq/carecall-voice-service/pkg/logger"
	"github.com/carelinkhq/carecall-voice-service/pkg/redis"
	"go.uber.org/zap"
)

// DefaultCacheTTL is how long a resolved profile stays cached.
const DefaultCacheTTL = 5 * time.Minute

// Store loads stored care profiles. Implemented by the repository layer.
type Store interface {
	GetProfileByPhone(ctx context.Context, phoneNumber string) (*domain.CareProfile, error)
}

// Resolver resolves a caller's care profile with a Redis read-through
// cache. Resolution never fails hard: any miss or error yields the
// deterministic fallback profile so the call can proceed.
type Resolver struct {
	store    Store
	redisSvc redis.ServiceInterface
	cacheTTL time.Duration
}

// NewResolver creates a resolver. redisSvc may be nil, which disables
// caching.
func NewResolver(store Store, redisSvc redis.ServiceInterface, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Resolver{
		store:    store,
		redisSvc: redisSvc,
		cacheTTL: cacheTTL,
	}
}

// Resolve returns the care profile for a phone number, falling back to the
// generic profile on any failure.
func (r *Resolver) Resolve(ctx context.Context, phoneNumber string) *domain.CareProfile {
	if cached := r.fromCache(ctx, phoneNumber); cached != nil {
		return cached
	}

	if r.store == nil {
		return domain.FallbackProfile(phoneNumber)
	}

	prof, err := r.store.GetProfileByPhone(ctx, phoneNumber)
	if err != nil {
		logger.Base().Warn("profile lookup failed, using fallback",
			zap.String("phone_number", phoneNumber),
			zap.Error(err))
		return domain.FallbackProfile(phoneNumber)
	}
	if prof == nil {
		logger.Base().Info("no stored profile, using fallback",
			zap.String("phone_number", phoneNumber))
		return domain.FallbackProfile(phoneNumber)
	}

	r.toCache(ctx, phoneNumber, prof)
	return prof
}

// Invalidate evicts a cached profile after it is edited.
func (r *Resolver) Invalidate(ctx context.Context, phoneNumber string) {
	if r.redisSvc == nil {
		return
	}
	key := r.redisSvc.GenerateKey(redis.CARE_PROFILE, phoneNumber)
	if err := r.redisSvc.DelValue(ctx, key); err != nil {
		logger.Base().Warn("profile cache invalidation failed", zap.Error(err))
	}
}

func (r *Resolver) fromCache(ctx context.Context, phoneNumber string) *domain.CareProfile {
	if r.redisSvc == nil {
		return nil
	}

	key := r.redisSvc.GenerateKey(redis.CARE_PROFILE, phoneNumber)
	raw, err := r.redisSvc.GetValue(ctx, key)
	if err != nil {
		if err != redis.ErrKeyNotExist {
			logger.Base().Warn("profile cache read failed", zap.Error(err))
		}
		return nil
	}

	var prof domain.CareProfile
	if err := json.Unmarshal([]byte(raw), &prof); err != nil {
		logger.Base().Warn("profile cache entry corrupt, dropping", zap.Error(err))
		_ = r.redisSvc.DelValue(ctx, key)
		return nil
	}
	return &prof
}

func (r *Resolver) toCache(ctx context.Context, phoneNumber string, prof *domain.CareProfile) {
	if r.redisSvc == nil {
		return
	}

	data, err := json.Marshal(prof)
	if err != nil {
		return
	}
	key := r.redisSvc.GenerateKey(redis.CARE_PROFILE, phoneNumber)
	if err := r.redisSvc.SetValue(ctx, key, string(data), r.cacheTTL); err != nil {
		logger.Base().Warn("profile cache write failed", zap.Error(err))
	}
}
