package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"katago_web/internal/adapters"
	"katago_web/internal/bootstrap"
	"katago_web/internal/domain"
	"katago_web/internal/engine"
)

// AnalysisRepository fronts the engine with a short-lived Redis cache: the
// front-end tends to re-request the same position while the user scrubs
// through a game, and a cached result avoids burning visits twice. The cache
// is optional; without Redis every request goes straight to the engine.
type AnalysisRepository struct {
	cfg    *bootstrap.Config
	log    *zap.SugaredLogger
	engine *engine.Engine
	redis  *adapters.AdapterRedis
	ttl    time.Duration
}

func NewAnalysisRepository(cfg *bootstrap.Config, log *zap.SugaredLogger, eng *engine.Engine, redisAdapter *adapters.AdapterRedis) *AnalysisRepository {
	return &AnalysisRepository{
		cfg:    cfg,
		log:    log,
		engine: eng,
		redis:  redisAdapter,
		ttl:    time.Duration(cfg.CacheTTLSec) * time.Second,
	}
}

func (a *AnalysisRepository) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	key, keyErr := cacheKey(req)

	if keyErr == nil {
		if cached := a.lookupCache(ctx, key); cached != nil {
			a.log.Infow("analysis cache hit", "key", key)
			return cached, nil
		}
	}

	result, err := a.engine.AnalyzePosition(req)
	if err != nil {
		return nil, err
	}

	if keyErr == nil {
		a.storeCache(ctx, key, result)
	}
	return result, nil
}

func (a *AnalysisRepository) IsEngineRunning() bool {
	return a.engine.IsRunning()
}

func (a *AnalysisRepository) StartEngine() error {
	return a.engine.Start()
}

func (a *AnalysisRepository) StopEngine() {
	a.engine.Stop()
}

func (a *AnalysisRepository) EngineState() string {
	return a.engine.State().String()
}

func (a *AnalysisRepository) lookupCache(ctx context.Context, key string) *domain.AnalysisResult {
	client := a.redisClient()
	if client == nil {
		return nil
	}
	raw, err := client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			a.log.Warnw("analysis cache lookup failed", "key", key, "error", err)
		}
		return nil
	}
	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		a.log.Warnw("dropping unreadable cache entry", "key", key, "error", err)
		return nil
	}
	return &result
}

func (a *AnalysisRepository) storeCache(ctx context.Context, key string, result *domain.AnalysisResult) {
	client := a.redisClient()
	if client == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := client.Set(ctx, key, raw, a.ttl).Err(); err != nil {
		a.log.Warnw("failed to cache analysis result", "key", key, "error", err)
	}
}

func (a *AnalysisRepository) redisClient() *redis.Client {
	if a.redis == nil {
		return nil
	}
	return a.redis.GetClient()
}

// cacheKey hashes the canonical JSON form of the request, so two identical
// positions with identical settings map to the same entry.
func cacheKey(req domain.AnalysisRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return "analysis:" + hex.EncodeToString(sum[:]), nil
}
