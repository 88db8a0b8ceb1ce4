package tutor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/sophia/config"
	"github.com/BaSui01/sophia/types"
)

// AnswerCache 缓存完整回答，避免重复支付检索与生成成本。
// 缓存失效只是性能损失，任何缓存错误都不会影响请求结果。
type AnswerCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewAnswerCache 创建答案缓存。
func NewAnswerCache(cfg config.CacheConfig, logger *zap.Logger) *AnswerCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newAnswerCache(client, cfg.TTL, logger)
}

// NewAnswerCacheWithClient 复用已有 redis 客户端（测试用）。
func NewAnswerCacheWithClient(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *AnswerCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newAnswerCache(client, ttl, logger)
}

func newAnswerCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *AnswerCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AnswerCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "answer_cache")),
	}
}

// cacheKey 由查询与路由参数共同决定：同一问题换供应商不算同一条目。
func cacheKey(query, provider string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + query))
	return "sophia:answer:" + hex.EncodeToString(sum[:])
}

// Get 读取缓存的回答；未命中或出错返回 nil。
func (c *AnswerCache) Get(ctx context.Context, query, provider string) *types.Response {
	if c == nil {
		return nil
	}
	raw, err := c.client.Get(ctx, cacheKey(query, provider)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", zap.Error(err))
		}
		return nil
	}
	var resp types.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", zap.Error(err))
		return nil
	}
	return &resp
}

// Put 写入回答；降级或未接地的回答不缓存。
func (c *AnswerCache) Put(ctx context.Context, query, provider string, resp *types.Response) {
	if c == nil || resp == nil || resp.Degraded || resp.Ungrounded {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(query, provider), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
}
