package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-csms/internal/ports"
)

// New connects to Redis when url is set and falls back to a LocalCache
// when it is empty or unreachable.
func New(url string, log *zap.Logger) ports.Cache {
	if url != "" {
		c, err := NewRedisCache(url, log)
		if err == nil {
			return c
		}
		log.Warn("Redis unavailable, using in-memory cache", zap.Error(err))
	}
	return NewLocalCache(time.Minute, log)
}
