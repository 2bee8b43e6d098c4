package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "licensegate:ratelimit"

// RateLimitConfig configures NewRateLimiter.
type RateLimitConfig struct {
	Requests int64
	Period   time.Duration
	// Redis shares counters across instances; nil keeps them in memory.
	Redis *redis.Client
}

// NewRateLimiter creates a Gin middleware limiting requests per client IP.
func NewRateLimiter(cfg RateLimitConfig) (gin.HandlerFunc, error) {
	if cfg.Requests <= 0 {
		return nil, errors.New("rate limit requests must be positive")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("invalid rate limit period %s", cfg.Period)
	}

	rate := limiter.Rate{
		Period: cfg.Period,
		Limit:  cfg.Requests,
	}

	var store limiter.Store
	if cfg.Redis != nil {
		s, err := sredis.NewStoreWithOptions(cfg.Redis, limiter.StoreOptions{Prefix: rateLimitPrefix})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: rateLimitPrefix})
	}

	return mgin.NewMiddleware(limiter.New(store, rate),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		}),
	), nil
}
