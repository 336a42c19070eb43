package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"query-sphere/internal/config"
	"query-sphere/internal/logger"
	"query-sphere/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware limits requests per IP + endpoint. With a Redis client
// the counters are shared between instances; without one each process keeps
// token buckets in memory.
func RateLimitMiddleware(rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	if rdb != nil {
		return redisRateLimit(rdb, cfg)
	}
	return memoryRateLimit(cfg)
}

func skipRateLimit(c *gin.Context) bool {
	return c.FullPath() == "/health" || c.Request.Method == http.MethodOptions
}

func rejectRateLimited(c *gin.Context, limit, window int) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", strconv.FormatInt(
		time.Now().Add(time.Duration(window)*time.Second).Unix(), 10))

	utils.RespondWithError(c, http.StatusTooManyRequests,
		"rate_limit_exceeded",
		"Too many requests. Please try again later.",
		gin.H{
			"retry_after": window,
			"limit":       limit,
		})
	c.Abort()
}

func redisRateLimit(rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipRateLimit(c) {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + ":" + c.FullPath()
		ctx := c.Request.Context()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Fail open - don't block requests if Redis is down
			logger.Warn("Rate limit store unavailable", "error", err)
			c.Next()
			return
		}

		if count == 1 {
			rdb.Expire(ctx, key, time.Duration(cfg.RateLimitWindow)*time.Second)
		}

		if count > int64(cfg.RateLimitReqs) {
			rejectRateLimited(c, cfg.RateLimitReqs, cfg.RateLimitWindow)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitReqs))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(cfg.RateLimitReqs-int(count)))
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type memoryLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	every       rate.Limit
	burst       int
	lastCleanup time.Time
	idle        time.Duration
}

func (m *memoryLimiter) get(key string, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastCleanup) > m.idle {
		for k, v := range m.visitors {
			if now.Sub(v.lastSeen) > m.idle {
				delete(m.visitors, k)
			}
		}
		m.lastCleanup = now
	}

	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(m.every, m.burst)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func memoryRateLimit(cfg *config.Config) gin.HandlerFunc {
	window := time.Duration(max(cfg.RateLimitWindow, 1)) * time.Second
	reqs := max(cfg.RateLimitReqs, 1)

	m := &memoryLimiter{
		visitors:    make(map[string]*visitor),
		every:       rate.Every(window / time.Duration(reqs)),
		burst:       reqs,
		lastCleanup: time.Now(),
		idle:        2 * window,
	}

	return func(c *gin.Context) {
		if skipRateLimit(c) {
			c.Next()
			return
		}

		limiter := m.get(c.ClientIP()+":"+c.FullPath(), time.Now())
		if !limiter.Allow() {
			rejectRateLimited(c, reqs, int(window.Seconds()))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(reqs))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
		c.Next()
	}
}
