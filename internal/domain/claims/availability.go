package claims

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/bluebutton/bfd/internal/platform/telemetry"
)

// Availability cache defaults.
const (
	DefaultAvailabilityCacheSize = 10000
	DefaultAvailabilityCacheTTL  = time.Minute
	availabilityKeyPrefix        = "bfd:availability:"
)

// CacheConfig configures the availability cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
	// Redis is the shared tier. Nil disables it.
	Redis   redis.Cmdable
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

type cachedAvailability struct {
	next    AvailabilityChecker
	local   *expirable.LRU[string, Availability]
	redis   redis.Cmdable
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewCachedAvailability caches masks from next in process and, when
// configured, in Redis. Cache keys are beneficiary hashes. Redis failures
// fall through to next.
func NewCachedAvailability(next AvailabilityChecker, cfg CacheConfig) AvailabilityChecker {
	if cfg.Size <= 0 {
		cfg.Size = DefaultAvailabilityCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultAvailabilityCacheTTL
	}
	return &cachedAvailability{
		next:    next,
		local:   expirable.NewLRU[string, Availability](cfg.Size, nil, cfg.TTL),
		redis:   cfg.Redis,
		ttl:     cfg.TTL,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

func (c *cachedAvailability) Check(ctx context.Context, beneID string) (Availability, error) {
	key := beneficiaryKey(beneID)
	if a, ok := c.local.Get(key); ok {
		c.metrics.RecordCache(ctx, "local", true)
		return a, nil
	}
	c.metrics.RecordCache(ctx, "local", false)

	if c.redis != nil {
		if a, ok := c.fromRedis(ctx, key); ok {
			c.local.Add(key, a)
			return a, nil
		}
	}

	a, err := c.next.Check(ctx, beneID)
	if err != nil {
		return 0, err
	}
	c.local.Add(key, a)
	if c.redis != nil {
		if err := c.redis.Set(ctx, availabilityKeyPrefix+key, int(a), c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("availability cache: redis set failed")
		}
	}
	return a, nil
}

func (c *cachedAvailability) fromRedis(ctx context.Context, key string) (Availability, bool) {
	val, err := c.redis.Get(ctx, availabilityKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCache(ctx, "redis", false)
		return 0, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("availability cache: redis get failed")
		return 0, false
	}
	n, err := strconv.ParseUint(val, 10, 8)
	if err != nil {
		c.logger.Warn().Str("value", val).Msg("availability cache: malformed entry")
		return 0, false
	}
	c.metrics.RecordCache(ctx, "redis", true)
	return Availability(n), true
}

type breakerAvailability struct {
	next   AvailabilityChecker
	cb     *gobreaker.CircuitBreaker
	logger zerolog.Logger
}

// NewBreakerAvailability guards next with a circuit breaker. While the
// breaker is open the check reports every category as available so that
// the request falls back to querying each requested category.
func NewBreakerAvailability(next AvailabilityChecker, logger zerolog.Logger) AvailabilityChecker {
	b := &breakerAvailability{next: next, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "availability",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return b
}

func (b *breakerAvailability) Check(ctx context.Context, beneID string) (Availability, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Check(ctx, beneID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Debug().Err(err).Msg("availability precheck skipped")
		return AllAvailable, nil
	}
	if err != nil {
		return 0, fmt.Errorf("availability precheck: %w", err)
	}
	return res.(Availability), nil
}
