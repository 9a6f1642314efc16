// Package cache stores JSON documents in Redis with a fixed expiry. The
// analysis service uses it to skip repeat extractions of the same document.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/homehealth/pdgm/internal/platform/telemetry"
)

// DefaultTTL bounds how long an extraction is reused.
const DefaultTTL = 24 * time.Hour

type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type Store struct {
	client client
	ttl    time.Duration
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// New connects to the Redis server at url (redis://[:password@]host:port/db)
// and verifies the connection.
func New(ctx context.Context, url string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return newStore(rdb, ttl), nil
}

func newStore(c client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{client: c, ttl: ttl}

	meter := otel.Meter(telemetry.InstrumentationName)
	// Instrument creation only fails on invalid names; a nil counter is skipped.
	s.hits, _ = meter.Int64Counter("cache.hit.count", metric.WithDescription("Number of cache hits"))
	s.misses, _ = meter.Int64Counter("cache.miss.count", metric.WithDescription("Number of cache misses"))
	return s
}

// Get decodes the value stored under key into v. It reports false when the
// key does not exist.
func (s *Store) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.record(ctx, s.misses)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		// A value from an older schema is treated as absent.
		s.record(ctx, s.misses)
		return false, nil
	}
	s.record(ctx, s.hits)
	return true, nil
}

// Set stores v as JSON under key for the configured TTL.
func (s *Store) Set(ctx context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if err := s.client.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) record(ctx context.Context, c metric.Int64Counter) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.backend", "redis")))
}

// HealthHandler reports whether Redis answers a PING.
func HealthHandler(s *Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	}
}
