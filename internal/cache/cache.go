// Package cache holds procedure results keyed by (user, procedure, args) and
// supports invalidation by exact key or by key prefix.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"meetdash/internal/metrics"
)

const keyPrefix = "q:"

// Cache stores serialized procedure results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Key builds the cache key for a procedure call. Args are serialized with
// encoding/json, which emits struct fields in declaration order and map keys
// sorted, so equal arguments always give equal keys.
func Key(userID, procedure string, args any) string {
	payload, err := json.Marshal(args)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", args))
	}
	return ProcedurePrefix(userID, procedure) + string(payload)
}

// ProcedurePrefix matches every cached call of procedure for userID.
func ProcedurePrefix(userID, procedure string) string {
	return UserPrefix(userID) + procedure + ":"
}

// UserPrefix matches every cached call for userID.
func UserPrefix(userID string) string {
	return keyPrefix + sanitize(userID) + ":"
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Remember returns the cached value for key, or calls load, stores its result
// and returns it. Cache failures degrade to calling load.
func Remember[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if c == nil {
		return load()
	}
	if raw, ok, err := c.Get(ctx, key); err == nil && ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return out, nil
		}
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	out, err := load()
	if err != nil {
		return out, err
	}
	if raw, err := json.Marshal(out); err == nil {
		_ = c.Set(ctx, key, raw, ttl)
	}
	return out, nil
}
