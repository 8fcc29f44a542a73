package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"meetdash/internal/logging"
	"meetdash/internal/redis"
)

const invalidateChannel = "cache:invalidate"

const (
	scopeKeys   = "keys"
	scopePrefix = "prefix"
)

type invalidateMessage struct {
	Scope  string   `json:"scope"`
	Keys   []string `json:"keys,omitempty"`
	Prefix string   `json:"prefix,omitempty"`
	Origin string   `json:"origin"`
}

// Redis stores entries in redis and broadcasts every invalidation so other
// processes can drop their in-memory copies.
type Redis struct {
	client *redis.Client
	origin string
	logger *zap.Logger
}

// NewRedis wraps client. origin identifies this process in broadcasts.
func NewRedis(client *redis.Client, origin string, logger *zap.Logger) *Redis {
	return &Redis{client: client, origin: origin, logger: logging.OrNop(logger)}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(raw), true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl)
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...); err != nil {
		return err
	}
	r.publish(ctx, invalidateMessage{Scope: scopeKeys, Keys: keys, Origin: r.origin})
	return nil
}

func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n, err := r.client.DelPrefix(ctx, prefix)
	if err != nil {
		return n, err
	}
	r.publish(ctx, invalidateMessage{Scope: scopePrefix, Prefix: prefix, Origin: r.origin})
	return n, nil
}

func (r *Redis) publish(ctx context.Context, msg invalidateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("cache invalidation marshal failed", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, invalidateChannel, payload); err != nil {
		r.logger.Warn("cache publish invalidation failed", zap.Error(err))
	}
}

// Listen applies invalidations published by other processes to local until
// ctx is cancelled.
func (r *Redis) Listen(ctx context.Context, local Cache) {
	raw := r.client.Raw()
	if raw == nil || local == nil {
		return
	}
	pubsub := raw.Subscribe(ctx, invalidateChannel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					r.logger.Warn("cache invalidation decode failed", zap.Error(err))
					continue
				}
				if inv.Origin == r.origin {
					continue
				}
				applyInvalidation(ctx, local, inv)
			}
		}
	}()
}

func applyInvalidation(ctx context.Context, local Cache, inv invalidateMessage) {
	switch inv.Scope {
	case scopeKeys:
		_ = local.Delete(ctx, inv.Keys...)
	case scopePrefix:
		_, _ = local.DeletePrefix(ctx, inv.Prefix)
	}
}

// Layered reads through a local front cache to a shared back cache.
// Writes and invalidations go to both.
type Layered struct {
	front    Cache
	back     Cache
	frontTTL time.Duration
}

// NewLayered builds a two-level cache. frontTTL caps how long the local copy
// lives independently of the shared one.
func NewLayered(front, back Cache, frontTTL time.Duration) *Layered {
	return &Layered{front: front, back: back, frontTTL: frontTTL}
}

func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := l.front.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}
	v, ok, err := l.back.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = l.front.Set(ctx, key, v, l.frontTTL)
	return v, true, nil
}

func (l *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	front := ttl
	if l.frontTTL > 0 && (front <= 0 || l.frontTTL < front) {
		front = l.frontTTL
	}
	_ = l.front.Set(ctx, key, value, front)
	return l.back.Set(ctx, key, value, ttl)
}

func (l *Layered) Delete(ctx context.Context, keys ...string) error {
	_ = l.front.Delete(ctx, keys...)
	return l.back.Delete(ctx, keys...)
}

func (l *Layered) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n, _ := l.front.DeletePrefix(ctx, prefix)
	m, err := l.back.DeletePrefix(ctx, prefix)
	if m > n {
		n = m
	}
	return n, err
}
