// Package session keeps short-lived per-user conversation state, such as an
// administrator's broadcast draft, keyed by user id.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "joingate/pkg/logx"
)

// ErrNoSession is returned by Get when nothing is stored for the key.
var ErrNoSession = errors.New("no session")

// Store persists one JSON-encodable value per key. Values never expire.
type Store interface {
	Get(ctx context.Context, key int64, v any) error
	Put(ctx context.Context, key int64, v any) error
	Delete(ctx context.Context, key int64) error
	Close() error
}

type Config struct {
	Driver string // memory | redis

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Prefix namespaces the redis keys. Default "joingate:session".
	Prefix string
}

// Open returns the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		st, err := NewRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("redis session store ready", logx.String("addr", cfg.RedisAddr), logx.Int("db", cfg.RedisDB))
		return st, nil
	default:
		return nil, fmt.Errorf("unknown session driver: %s", d)
	}
}
