package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	upstashx "github.com/Champsson/Kooler-Agent/pkg/upstash"
)

const (
	defaultStoreKeyPrefix = "weggy:session:"
	defaultStoreTTL       = 24 * time.Hour
)

// Store persists the session-key to thread mapping.
//
// Create must be atomic: when a session already exists for the key it returns
// ErrSessionExists and leaves the stored session untouched.
type Store interface {
	Load(ctx context.Context, sessionKey string) (*ConversationSession, error)
	Create(ctx context.Context, s *ConversationSession) error
	Save(ctx context.Context, s *ConversationSession) error
	Delete(ctx context.Context, sessionKey string) error
}

type Config struct {
	Driver    string        `split_words:"true" default:"memory"`
	DSN       string        `envconfig:"DSN"`
	TTL       time.Duration `envconfig:"TTL" default:"24h"`
	KeyPrefix string        `split_words:"true" default:"weggy:session:"`
}

// StoreOption customizes the Upstash and SQL stores.
type StoreOption func(*storeOptions)

type storeOptions struct {
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			o.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []StoreOption) (storeOptions, error) {
	o := storeOptions{
		keyPrefix: defaultStoreKeyPrefix,
		ttl:       defaultStoreTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.ttl < 0 {
		return o, errors.New("ttl must be >= 0")
	}
	return o, nil
}

func checkKey(sessionKey string) error {
	if strings.TrimSpace(sessionKey) == "" {
		return ErrInvalidSession
	}
	return nil
}

func prepareWrite(s *ConversationSession, now time.Time) error {
	if s == nil {
		return ErrNilSession
	}
	s.normalize(now)
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	return nil
}

// Open builds the store selected by cfg.Driver. The upstash client is only
// consulted for the "upstash" driver. Stores holding a database implement
// io.Closer.
func Open(ctx context.Context, cfg Config, upstash *upstashx.Client) (Store, error) {
	opts := []StoreOption{WithTTL(cfg.TTL), WithKeyPrefix(cfg.KeyPrefix)}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "upstash", "redis":
		return NewUpstashRedisStore(upstash, opts...)
	case "postgres", "pg", "sqlite":
		return OpenSQLStore(ctx, driver, cfg.DSN, opts...)
	default:
		return nil, fmt.Errorf("unsupported session store driver %q", cfg.Driver)
	}
}
