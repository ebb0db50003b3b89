package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	upstashx "github.com/Champsson/Kooler-Agent/pkg/upstash"
)

// UpstashRedisStore persists sessions as JSON strings in Upstash Redis.
// Every write refreshes the key's TTL.
type UpstashRedisStore struct {
	client *upstashx.Client
	opts   storeOptions
}

func NewUpstashRedisStore(client *upstashx.Client, opts ...StoreOption) (*UpstashRedisStore, error) {
	if client == nil {
		return nil, errors.New("upstash client is required")
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &UpstashRedisStore{client: client, opts: o}, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, sessionKey string) (*ConversationSession, error) {
	if err := checkKey(sessionKey); err != nil {
		return nil, err
	}

	encoded, err := s.client.GetString(ctx, s.redisKey(sessionKey))
	if errors.Is(err, upstashx.ErrNil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess ConversationSession
	if err := json.Unmarshal([]byte(encoded), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	return &sess, nil
}

func (s *UpstashRedisStore) Create(ctx context.Context, sess *ConversationSession) error {
	payload, err := s.encode(sess)
	if err != nil {
		return err
	}
	written, err := s.client.SetNX(ctx, s.redisKey(sess.SessionKey), payload, s.opts.ttl)
	if err != nil {
		return err
	}
	if !written {
		return ErrSessionExists
	}
	return nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, sess *ConversationSession) error {
	payload, err := s.encode(sess)
	if err != nil {
		return err
	}
	return s.client.SetString(ctx, s.redisKey(sess.SessionKey), payload, s.opts.ttl)
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionKey string) error {
	if err := checkKey(sessionKey); err != nil {
		return err
	}
	return s.client.Del(ctx, s.redisKey(sessionKey))
}

func (s *UpstashRedisStore) encode(sess *ConversationSession) (string, error) {
	if err := prepareWrite(sess, s.opts.now()); err != nil {
		return "", err
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return string(payload), nil
}

func (s *UpstashRedisStore) redisKey(sessionKey string) string {
	return s.opts.keyPrefix + sessionKey
}
