// Package storage uploads synthesized audio and returns a URL Twilio can fetch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type AudioStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Config struct {
	Driver        string `envconfig:"DRIVER" split_words:"true" default:"s3"`
	Bucket        string `envconfig:"BUCKET" split_words:"true" default:"kooler-agent-tts"`
	Region        string `envconfig:"REGION" split_words:"true" default:"us-west-2"`
	Endpoint      string `envconfig:"ENDPOINT" split_words:"true"`
	AccessKeyID   string `envconfig:"ACCESS_KEY_ID" split_words:"true"`
	SecretKey     string `envconfig:"SECRET_ACCESS_KEY" split_words:"true"`
	LocalDir      string `envconfig:"LOCAL_DIR" split_words:"true" default:"tts_audio"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" split_words:"true"`
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (AudioStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "s3":
		return NewS3Store(ctx, cfg)
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func checkPut(key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("object key is required")
	}
	if len(data) == 0 {
		return errors.New("object data is empty")
	}
	return nil
}
