// Package openai adapts the OpenAI SDK to the assistant, embedding and audio
// boundaries used by the agent.
package openai

import (
	"errors"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Config struct {
	APIKey     string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	BaseURL    string        `envconfig:"BASE_URL" split_words:"true"`
	Timeout    time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	MaxRetries int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
}

// Client wraps the SDK client. It is safe for concurrent use.
type Client struct {
	sdk openaisdk.Client
}

func NewClient(cfg Config, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, extra...)

	return &Client{sdk: openaisdk.NewClient(opts...)}, nil
}
