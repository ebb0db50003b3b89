// Package upstash executes Redis commands against the Upstash REST API.
package upstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseSizeBytes = 2 << 20

// ErrNil is returned by typed helpers when Redis answers with a nil reply.
var ErrNil = errors.New("redis: nil reply")

type Config struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Response struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// IsNil reports whether the reply was a Redis nil.
func (r *Response) IsNil() bool {
	result := bytes.TrimSpace(r.Result)
	return len(result) == 0 || bytes.Equal(result, []byte("null"))
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Do posts a single command, e.g. []any{"SET", key, value, "EX", 60}.
func (c *Client) Do(ctx context.Context, command ...any) (*Response, error) {
	if c == nil {
		return nil, errors.New("nil upstash client")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

// GetString runs GET and returns ErrNil when the key is absent.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	resp, err := c.Do(ctx, "GET", key)
	if err != nil {
		return "", err
	}
	if resp.IsNil() {
		return "", ErrNil
	}
	var value string
	if err := json.Unmarshal(resp.Result, &value); err != nil {
		return "", fmt.Errorf("decode redis string: %w", err)
	}
	return value, nil
}

// SetString runs SET with an optional expiry; ttl <= 0 keeps the key forever.
func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := []any{"SET", key, value}
	if ttl > 0 {
		cmd = append(cmd, "EX", TTLSeconds(ttl))
	}
	_, err := c.Do(ctx, cmd...)
	return err
}

// SetNX runs SET ... NX and reports whether the key was written.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cmd := []any{"SET", key, value, "NX"}
	if ttl > 0 {
		cmd = append(cmd, "EX", TTLSeconds(ttl))
	}
	resp, err := c.Do(ctx, cmd...)
	if err != nil {
		return false, err
	}
	return !resp.IsNil(), nil
}

func (c *Client) Del(ctx context.Context, key string) error {
	_, err := c.Do(ctx, "DEL", key)
	return err
}

// TTLSeconds rounds ttl up to whole seconds, with a floor of one.
func TTLSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
