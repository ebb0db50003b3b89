// Package servicetitan calls the ServiceTitan scheduling and CRM APIs with an
// OAuth2 client-credentials token kept in the shared cache.
package servicetitan

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

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	cachex "github.com/Champsson/Kooler-Agent/pkg/cache"
)

const (
	defaultBaseURL = "https://api.servicetitan.io"

	// TokenCacheKey is the cache slot holding the current access token.
	TokenCacheKey = "servicetitan_access_token"

	tokenExpiryBuffer    = 60 * time.Second
	maxResponseSizeBytes = 2 << 20
)

var (
	ErrMissingCredentials = fmt.Errorf("%w: missing ServiceTitan credentials", contractx.ErrAuth)
	ErrConnection         = fmt.Errorf("%w: failed to connect to ServiceTitan", contractx.ErrUpstream)
)

type Config struct {
	ClientID     string        `envconfig:"CLIENT_ID" split_words:"true"`
	ClientSecret string        `envconfig:"CLIENT_SECRET" split_words:"true"`
	TenantID     string        `envconfig:"TENANT_ID" split_words:"true"`
	AppKey       string        `envconfig:"APP_KEY" split_words:"true"`
	BaseURL      string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.servicetitan.io"`
	TokenURL     string        `envconfig:"TOKEN_URL" split_words:"true"`
	Timeout      time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

type Client struct {
	baseURL    string
	tenantID   string
	appKey     string
	oauth      *clientcredentials.Config
	cache      *cachex.Cache
	httpClient *http.Client
	now        func() time.Time
}

// NewClient never fails on missing credentials; calls report
// ErrMissingCredentials instead so the agent can keep answering.
func NewClient(cfg Config, cache *cachex.Cache, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid servicetitan base url: %w", err)
	}

	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = baseURL + "/connect/token"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL:  baseURL,
		tenantID: strings.TrimSpace(cfg.TenantID),
		appKey:   strings.TrimSpace(cfg.AppKey),
		oauth: &clientcredentials.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		cache:      cache,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// AccessToken returns a cached token while it has more than a minute left,
// fetching a new one otherwise.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if v, ok := c.cache.Get(TokenCacheKey); ok {
		if token, ok := v.(string); ok && token != "" {
			log.Debug().Msg("using cached ServiceTitan access token")
			return token, nil
		}
	}

	if c.oauth.ClientID == "" || c.oauth.ClientSecret == "" {
		log.Error().Msg("ServiceTitan client id or secret not configured")
		return "", ErrMissingCredentials
	}

	log.Info().Msg("requesting new ServiceTitan access token")
	tok, err := c.oauth.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			(re.Response.StatusCode == http.StatusUnauthorized || re.Response.StatusCode == http.StatusForbidden) {
			log.Error().Err(err).Msg("ServiceTitan rejected client credentials")
			return "", fmt.Errorf("%w: token request: %v", contractx.ErrAuth, err)
		}
		return "", fmt.Errorf("%w: token request: %v", ErrConnection, err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("no access token in ServiceTitan response")
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(time.Hour)
	}
	if ttl := expiry.Sub(c.now()) - tokenExpiryBuffer; ttl > 0 {
		c.cache.Set(TokenCacheKey, tok.AccessToken, ttl)
	}
	return tok.AccessToken, nil
}

// request performs an authenticated call and decodes the JSON body into out.
// A 204 leaves out untouched.
func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values, in, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal servicetitan request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build servicetitan request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if c.appKey != "" {
		req.Header.Set("ST-App-Key", c.appKey)
	}

	log.Info().Str("method", method).Str("endpoint", endpoint).Msg("servicetitan request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read servicetitan response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.cache.Delete(TokenCacheKey)
		return fmt.Errorf("%w: servicetitan http status=%d", contractx.ErrAuth, resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("servicetitan http status=%d body=%s", resp.StatusCode, string(raw))
	case resp.StatusCode == http.StatusNoContent || out == nil:
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode servicetitan response: %w", err)
	}
	return nil
}

func (c *Client) tenantPath(format string) string {
	return fmt.Sprintf(format, url.PathEscape(c.tenantID))
}
