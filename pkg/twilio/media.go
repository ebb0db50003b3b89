package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxMediaBytes = 25 << 20

type Config struct {
	AccountSID        string        `envconfig:"ACCOUNT_SID" split_words:"true"`
	AuthToken         string        `envconfig:"AUTH_TOKEN" split_words:"true"`
	ValidateSignature bool          `envconfig:"VALIDATE_SIGNATURE" split_words:"true" default:"false"`
	GreetingURL       string        `envconfig:"GREETING_URL" split_words:"true"`
	Timeout           time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
}

// MediaClient fetches MMS attachments using the account credentials.
type MediaClient struct {
	accountSID string
	authToken  string
	httpClient *http.Client
}

func NewMediaClient(cfg Config, httpClient *http.Client) *MediaClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &MediaClient{
		accountSID: strings.TrimSpace(cfg.AccountSID),
		authToken:  strings.TrimSpace(cfg.AuthToken),
		httpClient: httpClient,
	}
}

// Download returns the media body and its content type.
func (m *MediaClient) Download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return nil, "", errors.New("media url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	if m.accountSID != "" && m.authToken != "" {
		req.SetBasicAuth(m.accountSID, m.authToken)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: http status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
