// Package pinecone wraps the Pinecone Go SDK for one serverless index.
package pinecone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrIndexUnavailable marks failures to reach or authenticate against the
// index, as opposed to bad requests.
var ErrIndexUnavailable = errors.New("pinecone index unavailable")

type Config struct {
	APIKey     string        `envconfig:"API_KEY" split_words:"true"`
	IndexName  string        `envconfig:"INDEX_NAME" split_words:"true" default:"kooler-agent-knowledge"`
	IndexHost  string        `envconfig:"INDEX_HOST" split_words:"true"`
	ControlURL string        `envconfig:"CONTROL_URL" split_words:"true"`
	Namespace  string        `envconfig:"NAMESPACE" split_words:"true"`
	TopK       int           `envconfig:"TOP_K" split_words:"true" default:"3"`
	Timeout    time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

type Vector struct {
	ID       string
	Values   []float64
	Metadata map[string]any
}

type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Text returns the "text" metadata field, or "" when absent.
func (m Match) Text() string {
	s, _ := m.Metadata["text"].(string)
	return s
}

// indexConn is the data-plane subset of *pinecone.IndexConnection.
type indexConn interface {
	QueryByVectorValues(ctx context.Context, in *pinecone.QueryByVectorValuesRequest) (*pinecone.QueryVectorsResponse, error)
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
}

type Client struct {
	sdk       *pinecone.Client
	indexName string
	namespace string
	timeout   time.Duration

	mu   sync.Mutex
	host string
	conn indexConn
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("pinecone api key is required")
	}
	indexName := strings.TrimSpace(cfg.IndexName)
	if indexName == "" && strings.TrimSpace(cfg.IndexHost) == "" {
		return nil, errors.New("pinecone index name or host is required")
	}

	sdk, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey:    apiKey,
		Host:      strings.TrimRight(strings.TrimSpace(cfg.ControlURL), "/"),
		SourceTag: "kooler_agent",
	})
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		sdk:       sdk,
		indexName: indexName,
		namespace: strings.TrimSpace(cfg.Namespace),
		timeout:   timeout,
		host:      strings.TrimSpace(cfg.IndexHost),
	}, nil
}

// DescribeIndex resolves the data-plane host of the configured index.
func (c *Client) DescribeIndex(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	idx, err := c.sdk.DescribeIndex(ctx, c.indexName)
	if err != nil {
		return "", fmt.Errorf("%w: describe index %s: %w", ErrIndexUnavailable, c.indexName, err)
	}
	if idx == nil || strings.TrimSpace(idx.Host) == "" {
		return "", fmt.Errorf("%w: empty host for %s", ErrIndexUnavailable, c.indexName)
	}
	return idx.Host, nil
}

// Query returns up to topK nearest matches with metadata.
func (c *Client) Query(ctx context.Context, vector []float64, topK int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, errors.New("query vector is empty")
	}
	if topK <= 0 {
		topK = 3
	}
	conn, err := c.index(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          toFloat32(vector),
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, classify("query index", err)
	}

	matches := make([]Match, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		match := Match{ID: m.Vector.Id, Score: float64(m.Score)}
		if m.Vector.Metadata != nil {
			match.Metadata = m.Vector.Metadata.AsMap()
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (c *Client) Upsert(ctx context.Context, vectors []Vector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	batch := make([]*pinecone.Vector, 0, len(vectors))
	for _, v := range vectors {
		metadata, err := structpb.NewStruct(v.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode metadata for %s: %w", v.ID, err)
		}
		batch = append(batch, &pinecone.Vector{Id: v.ID, Values: toFloat32(v.Values), Metadata: metadata})
	}

	conn, err := c.index(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := conn.UpsertVectors(ctx, batch)
	if err != nil {
		return 0, classify("upsert vectors", err)
	}
	return int(n), nil
}

// index opens the data-plane connection once, describing the index first
// when no host was configured.
func (c *Client) index(ctx context.Context) (indexConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	if c.host == "" {
		host, err := c.DescribeIndex(ctx)
		if err != nil {
			return nil, err
		}
		c.host = host
	}

	conn, err := c.sdk.Index(pinecone.NewIndexConnParams{Host: c.host, Namespace: c.namespace})
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", ErrIndexUnavailable, c.host, err)
	}
	c.conn = conn
	return conn, nil
}

func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied, codes.NotFound:
		return fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
