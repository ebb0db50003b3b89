// Package knowledge answers free-text questions from the Pinecone knowledge
// base and loads documents into it.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	pineconex "github.com/Champsson/Kooler-Agent/pkg/pinecone"
)

const (
	resultPrefix   = "Based on the Kooler knowledge base, here's some relevant information:\n\n"
	matchSeparator = "\n\n---\n\n"

	NoMatchReply    = "I couldn't find specific information about that in the Kooler knowledge base."
	ConnectionReply = "Sorry, I'm having trouble connecting to the knowledge base right now. Please try again later."
	UnexpectedReply = "Sorry, an unexpected error occurred while searching the knowledge base."
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Index interface {
	Query(ctx context.Context, vector []float64, topK int) ([]pineconex.Match, error)
}

type Searcher struct {
	embedder Embedder
	index    Index
	topK     int
}

func NewSearcher(embedder Embedder, index Index, topK int) (*Searcher, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if index == nil {
		return nil, errors.New("index is required")
	}
	if topK <= 0 {
		topK = 3
	}
	return &Searcher{embedder: embedder, index: index, topK: topK}, nil
}

// Search embeds query, fetches the nearest chunks and joins their text.
// Upstream failures are reported as reply text, never as errors.
func (s *Searcher) Search(ctx context.Context, query string) string {
	text, _ := s.SearchErr(ctx, query)
	return text
}

// SearchErr is Search that also returns the upstream error behind a failure
// reply, so callers can avoid keeping it.
func (s *Searcher) SearchErr(ctx context.Context, query string) (string, error) {
	query = strings.Join(strings.Fields(strings.ReplaceAll(query, "\n", " ")), " ")
	log.Info().Str("query", query).Msg("knowledge base query")

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return s.failure(err), fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.index.Query(ctx, vector, s.topK)
	if err != nil {
		return s.failure(err), fmt.Errorf("query index: %w", err)
	}

	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if text := strings.TrimSpace(m.Text()); text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		log.Info().Msg("no relevant information found in the knowledge base")
		return NoMatchReply, nil
	}

	log.Info().Int("matches", len(texts)).Msg("knowledge base matches found")
	return resultPrefix + strings.Join(texts, matchSeparator), nil
}

func (s *Searcher) failure(err error) string {
	if isConnectionError(err) {
		log.Error().Err(err).Msg("knowledge base unreachable")
		return ConnectionReply
	}
	log.Error().Err(err).Msg("knowledge base query failed")
	return UnexpectedReply
}

func isConnectionError(err error) bool {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, contractx.ErrUpstream),
		errors.Is(err, contractx.ErrAuth),
		errors.Is(err, pineconex.ErrIndexUnavailable):
		return true
	default:
		return false
	}
}
