package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	pineconex "github.com/Champsson/Kooler-Agent/pkg/pinecone"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
	DefaultBatchSize    = 100
)

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

type Upserter interface {
	Upsert(ctx context.Context, vectors []pineconex.Vector) (int, error)
}

type Ingestor struct {
	embedder  BatchEmbedder
	index     Upserter
	splitter  RecursiveSplitter
	batchSize int
	newID     func() string
}

type IngestOption func(*Ingestor)

func WithSplitter(s RecursiveSplitter) IngestOption {
	return func(i *Ingestor) { i.splitter = s }
}

func WithBatchSize(n int) IngestOption {
	return func(i *Ingestor) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

func WithIDFunc(fn func() string) IngestOption {
	return func(i *Ingestor) {
		if fn != nil {
			i.newID = fn
		}
	}
}

func NewIngestor(embedder BatchEmbedder, index Upserter, opts ...IngestOption) (*Ingestor, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if index == nil {
		return nil, errors.New("index is required")
	}
	i := &Ingestor{
		embedder:  embedder,
		index:     index,
		splitter:  NewRecursiveSplitter(DefaultChunkSize, DefaultChunkOverlap),
		batchSize: DefaultBatchSize,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// Ingest splits content, embeds it batch by batch and upserts each batch with
// text, source and chunk_index metadata. It returns the number of vectors
// written.
func (i *Ingestor) Ingest(ctx context.Context, source, content string) (int, error) {
	chunks := i.splitter.Split(content)
	log.Info().Str("source", source).Int("chunks", len(chunks)).Msg("document split")
	if len(chunks) == 0 {
		return 0, nil
	}

	written := 0
	for start := 0; start < len(chunks); start += i.batchSize {
		end := min(start+i.batchSize, len(chunks))
		batch := chunks[start:end]

		vectors, err := i.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return written, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return written, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end-1, len(vectors))
		}

		records := make([]pineconex.Vector, len(batch))
		for j, text := range batch {
			records[j] = pineconex.Vector{
				ID:     i.newID(),
				Values: vectors[j],
				Metadata: map[string]any{
					"text":        text,
					"source":      source,
					"chunk_index": start + j,
				},
			}
		}

		n, err := i.index.Upsert(ctx, records)
		if err != nil {
			return written, fmt.Errorf("upsert chunks %d-%d: %w", start, end-1, err)
		}
		written += n
		log.Info().Int("batch", len(records)).Int("total", written).Msg("upserted batch")
	}
	return written, nil
}
