// Package speech turns assistant replies into ordered audio segments for voice
// calls.
package speech

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	cachex "github.com/Champsson/Kooler-Agent/pkg/cache"
	storagex "github.com/Champsson/Kooler-Agent/pkg/storage"
	tracex "github.com/Champsson/Kooler-Agent/pkg/tracing"
)

const (
	audioContentType = "audio/mpeg"
	urlCacheTTL      = 24 * time.Hour
	maxAttempts      = 2
)

type Config struct {
	Voice        string        `envconfig:"VOICE" split_words:"true" default:"nova"`
	Model        string        `envconfig:"MODEL" split_words:"true" default:"tts-1"`
	ChunkLimit   int           `envconfig:"CHUNK_LIMIT" split_words:"true" default:"400"`
	Workers      int           `envconfig:"WORKERS" split_words:"true" default:"3"`
	ChunkTimeout time.Duration `envconfig:"CHUNK_TIMEOUT" split_words:"true" default:"20s"`
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Segment is one chunk of a reply. URL is empty when synthesis failed.
type Segment struct {
	Index int
	Text  string
	URL   string
}

type Pipeline struct {
	synth        Synthesizer
	store        storagex.AudioStore
	cache        *cachex.Cache
	voice        string
	limit        int
	workers      int
	chunkTimeout time.Duration
	newKey       func() string
}

func NewPipeline(synth Synthesizer, store storagex.AudioStore, cache *cachex.Cache, cfg Config) (*Pipeline, error) {
	if synth == nil {
		return nil, errors.New("synthesizer is required")
	}
	if store == nil {
		return nil, errors.New("audio store is required")
	}

	p := &Pipeline{
		synth:        synth,
		store:        store,
		cache:        cache,
		voice:        cfg.Voice,
		limit:        cfg.ChunkLimit,
		workers:      cfg.Workers,
		chunkTimeout: cfg.ChunkTimeout,
		newKey:       func() string { return "tts/" + uuid.NewString() + ".mp3" },
	}
	if p.voice == "" {
		p.voice = "nova"
	}
	if p.limit <= 0 {
		p.limit = 400
	}
	if p.workers <= 0 {
		p.workers = 3
	}
	if p.chunkTimeout <= 0 {
		p.chunkTimeout = 20 * time.Second
	}
	return p, nil
}

// Speak chunks text and synthesizes the chunks concurrently. Segments come
// back in chunk order; a chunk that failed twice has an empty URL.
func (p *Pipeline) Speak(ctx context.Context, text string) []Segment {
	chunks := Chunk(text, p.limit)
	if len(chunks) == 0 {
		return nil
	}

	ctx, span := tracex.StartSpan(ctx, "tts.synthesize",
		attribute.Int("tts.chunks", len(chunks)),
		attribute.String("tts.voice", p.voice),
	)
	defer span.End()

	segments := make([]Segment, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, chunk := range chunks {
		segments[i] = Segment{Index: i, Text: chunk}
		g.Go(func() error {
			url, err := p.chunkURL(gctx, chunk)
			if err != nil {
				log.Warn().Err(err).Int("chunk", i).Msg("speech chunk omitted")
				return nil
			}
			segments[i].URL = url
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, s := range segments {
		if s.URL == "" {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("tts.failed", failed))
	log.Debug().Int("chunks", len(chunks)).Int("failed", failed).Msg("speech synthesized")
	return segments
}

func (p *Pipeline) chunkURL(ctx context.Context, text string) (string, error) {
	v, err := p.cache.Remember(ctx, p.cacheKey(text), urlCacheTTL, func(ctx context.Context) (any, error) {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			url, err := p.synthesizeOnce(ctx, text)
			if err == nil {
				return url, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			log.Debug().Err(err).Int("attempt", attempt).Msg("speech chunk attempt failed")
		}
		return nil, lastErr
	})
	if err != nil {
		return "", err
	}
	url, _ := v.(string)
	return url, nil
}

func (p *Pipeline) synthesizeOnce(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.chunkTimeout)
	defer cancel()

	audio, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", errors.New("synthesizer returned no audio")
	}
	url, err := p.store.Put(ctx, p.newKey(), audio, audioContentType)
	if err != nil {
		return "", fmt.Errorf("upload speech audio: %w", err)
	}
	return url, nil
}

func (p *Pipeline) cacheKey(text string) string {
	sum := md5.Sum([]byte(text + ":" + p.voice))
	return cachex.Key("tts", hex.EncodeToString(sum[:]))
}
