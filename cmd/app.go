package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Champsson/Kooler-Agent/agent/agents/orchestrator"
	"github.com/Champsson/Kooler-Agent/agent/channel"
	"github.com/Champsson/Kooler-Agent/agent/knowledge"
	"github.com/Champsson/Kooler-Agent/agent/llm"
	"github.com/Champsson/Kooler-Agent/agent/speech"
	statex "github.com/Champsson/Kooler-Agent/agent/state"
	"github.com/Champsson/Kooler-Agent/agent/tool"
	cachex "github.com/Champsson/Kooler-Agent/pkg/cache"
	configx "github.com/Champsson/Kooler-Agent/pkg/config"
	openaix "github.com/Champsson/Kooler-Agent/pkg/openai"
	pineconex "github.com/Champsson/Kooler-Agent/pkg/pinecone"
	servicetitanx "github.com/Champsson/Kooler-Agent/pkg/servicetitan"
	storagex "github.com/Champsson/Kooler-Agent/pkg/storage"
	tracex "github.com/Champsson/Kooler-Agent/pkg/tracing"
	twiliox "github.com/Champsson/Kooler-Agent/pkg/twilio"
	upstashx "github.com/Champsson/Kooler-Agent/pkg/upstash"
)

type AppConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	PublicBaseURL   string        `split_words:"true"`
	ReadTimeout     time.Duration `split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `split_words:"true" default:"150s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
}

// app is the wired service. close releases everything opened in buildApp in
// reverse order.
type app struct {
	cfg     *AppConfig
	handler channel.Deps
	closers []func(context.Context) error
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("shutdown step failed")
		}
	}
}

func buildApp(ctx context.Context) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.cfg, err = configx.New[AppConfig]("APP")
	if err != nil {
		return nil, err
	}

	traceCfg, err := configx.New[tracex.Config]("TRACE")
	if err != nil {
		return nil, err
	}
	shutdownTracing, err := tracex.Init(ctx, *traceCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	cache, err := newCache()
	if err != nil {
		return nil, err
	}
	oai, err := newOpenAI()
	if err != nil {
		return nil, err
	}
	registry, err := newToolRegistry(oai, cache)
	if err != nil {
		return nil, err
	}

	store, err := newSessionStore(ctx)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	assistantCfg, err := configx.New[llm.Config]("ASSISTANT")
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(orchestrator.Deps{
		Store: store,
		API:   oai,
		Tools: registry,
		Cache: cache,
	}, *assistantCfg)
	if err != nil {
		return nil, err
	}

	twilioCfg, err := configx.New[twiliox.Config]("TWILIO")
	if err != nil {
		return nil, err
	}

	a.handler = channel.Deps{
		Conversation:      orch,
		Transcriber:       oai,
		Media:             twiliox.NewMediaClient(*twilioCfg, nil),
		GreetingURL:       twilioCfg.GreetingURL,
		ValidateSignature: twilioCfg.ValidateSignature,
		AuthToken:         twilioCfg.AuthToken,
		PublicBaseURL:     a.cfg.PublicBaseURL,
	}

	audio, err := newAudioStore(ctx, a.cfg.PublicBaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("audio storage unavailable, voice replies will use <Say>")
		return a, nil
	}
	if local, ok := audio.(*storagex.LocalStore); ok {
		a.handler.AudioFiles = local
	}

	pipeline, err := newSpeechPipeline(oai, audio, cache)
	if err != nil {
		return nil, err
	}
	a.handler.Speech = pipeline

	return a, nil
}

func newCache() (*cachex.Cache, error) {
	cfg, err := configx.New[cachex.Config]("CACHE")
	if err != nil {
		return nil, err
	}
	return cachex.NewFromConfig(*cfg), nil
}

func newOpenAI() (*openaix.Client, error) {
	cfg, err := configx.New[openaix.Config]("OPENAI")
	if err != nil {
		return nil, err
	}
	return openaix.NewClient(*cfg)
}

func newPinecone() (*pineconex.Client, *pineconex.Config, error) {
	cfg, err := configx.New[pineconex.Config]("PINECONE")
	if err != nil {
		return nil, nil, err
	}
	client, err := pineconex.NewClient(*cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// newToolRegistry registers the knowledge tool when Pinecone is configured
// and the ServiceTitan tools always; the latter report missing credentials
// as tool output.
func newToolRegistry(oai *openaix.Client, cache *cachex.Cache) (*tool.Registry, error) {
	var deps tool.Deps

	index, pcCfg, err := newPinecone()
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("knowledge search disabled")
	default:
		searcher, err := knowledge.NewSearcher(oai, index, pcCfg.TopK)
		if err != nil {
			return nil, err
		}
		deps.Knowledge = searcher
	}

	stCfg, err := configx.New[servicetitanx.Config]("SERVICETITAN")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(stCfg.ClientID) == "" {
		log.Warn().Msg("ServiceTitan credentials are not configured; scheduling tools will report errors")
	}
	st, err := servicetitanx.NewClient(*stCfg, cache)
	if err != nil {
		return nil, err
	}
	deps.Scheduler = st

	return tool.NewRegistry(cache, tool.Builtins(deps)...)
}

func newSessionStore(ctx context.Context) (statex.Store, error) {
	cfg, err := configx.New[statex.Config]("SESSION")
	if err != nil {
		return nil, err
	}

	var upstash *upstashx.Client
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "upstash", "redis":
		upCfg, err := configx.New[upstashx.Config]("UPSTASH_REDIS")
		if err != nil {
			return nil, err
		}
		if upstash, err = upstashx.NewClient(*upCfg); err != nil {
			return nil, err
		}
	}

	store, err := statex.Open(ctx, *cfg, upstash)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("session store ready")
	return store, nil
}

func newAudioStore(ctx context.Context, publicBaseURL string) (storagex.AudioStore, error) {
	cfg, err := configx.New[storagex.Config]("STORAGE")
	if err != nil {
		return nil, err
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = publicBaseURL
	}
	if strings.EqualFold(cfg.Driver, "local") && cfg.PublicBaseURL == "" {
		return nil, errors.New("local audio storage needs APP_PUBLIC_BASE_URL or STORAGE_PUBLIC_BASE_URL")
	}
	return storagex.Open(ctx, *cfg)
}

func newSpeechPipeline(oai *openaix.Client, audio storagex.AudioStore, cache *cachex.Cache) (*speech.Pipeline, error) {
	cfg, err := configx.New[speech.Config]("TTS")
	if err != nil {
		return nil, err
	}
	return speech.NewPipeline(oai.Synthesizer(cfg.Voice, cfg.Model), audio, cache, *cfg)
}
