// Package orchestrator answers one inbound message per call by driving the
// remote assistant on the caller's thread.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	"github.com/Champsson/Kooler-Agent/agent/llm"
	nodex "github.com/Champsson/Kooler-Agent/agent/nodes/orchestrator"
	"github.com/Champsson/Kooler-Agent/agent/prompt"
	statex "github.com/Champsson/Kooler-Agent/agent/state"
	cachex "github.com/Champsson/Kooler-Agent/pkg/cache"
	tracex "github.com/Champsson/Kooler-Agent/pkg/tracing"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

type Deps struct {
	Store statex.Store
	API   contractx.AssistantAPI
	Tools contractx.ToolDispatcher
	// Cache memoizes the resolved assistant id. Optional.
	Cache *cachex.Cache
}

type Orchestrator struct {
	store statex.Store
	api   contractx.AssistantAPI
	tools contractx.ToolDispatcher
	cache *cachex.Cache
	cfg   llm.Config

	threads     singleflight.Group
	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

var _ contractx.Conversation = (*Orchestrator)(nil)

func New(deps Deps, cfg llm.Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.API == nil {
		return nil, errors.New("assistant api is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		store: deps.Store,
		api:   deps.API,
		tools: deps.Tools,
		cache: deps.Cache,
		cfg:   cfg,
		now:   time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

func (o *Orchestrator) HandleMessage(
	ctx context.Context,
	sessionKey string,
	channel contractx.Channel,
	text string,
) (reply string, err error) {
	ctx, span := tracex.StartSpan(ctx, "orchestrator.handle_message",
		attribute.String("session.key", sessionKey),
		attribute.String("session.channel", string(channel)),
	)
	defer func() { tracex.End(span, err) }()

	started := o.now()
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionKey: sessionKey,
		Channel:    channel,
		Text:       text,
	})
	if err != nil {
		log.Error().Err(err).Str("session_key", sessionKey).Str("channel", string(channel)).Msg("handle message failed")
		return "", err
	}

	log.Info().
		Str("session_key", sessionKey).
		Str("channel", string(channel)).
		Dur("elapsed", o.now().Sub(started)).
		Msg("message handled")
	return out.Reply, nil
}

// AssistantID returns the configured assistant id, or looks the assistant up
// by name and creates it when missing. The result is cached for CacheTTL.
func (o *Orchestrator) AssistantID(ctx context.Context) (string, error) {
	if id := strings.TrimSpace(o.cfg.ID); id != "" {
		return id, nil
	}

	def := o.cfg.Definition(prompt.Assistant(), o.tools.Definitions())
	v, err := o.cache.Remember(ctx, cachex.Key("assistant", def.Name), o.cfg.CacheTTL, func(ctx context.Context) (any, error) {
		id, err := o.api.EnsureAssistant(ctx, def)
		if err != nil {
			return nil, err
		}
		log.Info().Str("assistant_id", id).Str("name", def.Name).Msg("assistant resolved")
		return id, nil
	})
	if err != nil {
		return "", fmt.Errorf("ensure assistant: %w", err)
	}
	return v.(string), nil
}
