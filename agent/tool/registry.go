// Package tool holds the functions the assistant may call and dispatches its
// pending tool calls.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	cachex "github.com/Champsson/Kooler-Agent/pkg/cache"
	tracex "github.com/Champsson/Kooler-Agent/pkg/tracing"
)

const dispatchLimit = 4

// Args are the decoded call arguments. Non-string JSON values arrive in their
// JSON text form.
type Args map[string]string

type Handler func(ctx context.Context, args Args) (string, error)

// ReplyError is a failed call that still has text for the assistant. The
// text is sent as the output and, like any error, is never cached.
type ReplyError struct {
	Text string
	Err  error
}

func (e *ReplyError) Error() string {
	if e.Err == nil {
		return e.Text
	}
	return e.Err.Error()
}

func (e *ReplyError) Unwrap() error { return e.Err }

type Param struct {
	Name        string
	Description string
	Required    bool
}

type Tool struct {
	Name        string
	Description string
	Parameters  []Param
	// CacheTTL > 0 memoizes successful outputs per argument set.
	CacheTTL time.Duration
	Handler  Handler
}

// Registry is immutable after NewRegistry and safe for concurrent use.
type Registry struct {
	tools  []Tool
	byName map[string]int
	cache  *cachex.Cache
}

var _ contractx.ToolDispatcher = (*Registry)(nil)

func NewRegistry(cache *cachex.Cache, tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:  make([]Tool, 0, len(tools)),
		byName: make(map[string]int, len(tools)),
		cache:  cache,
	}
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, errors.New("tool name is required")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %s: handler is required", name)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("tool %s registered twice", name)
		}
		t.Name = name
		r.byName[name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return r, nil
}

// Definitions describes every tool as a JSON-schema function, in
// registration order.
func (r *Registry) Definitions() []contractx.ToolDefinition {
	defs := make([]contractx.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		properties := make(map[string]any, len(t.Parameters))
		required := make([]string, 0, len(t.Parameters))
		for _, p := range t.Parameters {
			properties[p.Name] = map[string]any{
				"type":        "string",
				"description": p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		defs = append(defs, contractx.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		})
	}
	return defs
}

// Dispatch runs one call. Every failure, including an unknown tool or a
// panicking handler, is reported in the output text.
func (r *Registry) Dispatch(ctx context.Context, call contractx.ToolCall) contractx.ToolOutput {
	ctx, span := tracex.StartSpan(ctx, "tool.dispatch",
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)
	defer span.End()

	logger := log.With().Str("tool", call.Name).Str("call_id", call.ID).Logger()
	out := contractx.ToolOutput{CallID: call.ID}

	idx, ok := r.byName[call.Name]
	if !ok {
		logger.Warn().Msg("assistant requested unknown tool")
		out.Output = "Error: Unknown tool " + call.Name
		return out
	}
	t := r.tools[idx]

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid tool arguments")
		out.Output = fmt.Sprintf("Error: invalid arguments for %s: %v", t.Name, err)
		return out
	}
	for _, p := range t.Parameters {
		if p.Required && strings.TrimSpace(args[p.Name]) == "" {
			out.Output = fmt.Sprintf("Error: missing required argument %s for %s", p.Name, t.Name)
			return out
		}
	}

	started := time.Now()
	result, err := r.invoke(ctx, t, args)
	var replyErr *ReplyError
	if errors.As(err, &replyErr) {
		logger.Warn().Err(err).Dur("elapsed", time.Since(started)).Msg("tool failed with reply")
		span.RecordError(err)
		out.Output = replyErr.Text
		return out
	}
	if err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("tool failed")
		span.RecordError(err)
		out.Output = "Error: " + err.Error()
		return out
	}
	logger.Info().Dur("elapsed", time.Since(started)).Msg("tool completed")
	out.Output = result
	return out
}

// DispatchAll runs calls concurrently and returns one output per call in the
// input order.
func (r *Registry) DispatchAll(ctx context.Context, calls []contractx.ToolCall) []contractx.ToolOutput {
	outputs := make([]contractx.ToolOutput, len(calls))

	var g errgroup.Group
	g.SetLimit(dispatchLimit)
	for i, call := range calls {
		g.Go(func() error {
			outputs[i] = r.Dispatch(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

func (r *Registry) invoke(ctx context.Context, t Tool, args Args) (string, error) {
	if t.CacheTTL <= 0 || r.cache == nil {
		return safeCall(ctx, t, args)
	}

	v, err := r.cache.Remember(ctx, cacheKey(t, args), t.CacheTTL, func(ctx context.Context) (any, error) {
		return safeCall(ctx, t, args)
	})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func safeCall(ctx context.Context, t Tool, args Args) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("tool", t.Name).Interface("panic", rec).Msg("tool panicked")
			result, err = "", fmt.Errorf("tool %s panicked", t.Name)
		}
	}()
	return t.Handler(ctx, args)
}

// cacheKey lists the non-empty arguments in parameter declaration order.
func cacheKey(t Tool, args Args) string {
	kv := make([]string, 0, 2*len(t.Parameters))
	for _, p := range t.Parameters {
		if v := strings.TrimSpace(args[p.Name]); v != "" {
			kv = append(kv, p.Name, v)
		}
	}
	return cachex.Key(t.Name, kv...)
}

func decodeArgs(raw string) (Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Args{}, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	args := make(Args, len(decoded))
	for k, v := range decoded {
		switch val := v.(type) {
		case nil:
		case string:
			args[k] = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			args[k] = string(b)
		}
	}
	return args, nil
}
