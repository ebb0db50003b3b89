package orchestratornode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
)

const (
	TimeoutReply = "Error: Assistant run timed out"

	defaultPollInterval = time.Second
	defaultRunTimeout   = 90 * time.Second
	cancelTimeout       = 5 * time.Second
)

func FailedReply(status contractx.RunStatus) string {
	return fmt.Sprintf("Error: Assistant run failed with status %s", status)
}

type RunOptions struct {
	AssistantID  string
	Stream       bool
	PollInterval time.Duration
	Timeout      time.Duration
}

// RunAssistant runs the assistant on the session thread until the run is
// terminal or opts.Timeout elapses. Run failures and timeouts become reply
// text; only transport failures are returned as errors.
func RunAssistant(
	ctx context.Context,
	in *GraphState,
	api contractx.AssistantAPI,
	tools contractx.ToolDispatcher,
	opts RunOptions,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: session is not resolved", contractx.ErrValidation)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRunTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	r := &runner{
		api:         api,
		tools:       tools,
		threadID:    in.Session.ThreadID,
		assistantID: opts.AssistantID,
	}

	var (
		reply string
		err   error
	)
	if opts.Stream {
		reply, err = r.stream(runCtx)
	} else {
		reply, err = r.poll(runCtx, opts.PollInterval)
	}
	if err != nil {
		return nil, err
	}
	in.Reply = reply
	return in, nil
}

type runner struct {
	api         contractx.AssistantAPI
	tools       contractx.ToolDispatcher
	threadID    string
	assistantID string
	runID       string
}

func (r *runner) poll(ctx context.Context, interval time.Duration) (string, error) {
	run, err := r.api.CreateRun(ctx, r.threadID, r.assistantID)
	if err != nil {
		return r.fail(ctx, "create run", err)
	}
	r.runID = run.ID

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		switch {
		case run.Status == contractx.RunRequiresAction:
			outputs := r.dispatch(ctx, run.ToolCalls)
			run, err = r.api.SubmitToolOutputs(ctx, r.threadID, r.runID, outputs)
			if err != nil {
				return r.fail(ctx, "submit tool outputs", err)
			}
			continue
		case run.Status == contractx.RunCompleted:
			return r.latestReply(ctx)
		case run.Status.Terminal():
			return r.failed(run), nil
		}

		select {
		case <-ctx.Done():
			return r.timeout(), nil
		case <-ticker.C:
		}

		run, err = r.api.GetRun(ctx, r.threadID, r.runID)
		if err != nil {
			return r.fail(ctx, "get run", err)
		}
	}
}

func (r *runner) stream(ctx context.Context) (string, error) {
	events := r.api.StreamRun(ctx, r.threadID, r.assistantID)

	var text strings.Builder
	for {
		var (
			ev contractx.RunEvent
			ok bool
		)
		select {
		case <-ctx.Done():
			return r.timeout(), nil
		case ev, ok = <-events:
		}
		if !ok {
			if ctx.Err() != nil {
				return r.timeout(), nil
			}
			return "", fmt.Errorf("%w: run stream ended before the run finished", contractx.ErrProcessing)
		}
		if ev.Run.ID != "" {
			r.runID = ev.Run.ID
		}

		switch ev.Type {
		case contractx.EventRunStatus:
			log.Debug().Str("run_id", r.runID).Str("status", string(ev.Run.Status)).Msg("assistant run status")
		case contractx.EventMessageStarted:
			text.Reset()
		case contractx.EventDelta:
			text.WriteString(ev.Delta)
		case contractx.EventRequiresAction:
			outputs := r.dispatch(ctx, ev.Run.ToolCalls)
			events = r.api.StreamToolOutputs(ctx, r.threadID, r.runID, outputs)
		case contractx.EventCompleted:
			if reply := strings.TrimSpace(text.String()); reply != "" {
				return reply, nil
			}
			return r.latestReply(ctx)
		case contractx.EventFailed:
			return r.failed(ev.Run), nil
		case contractx.EventError:
			return r.fail(ctx, "run stream", ev.Err)
		}
	}
}

func (r *runner) dispatch(ctx context.Context, calls []contractx.ToolCall) []contractx.ToolOutput {
	log.Info().
		Str("thread_id", r.threadID).
		Str("run_id", r.runID).
		Int("tool_calls", len(calls)).
		Msg("assistant requested tools")
	return r.tools.DispatchAll(ctx, calls)
}

func (r *runner) latestReply(ctx context.Context) (string, error) {
	reply, err := r.api.LatestAssistantReply(ctx, r.threadID)
	if err != nil {
		return r.fail(ctx, "read reply", err)
	}
	return reply, nil
}

func (r *runner) failed(run contractx.Run) string {
	log.Error().
		Str("thread_id", r.threadID).
		Str("run_id", r.runID).
		Str("status", string(run.Status)).
		Str("last_error", run.LastError).
		Msg("assistant run did not complete")
	return FailedReply(run.Status)
}

// fail reports err as a processing error, unless the run deadline passed, in
// which case the run is treated as timed out.
func (r *runner) fail(ctx context.Context, op string, err error) (string, error) {
	if ctx.Err() != nil {
		return r.timeout(), nil
	}
	return "", fmt.Errorf("%w: %s: %w", contractx.ErrProcessing, op, err)
}

func (r *runner) timeout() string {
	log.Warn().Str("thread_id", r.threadID).Str("run_id", r.runID).Msg("assistant run timed out")
	if r.runID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		if err := r.api.CancelRun(ctx, r.threadID, r.runID); err != nil {
			log.Warn().Err(err).Str("run_id", r.runID).Msg("failed to cancel timed out run")
		}
	}
	return TimeoutReply
}
