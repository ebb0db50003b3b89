package openai

import (
	"context"
	"errors"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
)

const eventBuffer = 16

func (c *Client) StreamRun(ctx context.Context, threadID string, assistantID string) <-chan contractx.RunEvent {
	stream := c.sdk.Beta.Threads.Runs.NewStreaming(ctx, threadID, openaisdk.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	return pump(ctx, stream)
}

func (c *Client) StreamToolOutputs(
	ctx context.Context,
	threadID string,
	runID string,
	outputs []contractx.ToolOutput,
) <-chan contractx.RunEvent {
	stream := c.sdk.Beta.Threads.Runs.SubmitToolOutputsStreaming(ctx, threadID, runID, submitParams(outputs))
	return pump(ctx, stream)
}

// pump drains stream on its own goroutine and forwards translated events. The
// channel is closed when the stream ends or ctx is done.
func pump(ctx context.Context, stream *ssestream.Stream[openaisdk.AssistantStreamEventUnion]) <-chan contractx.RunEvent {
	out := make(chan contractx.RunEvent, eventBuffer)

	go func() {
		defer close(out)
		defer stream.Close()

		send := func(ev contractx.RunEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			ev, ok := translate(stream.Current())
			if !ok {
				continue
			}
			if !send(ev) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(contractx.RunEvent{Type: contractx.EventError, Err: err})
		}
	}()

	return out
}

func translate(ev openaisdk.AssistantStreamEventUnion) (contractx.RunEvent, bool) {
	switch ev.Event {
	case "thread.run.created":
		run := ev.AsThreadRunCreated().Data
		return contractx.RunEvent{Type: contractx.EventRunStatus, Run: toRun(&run)}, true
	case "thread.run.queued":
		run := ev.AsThreadRunQueued().Data
		return contractx.RunEvent{Type: contractx.EventRunStatus, Run: toRun(&run)}, true
	case "thread.run.in_progress":
		run := ev.AsThreadRunInProgress().Data
		return contractx.RunEvent{Type: contractx.EventRunStatus, Run: toRun(&run)}, true
	case "thread.run.cancelling":
		run := ev.AsThreadRunCancelling().Data
		return contractx.RunEvent{Type: contractx.EventRunStatus, Run: toRun(&run)}, true
	case "thread.message.created":
		return contractx.RunEvent{Type: contractx.EventMessageStarted}, true
	case "thread.message.delta":
		var b strings.Builder
		for _, part := range ev.AsThreadMessageDelta().Data.Delta.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		if b.Len() == 0 {
			return contractx.RunEvent{}, false
		}
		return contractx.RunEvent{Type: contractx.EventDelta, Delta: b.String()}, true
	case "thread.run.requires_action":
		run := ev.AsThreadRunRequiresAction().Data
		return contractx.RunEvent{Type: contractx.EventRequiresAction, Run: toRun(&run)}, true
	case "thread.run.completed":
		run := ev.AsThreadRunCompleted().Data
		return contractx.RunEvent{Type: contractx.EventCompleted, Run: toRun(&run)}, true
	case "thread.run.failed":
		run := ev.AsThreadRunFailed().Data
		return contractx.RunEvent{Type: contractx.EventFailed, Run: toRun(&run)}, true
	case "thread.run.cancelled":
		run := ev.AsThreadRunCancelled().Data
		return contractx.RunEvent{Type: contractx.EventFailed, Run: toRun(&run)}, true
	case "thread.run.expired":
		run := ev.AsThreadRunExpired().Data
		return contractx.RunEvent{Type: contractx.EventFailed, Run: toRun(&run)}, true
	case "thread.run.incomplete":
		run := ev.AsThreadRunIncomplete().Data
		return contractx.RunEvent{Type: contractx.EventFailed, Run: toRun(&run)}, true
	case "error":
		data := ev.AsErrorEvent().Data
		return contractx.RunEvent{Type: contractx.EventError, Err: errors.New(data.Message)}, true
	default:
		return contractx.RunEvent{}, false
	}
}
