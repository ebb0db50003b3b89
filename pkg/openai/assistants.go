package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog/log"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
)

var _ contractx.AssistantAPI = (*Client)(nil)

// EnsureAssistant returns the id of the assistant named def.Name, creating it
// with def's model, instructions and tools when none exists.
func (c *Client) EnsureAssistant(ctx context.Context, def contractx.AssistantDefinition) (string, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return "", errors.New("assistant name is required")
	}

	pager := c.sdk.Beta.Assistants.ListAutoPaging(ctx, openaisdk.BetaAssistantListParams{
		Limit: openaisdk.Int(100),
		Order: openaisdk.BetaAssistantListParamsOrderDesc,
	})
	for pager.Next() {
		a := pager.Current()
		if a.Name == name {
			log.Info().Str("assistant_id", a.ID).Str("name", name).Msg("found existing assistant")
			return a.ID, nil
		}
	}
	if err := pager.Err(); err != nil {
		return "", fmt.Errorf("list assistants: %w", err)
	}

	model := def.Model
	if strings.TrimSpace(model) == "" {
		model = openaisdk.ChatModelGPT4o
	}
	params := openaisdk.BetaAssistantNewParams{
		Model: shared.ChatModel(model),
		Name:  openaisdk.String(name),
		Tools: toolParams(def.Tools),
	}
	if def.Instructions != "" {
		params.Instructions = openaisdk.String(def.Instructions)
	}

	created, err := c.sdk.Beta.Assistants.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	log.Info().Str("assistant_id", created.ID).Str("name", name).Msg("created assistant")
	return created.ID, nil
}

func toolParams(defs []contractx.ToolDefinition) []openaisdk.AssistantToolUnionParam {
	tools := make([]openaisdk.AssistantToolUnionParam, 0, len(defs))
	for _, d := range defs {
		fn := shared.FunctionDefinitionParam{
			Name:       d.Name,
			Parameters: shared.FunctionParameters(d.Parameters),
		}
		if d.Description != "" {
			fn.Description = openaisdk.String(d.Description)
		}
		tools = append(tools, openaisdk.AssistantToolUnionParam{
			OfFunction: &openaisdk.FunctionToolParam{Function: fn},
		})
	}
	return tools
}

func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.sdk.Beta.Threads.New(ctx, openaisdk.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := c.sdk.Beta.Threads.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

func (c *Client) AddUserMessage(ctx context.Context, threadID string, text string) error {
	_, err := c.sdk.Beta.Threads.Messages.New(ctx, threadID, openaisdk.BetaThreadMessageNewParams{
		Content: openaisdk.BetaThreadMessageNewParamsContentUnion{OfString: openaisdk.String(text)},
		Role:    openaisdk.BetaThreadMessageNewParamsRoleUser,
	})
	if err != nil {
		return fmt.Errorf("add message to thread %s: %w", threadID, err)
	}
	return nil
}

// LatestAssistantReply returns the text of the newest assistant message on the
// thread, or "" when there is none.
func (c *Client) LatestAssistantReply(ctx context.Context, threadID string) (string, error) {
	page, err := c.sdk.Beta.Threads.Messages.List(ctx, threadID, openaisdk.BetaThreadMessageListParams{
		Limit: openaisdk.Int(10),
		Order: openaisdk.BetaThreadMessageListParamsOrderDesc,
	})
	if err != nil {
		return "", fmt.Errorf("list messages for thread %s: %w", threadID, err)
	}

	for _, msg := range page.Data {
		if msg.Role != openaisdk.MessageRoleAssistant {
			continue
		}
		var b strings.Builder
		for _, part := range msg.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		return b.String(), nil
	}
	return "", nil
}

func (c *Client) CreateRun(ctx context.Context, threadID string, assistantID string) (contractx.Run, error) {
	run, err := c.sdk.Beta.Threads.Runs.New(ctx, threadID, openaisdk.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return contractx.Run{}, fmt.Errorf("create run: %w", err)
	}
	return toRun(run), nil
}

func (c *Client) GetRun(ctx context.Context, threadID string, runID string) (contractx.Run, error) {
	run, err := c.sdk.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return contractx.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return toRun(run), nil
}

func (c *Client) CancelRun(ctx context.Context, threadID string, runID string) error {
	if _, err := c.sdk.Beta.Threads.Runs.Cancel(ctx, threadID, runID); err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}
	return nil
}

func (c *Client) SubmitToolOutputs(
	ctx context.Context,
	threadID string,
	runID string,
	outputs []contractx.ToolOutput,
) (contractx.Run, error) {
	run, err := c.sdk.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, submitParams(outputs))
	if err != nil {
		return contractx.Run{}, fmt.Errorf("submit tool outputs for run %s: %w", runID, err)
	}
	return toRun(run), nil
}

func submitParams(outputs []contractx.ToolOutput) openaisdk.BetaThreadRunSubmitToolOutputsParams {
	params := openaisdk.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openaisdk.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openaisdk.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			Output:     openaisdk.String(out.Output),
			ToolCallID: openaisdk.String(out.CallID),
		})
	}
	return params
}

func toRun(run *openaisdk.Run) contractx.Run {
	if run == nil {
		return contractx.Run{}
	}
	out := contractx.Run{
		ID:       run.ID,
		ThreadID: run.ThreadID,
		Status:   contractx.RunStatus(run.Status),
	}
	if run.LastError.Message != "" {
		out.LastError = fmt.Sprintf("%s: %s", run.LastError.Code, run.LastError.Message)
	}
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, contractx.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out
}
