package contract

import "context"

// AssistantAPI is the remote assistant boundary: threads, messages and runs.
type AssistantAPI interface {
	EnsureAssistant(ctx context.Context, def AssistantDefinition) (string, error)

	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	AddUserMessage(ctx context.Context, threadID string, text string) error
	LatestAssistantReply(ctx context.Context, threadID string) (string, error)

	CreateRun(ctx context.Context, threadID string, assistantID string) (Run, error)
	GetRun(ctx context.Context, threadID string, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) error
	SubmitToolOutputs(ctx context.Context, threadID string, runID string, outputs []ToolOutput) (Run, error)

	// Streaming variants close the returned channel once the stream ends.
	StreamRun(ctx context.Context, threadID string, assistantID string) <-chan RunEvent
	StreamToolOutputs(ctx context.Context, threadID string, runID string, outputs []ToolOutput) <-chan RunEvent
}

// ToolDispatcher turns pending tool calls into outputs. It never fails: every
// call yields exactly one output, in input order.
type ToolDispatcher interface {
	Definitions() []ToolDefinition
	DispatchAll(ctx context.Context, calls []ToolCall) []ToolOutput
}

// Conversation answers one inbound message for a session.
type Conversation interface {
	HandleMessage(ctx context.Context, sessionKey string, channel Channel, text string) (string, error)
}
