package contract

import "slices"

type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelSMS   Channel = "sms"
	ChannelAPI   Channel = "api"
)

type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

var terminalStatuses = []RunStatus{RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete}

func (s RunStatus) Terminal() bool {
	return slices.Contains(terminalStatuses, s)
}

// Run is the provider-neutral view of a remote assistant run.
type Run struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id"`
	Status    RunStatus  `json:"status"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// ToolCall is a pending function call; Arguments is the raw JSON object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolOutput struct {
	CallID string `json:"tool_call_id"`
	Output string `json:"output"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type AssistantDefinition struct {
	Name         string
	Model        string
	Instructions string
	Tools        []ToolDefinition
}

type RunEventType string

const (
	EventRunStatus      RunEventType = "run_status"
	EventMessageStarted RunEventType = "message_started"
	EventDelta          RunEventType = "delta"
	EventRequiresAction RunEventType = "requires_action"
	EventCompleted      RunEventType = "completed"
	EventFailed         RunEventType = "failed"
	EventError          RunEventType = "error"
)

// RunEvent is one item of a streamed run. Run is set for run_status,
// requires_action, completed and failed; Delta for delta; Err for error.
type RunEvent struct {
	Type  RunEventType
	Delta string
	Run   Run
	Err   error
}
