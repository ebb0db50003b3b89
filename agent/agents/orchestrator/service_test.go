package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	"github.com/Champsson/Kooler-Agent/agent/llm"
	nodex "github.com/Champsson/Kooler-Agent/agent/nodes/orchestrator"
	statex "github.com/Champsson/Kooler-Agent/agent/state"
	cachex "github.com/Champsson/Kooler-Agent/pkg/cache"
)

type fakeAPI struct {
	mu sync.Mutex

	threadDelay time.Duration
	threads     int
	deleted     []string
	messages    []string
	addErr      error

	ensureCalls int

	createRun contractx.Run
	runs      []contractx.Run
	submitRun contractx.Run
	submitted [][]contractx.ToolOutput
	cancelled []string

	streams     [][]contractx.RunEvent
	streamCalls int
	// holdOpen leaves streams open after their events, like a run that never finishes.
	holdOpen bool

	reply string
}

func (f *fakeAPI) EnsureAssistant(_ context.Context, def contractx.AssistantDefinition) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	return "asst_" + strings.ReplaceAll(def.Name, " ", "_"), nil
}

func (f *fakeAPI) CreateThread(context.Context) (string, error) {
	if f.threadDelay > 0 {
		time.Sleep(f.threadDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return "thread_" + string(rune('0'+f.threads)), nil
}

func (f *fakeAPI) DeleteThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, threadID)
	return nil
}

func (f *fakeAPI) AddUserMessage(_ context.Context, threadID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.messages = append(f.messages, threadID+":"+text)
	return nil
}

func (f *fakeAPI) LatestAssistantReply(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply, nil
}

func (f *fakeAPI) CreateRun(_ context.Context, threadID string, _ string) (contractx.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.createRun
	if run.ID == "" {
		run = contractx.Run{ID: "run_1", Status: contractx.RunQueued}
	}
	run.ThreadID = threadID
	return run, nil
}

func (f *fakeAPI) GetRun(_ context.Context, threadID string, runID string) (contractx.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return contractx.Run{ID: runID, ThreadID: threadID, Status: contractx.RunInProgress}, nil
	}
	run := f.runs[0]
	f.runs = f.runs[1:]
	run.ID, run.ThreadID = runID, threadID
	return run, nil
}

func (f *fakeAPI) CancelRun(_ context.Context, _ string, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeAPI) SubmitToolOutputs(
	_ context.Context,
	threadID string,
	runID string,
	outputs []contractx.ToolOutput,
) (contractx.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, append([]contractx.ToolOutput(nil), outputs...))
	run := f.submitRun
	if run.Status == "" {
		run.Status = contractx.RunInProgress
	}
	run.ID, run.ThreadID = runID, threadID
	return run, nil
}

func (f *fakeAPI) nextStream() <-chan contractx.RunEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan contractx.RunEvent, 16)
	if f.streamCalls < len(f.streams) {
		for _, ev := range f.streams[f.streamCalls] {
			ch <- ev
		}
	}
	f.streamCalls++
	if !f.holdOpen {
		close(ch)
	}
	return ch
}

func (f *fakeAPI) StreamRun(context.Context, string, string) <-chan contractx.RunEvent {
	return f.nextStream()
}

func (f *fakeAPI) StreamToolOutputs(
	_ context.Context,
	_ string,
	_ string,
	outputs []contractx.ToolOutput,
) <-chan contractx.RunEvent {
	f.mu.Lock()
	f.submitted = append(f.submitted, append([]contractx.ToolOutput(nil), outputs...))
	f.mu.Unlock()
	return f.nextStream()
}

type fakeTools struct {
	mu    sync.Mutex
	calls [][]contractx.ToolCall
}

func (f *fakeTools) Definitions() []contractx.ToolDefinition {
	return []contractx.ToolDefinition{{Name: "knowledge_search"}}
}

func (f *fakeTools) DispatchAll(_ context.Context, calls []contractx.ToolCall) []contractx.ToolOutput {
	f.mu.Lock()
	f.calls = append(f.calls, calls)
	f.mu.Unlock()

	outputs := make([]contractx.ToolOutput, len(calls))
	for i, c := range calls {
		out := "ok:" + c.Name
		if c.Name == "lookup_customer" {
			out = "Error: ServiceTitan unavailable"
		}
		outputs[i] = contractx.ToolOutput{CallID: c.ID, Output: out}
	}
	return outputs
}

func testConfig() llm.Config {
	return llm.Config{
		Name:         llm.DefaultAssistantName,
		Model:        "gpt-4o",
		PollInterval: time.Millisecond,
		RunTimeout:   2 * time.Second,
		CacheTTL:     time.Hour,
	}
}

func newOrchestrator(t *testing.T, api *fakeAPI, store statex.Store, cfg llm.Config) *Orchestrator {
	t.Helper()

	o, err := New(Deps{Store: store, API: api, Tools: &fakeTools{}, Cache: cachex.New()}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	api := &fakeAPI{}
	tools := &fakeTools{}

	cases := []Deps{
		{API: api, Tools: tools},
		{Store: store, Tools: tools},
		{Store: store, API: api},
	}
	for _, deps := range cases {
		if _, err := New(deps, testConfig()); err == nil {
			t.Fatalf("expected error for deps %+v", deps)
		}
	}
	if _, err := New(Deps{Store: store, API: api, Tools: tools}, llm.Config{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestHandleMessageValidatesInput(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, &fakeAPI{reply: "hi"}, statex.NewMemoryStore(), testConfig())

	_, err := o.HandleMessage(context.Background(), "  ", contractx.ChannelSMS, "hello")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	_, err = o.HandleMessage(context.Background(), "+15551234567", contractx.ChannelSMS, " \n ")
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestFirstMessageCreatesThreadAndSecondReusesIt(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		createRun: contractx.Run{ID: "run_1", Status: contractx.RunCompleted},
		reply:     "Hello from Weggy via SMS!",
	}
	store := statex.NewMemoryStore()
	o := newOrchestrator(t, api, store, testConfig())

	reply, err := o.HandleMessage(context.Background(), "+15551234567", contractx.ChannelSMS, "Hi Weggy")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Hello from Weggy via SMS!" {
		t.Fatalf("unexpected reply %q", reply)
	}

	session, err := store.Load(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if session.ThreadID != "thread_1" || session.Channel != "sms" {
		t.Fatalf("unexpected session %+v", session)
	}

	if _, err := o.HandleMessage(context.Background(), "+15551234567", contractx.ChannelSMS, "Thanks"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if api.threads != 1 {
		t.Fatalf("expected one thread, got %d", api.threads)
	}
	if strings.Join(api.messages, ",") != "thread_1:Hi Weggy,thread_1:Thanks" {
		t.Fatalf("unexpected messages %v", api.messages)
	}
	if api.ensureCalls != 1 {
		t.Fatalf("expected assistant resolved once, got %d", api.ensureCalls)
	}
}

func TestConcurrentFirstMessagesCreateOneThread(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		threadDelay: 20 * time.Millisecond,
		createRun:   contractx.Run{ID: "run_1", Status: contractx.RunCompleted},
		reply:       "ok",
	}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.HandleMessage(context.Background(), "CA123", contractx.ChannelVoice, "hello"); err != nil {
				t.Errorf("HandleMessage() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if api.threads != 1 {
		t.Fatalf("expected exactly one thread, got %d", api.threads)
	}
	for _, m := range api.messages {
		if !strings.HasPrefix(m, "thread_1:") {
			t.Fatalf("message posted to wrong thread: %q", m)
		}
	}
}

type racingStore struct {
	*statex.MemoryStore
	once sync.Once
}

// Create simulates another process recording the key first.
func (s *racingStore) Create(ctx context.Context, session *statex.ConversationSession) error {
	s.once.Do(func() {
		_ = s.MemoryStore.Create(ctx, statex.NewConversationSession(session.SessionKey, "thread_other", "sms", time.Now()))
	})
	return s.MemoryStore.Create(ctx, session)
}

func TestLosingCreateAdoptsStoredThread(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{createRun: contractx.Run{ID: "run_1", Status: contractx.RunCompleted}, reply: "ok"}
	o := newOrchestrator(t, api, &racingStore{MemoryStore: statex.NewMemoryStore()}, testConfig())

	if _, err := o.HandleMessage(context.Background(), "+1555", contractx.ChannelSMS, "hi"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "thread_1" {
		t.Fatalf("expected orphan thread deleted, got %v", api.deleted)
	}
	if len(api.messages) != 1 || api.messages[0] != "thread_other:hi" {
		t.Fatalf("expected message on adopted thread, got %v", api.messages)
	}
}

func TestPollingSubmitsOneOutputPerToolCall(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		runs: []contractx.Run{
			{Status: contractx.RunInProgress},
			{Status: contractx.RunRequiresAction, ToolCalls: []contractx.ToolCall{
				{ID: "call_a", Name: "check_availability", Arguments: `{"start_date":"2025-05-01","end_date":"2025-05-05"}`},
				{ID: "call_b", Name: "lookup_customer", Arguments: `{"phone_number":"+15551234567"}`},
			}},
			{Status: contractx.RunCompleted},
		},
		reply: "You have openings on May 2.",
	}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), testConfig())

	reply, err := o.HandleMessage(context.Background(), "+15551234567", contractx.ChannelSMS, "any openings?")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "You have openings on May 2." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(api.submitted) != 1 || len(api.submitted[0]) != 2 {
		t.Fatalf("expected one submission with two outputs, got %+v", api.submitted)
	}
	if api.submitted[0][0].CallID != "call_a" || api.submitted[0][1].CallID != "call_b" {
		t.Fatalf("unexpected output order %+v", api.submitted[0])
	}
	if !strings.HasPrefix(api.submitted[0][1].Output, "Error:") {
		t.Fatalf("expected failed tool output, got %q", api.submitted[0][1].Output)
	}
}

func TestPollingFailedRunBecomesReplyText(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{runs: []contractx.Run{{Status: contractx.RunFailed, LastError: "rate_limit_exceeded: slow down"}}}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), testConfig())

	reply, err := o.HandleMessage(context.Background(), "k", contractx.ChannelAPI, "hello")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Error: Assistant run failed with status failed" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestPollingTimeoutCancelsRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RunTimeout = 30 * time.Millisecond
	api := &fakeAPI{}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), cfg)

	reply, err := o.HandleMessage(context.Background(), "k", contractx.ChannelAPI, "hello")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != nodex.TimeoutReply {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(api.cancelled) != 1 || api.cancelled[0] != "run_1" {
		t.Fatalf("expected run cancelled, got %v", api.cancelled)
	}
}

func TestStreamingKeepsFinalMessageAcrossToolCalls(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Stream = true
	api := &fakeAPI{streams: [][]contractx.RunEvent{
		{
			{Type: contractx.EventMessageStarted},
			{Type: contractx.EventDelta, Delta: "Let me check."},
			{Type: contractx.EventRequiresAction, Run: contractx.Run{
				ID:     "run_9",
				Status: contractx.RunRequiresAction,
				ToolCalls: []contractx.ToolCall{
					{ID: "call_1", Name: "knowledge_search", Arguments: `{"query":"hours"}`},
				},
			}},
		},
		{
			{Type: contractx.EventMessageStarted},
			{Type: contractx.EventDelta, Delta: "We are open "},
			{Type: contractx.EventDelta, Delta: "8am to 6pm."},
			{Type: contractx.EventCompleted, Run: contractx.Run{ID: "run_9", Status: contractx.RunCompleted}},
		},
	}}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), cfg)

	reply, err := o.HandleMessage(context.Background(), "k", contractx.ChannelAPI, "hours?")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "We are open 8am to 6pm." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(api.submitted) != 1 || api.submitted[0][0].CallID != "call_1" {
		t.Fatalf("unexpected submissions %+v", api.submitted)
	}
}

func TestStreamingTimeoutCancelsCreatedRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Stream = true
	cfg.RunTimeout = 30 * time.Millisecond
	api := &fakeAPI{
		holdOpen: true,
		streams: [][]contractx.RunEvent{{
			{Type: contractx.EventRunStatus, Run: contractx.Run{ID: "run_7", Status: contractx.RunQueued}},
			{Type: contractx.EventRunStatus, Run: contractx.Run{ID: "run_7", Status: contractx.RunInProgress}},
		}},
	}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), cfg)

	reply, err := o.HandleMessage(context.Background(), "k", contractx.ChannelAPI, "hello")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != nodex.TimeoutReply {
		t.Fatalf("unexpected reply %q", reply)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.cancelled) != 1 || api.cancelled[0] != "run_7" {
		t.Fatalf("expected run_7 cancelled, got %v", api.cancelled)
	}
}

func TestStreamingEmptyBufferFallsBackToLatestReply(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Stream = true
	api := &fakeAPI{
		reply: "from thread",
		streams: [][]contractx.RunEvent{{
			{Type: contractx.EventCompleted, Run: contractx.Run{ID: "run_1", Status: contractx.RunCompleted}},
		}},
	}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), cfg)

	reply, err := o.HandleMessage(context.Background(), "k", contractx.ChannelAPI, "hello")
	if err != nil || reply != "from thread" {
		t.Fatalf("HandleMessage() = %q, %v", reply, err)
	}
}

func TestStreamingFailedRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Stream = true
	api := &fakeAPI{streams: [][]contractx.RunEvent{{
		{Type: contractx.EventFailed, Run: contractx.Run{ID: "run_1", Status: contractx.RunExpired}},
	}}}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), cfg)

	reply, err := o.HandleMessage(context.Background(), "k", contractx.ChannelAPI, "hello")
	if err != nil || reply != "Error: Assistant run failed with status expired" {
		t.Fatalf("HandleMessage() = %q, %v", reply, err)
	}
}

func TestEmptyReplyIsReplaced(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{createRun: contractx.Run{ID: "run_1", Status: contractx.RunCompleted}, reply: "  "}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), testConfig())

	reply, err := o.HandleMessage(context.Background(), "k", contractx.ChannelAPI, "hello")
	if err != nil || reply != nodex.EmptyReply {
		t.Fatalf("HandleMessage() = %q, %v", reply, err)
	}
}

func TestAddMessageFailureIsProcessingError(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{addErr: errors.New("thread locked")}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), testConfig())

	_, err := o.HandleMessage(context.Background(), "k", contractx.ChannelAPI, "hello")
	if !errors.Is(err, contractx.ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
}

func TestConfiguredAssistantIDSkipsLookup(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ID = "asst_pinned"
	api := &fakeAPI{}
	o := newOrchestrator(t, api, statex.NewMemoryStore(), cfg)

	id, err := o.AssistantID(context.Background())
	if err != nil || id != "asst_pinned" {
		t.Fatalf("AssistantID() = %q, %v", id, err)
	}
	if api.ensureCalls != 0 {
		t.Fatalf("expected no lookup, got %d", api.ensureCalls)
	}
}

func TestFallbackReply(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"What are your HOURS?":           hoursReply,
		"is there a warranty":            warrantyReply,
		"I need an appointment":          appointmentReply,
		"can I schedule a repair":        appointmentReply,
		"my door makes a grinding noise": greetingReply,
	}
	for in, want := range cases {
		if got := FallbackReply(in); got != want {
			t.Fatalf("FallbackReply(%q) = %q, want %q", in, got, want)
		}
	}
}
