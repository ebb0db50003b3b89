package tool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	cachex "github.com/Champsson/Kooler-Agent/pkg/cache"
	servicetitanx "github.com/Champsson/Kooler-Agent/pkg/servicetitan"
)

type fakeScheduler struct {
	availabilityCalls atomic.Int32
	lookupErr         error

	mu     sync.Mutex
	booked []servicetitanx.AppointmentRequest
}

func (f *fakeScheduler) CheckAvailability(_ context.Context, start, end, _, _ string) (string, error) {
	f.availabilityCalls.Add(1)
	return "Available appointment slots between " + start + " and " + end + ":\n- 09:00 to 11:00", nil
}

func (f *fakeScheduler) BookAppointment(_ context.Context, req servicetitanx.AppointmentRequest) (string, error) {
	f.mu.Lock()
	f.booked = append(f.booked, req)
	f.mu.Unlock()
	return "booked " + req.CustomerID, nil
}

func (f *fakeScheduler) LookupCustomer(_ context.Context, phone, _, _ string) (string, error) {
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	return "customer " + phone, nil
}

type fakeSearcher struct{}

func (fakeSearcher) SearchErr(_ context.Context, query string) (string, error) {
	return "kb: " + query, nil
}

// flakySearcher fails its first search and answers after that.
type flakySearcher struct {
	calls atomic.Int32
}

func (f *flakySearcher) SearchErr(_ context.Context, query string) (string, error) {
	if f.calls.Add(1) == 1 {
		return "Sorry, the knowledge base is unreachable.", errors.New("dial tcp: connection refused")
	}
	return "kb: " + query, nil
}

func newBuiltinRegistry(t *testing.T, sched *fakeScheduler) *Registry {
	t.Helper()

	r, err := NewRegistry(cachex.New(), Builtins(Deps{Knowledge: fakeSearcher{}, Scheduler: sched})...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, Args) (string, error) { return "", nil }
	if _, err := NewRegistry(nil, Tool{Name: " ", Handler: noop}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := NewRegistry(nil, Tool{Name: "a"}); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if _, err := NewRegistry(nil, Tool{Name: "a", Handler: noop}, Tool{Name: "a", Handler: noop}); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestDefinitionsAdvertiseSchema(t *testing.T) {
	t.Parallel()

	defs := newBuiltinRegistry(t, &fakeScheduler{}).Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "knowledge_search,check_availability,book_appointment,lookup_customer" {
		t.Fatalf("unexpected tools: %v", names)
	}

	params := defs[1].Parameters
	if params["type"] != "object" {
		t.Fatalf("unexpected schema type: %v", params["type"])
	}
	required, _ := params["required"].([]string)
	if strings.Join(required, ",") != "start_date,end_date" {
		t.Fatalf("unexpected required: %v", required)
	}
	props, _ := params["properties"].(map[string]any)
	if len(props) != 4 {
		t.Fatalf("expected 4 properties, got %d", len(props))
	}
}

func TestDispatchUnknownToolIsNotFatal(t *testing.T) {
	t.Parallel()

	out := newBuiltinRegistry(t, &fakeScheduler{}).Dispatch(context.Background(), contractx.ToolCall{
		ID:        "call_1",
		Name:      "frobnicate",
		Arguments: `{}`,
	})
	if out.CallID != "call_1" {
		t.Fatalf("unexpected call id %q", out.CallID)
	}
	if !strings.Contains(out.Output, "frobnicate") || !strings.HasPrefix(out.Output, "Error:") {
		t.Fatalf("unexpected output %q", out.Output)
	}
}

func TestDispatchArgumentErrors(t *testing.T) {
	t.Parallel()

	r := newBuiltinRegistry(t, &fakeScheduler{})
	ctx := context.Background()

	out := r.Dispatch(ctx, contractx.ToolCall{ID: "1", Name: CheckAvailability, Arguments: `not json`})
	if !strings.HasPrefix(out.Output, "Error: invalid arguments for check_availability:") {
		t.Fatalf("unexpected output %q", out.Output)
	}

	out = r.Dispatch(ctx, contractx.ToolCall{ID: "2", Name: CheckAvailability, Arguments: `{"start_date":"2025-05-01"}`})
	if out.Output != "Error: missing required argument end_date for check_availability" {
		t.Fatalf("unexpected output %q", out.Output)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(nil, Tool{
		Name:    "explode",
		Handler: func(context.Context, Args) (string, error) { panic("boom") },
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	out := r.Dispatch(context.Background(), contractx.ToolCall{ID: "1", Name: "explode"})
	if out.Output != "Error: tool explode panicked" {
		t.Fatalf("unexpected output %q", out.Output)
	}
}

func TestDispatchAllOneOutputPerCallInOrder(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{lookupErr: errors.New("ServiceTitan unavailable")}
	r := newBuiltinRegistry(t, sched)

	outputs := r.DispatchAll(context.Background(), []contractx.ToolCall{
		{ID: "call_a", Name: KnowledgeSearch, Arguments: `{"query":"hours"}`},
		{ID: "call_b", Name: LookupCustomer, Arguments: `{"phone_number":"+15551234567"}`},
	})
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if outputs[0].CallID != "call_a" || outputs[0].Output != "kb: hours" {
		t.Fatalf("unexpected first output %+v", outputs[0])
	}
	if outputs[1].CallID != "call_b" || outputs[1].Output != "Error: ServiceTitan unavailable" {
		t.Fatalf("unexpected second output %+v", outputs[1])
	}
}

func TestCheckAvailabilityCachedPerArguments(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	r := newBuiltinRegistry(t, sched)
	call := contractx.ToolCall{ID: "c", Name: CheckAvailability, Arguments: `{"start_date":"2025-05-01","end_date":"2025-05-05"}`}

	first := r.Dispatch(context.Background(), call)
	second := r.Dispatch(context.Background(), call)
	if first.Output != second.Output {
		t.Fatalf("cached output differs: %q vs %q", first.Output, second.Output)
	}
	if sched.availabilityCalls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", sched.availabilityCalls.Load())
	}

	other := call
	other.Arguments = `{"start_date":"2025-05-02","end_date":"2025-05-05"}`
	r.Dispatch(context.Background(), other)
	if sched.availabilityCalls.Load() != 2 {
		t.Fatalf("expected a new upstream call for new arguments, got %d", sched.availabilityCalls.Load())
	}
}

func TestKnowledgeFailureReplyIsNotCached(t *testing.T) {
	t.Parallel()

	searcher := &flakySearcher{}
	r, err := NewRegistry(cachex.New(), Builtins(Deps{Knowledge: searcher})...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	call := contractx.ToolCall{ID: "call_1", Name: KnowledgeSearch, Arguments: `{"query":"hours"}`}

	first := r.Dispatch(context.Background(), call)
	if first.Output != "Sorry, the knowledge base is unreachable." {
		t.Fatalf("first Dispatch() = %q", first.Output)
	}
	second := r.Dispatch(context.Background(), call)
	if second.Output != "kb: hours" {
		t.Fatalf("second Dispatch() = %q, want fresh answer", second.Output)
	}
	third := r.Dispatch(context.Background(), call)
	if third.Output != "kb: hours" || searcher.calls.Load() != 2 {
		t.Fatalf("expected success cached, output=%q calls=%d", third.Output, searcher.calls.Load())
	}
}

func TestBookAppointmentIsNotCached(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	r := newBuiltinRegistry(t, sched)
	call := contractx.ToolCall{
		ID:        "c",
		Name:      BookAppointment,
		Arguments: `{"customer_id":"42","job_type":"Opener install","preferred_date":"2025-05-02","notes":null}`,
	}
	r.Dispatch(context.Background(), call)
	out := r.Dispatch(context.Background(), call)

	if out.Output != "booked 42" || len(sched.booked) != 2 {
		t.Fatalf("unexpected booking state: out=%q booked=%d", out.Output, len(sched.booked))
	}
}

func TestDecodeArgsStringifiesNonStrings(t *testing.T) {
	t.Parallel()

	args, err := decodeArgs(`{"zip_code": 97201, "flag": true, "missing": null}`)
	if err != nil {
		t.Fatalf("decodeArgs() error = %v", err)
	}
	if args["zip_code"] != "97201" || args["flag"] != "true" {
		t.Fatalf("unexpected args: %v", args)
	}
	if _, ok := args["missing"]; ok {
		t.Fatal("null values must be dropped")
	}
}

func TestCacheKeyOrder(t *testing.T) {
	t.Parallel()

	tools := Builtins(Deps{Scheduler: &fakeScheduler{}})
	got := cacheKey(tools[0], Args{"end_date": "2025-05-05", "start_date": "2025-05-01"})
	if got != `check_availability::start_date="2025-05-01"::end_date="2025-05-05"` {
		t.Fatalf("cacheKey() = %q", got)
	}
}
