package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
	"github.com/shoplytic/agent/agent/memory"
)

type fakeCompleter struct {
	mu        sync.Mutex
	responses []llmx.Response
	err       error
	requests  []llmx.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llmx.Request) (llmx.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return llmx.Response{}, f.err
	}
	idx := len(f.requests) - 1
	if idx >= len(f.responses) {
		return llmx.Response{}, errors.New("no fake response left")
	}
	return f.responses[idx], nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeHandler struct {
	name    contract.HandlerName
	output  contract.HandlerOutput
	err     error
	mu      sync.Mutex
	queries []string
}

func (f *fakeHandler) Name() contract.HandlerName { return f.name }

func (f *fakeHandler) Invoke(ctx context.Context, query, sessionID string, prior []llmx.Message) (contract.HandlerOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.output, f.err
}

func (f *fakeHandler) invocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

func testConfig() llmx.Config {
	return llmx.Config{
		Model:                 "test-model",
		Temperature:           0.5,
		MaxTokensOrchestrator: 256,
		MaxTokensHandler:      512,
	}
}

func routingCall(fn, query string) llmx.ToolCall {
	return llmx.ToolCall{ID: "c-" + fn, Name: fn, Arguments: fmt.Sprintf(`{"query":%q}`, query)}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		calls []contract.HandlerName
		want  contract.RoutingMode
	}{
		{"no calls", nil, contract.ModeDirect},
		{"one call", []contract.HandlerName{contract.HandlerOrder}, contract.ModeSingle},
		{"two distinct handlers", []contract.HandlerName{contract.HandlerOrder, contract.HandlerGeneralInfo}, contract.ModeParallel},
		{"two calls same handler", []contract.HandlerName{contract.HandlerOrder, contract.HandlerOrder}, contract.ModeSequential},
		{"three calls two handlers", []contract.HandlerName{contract.HandlerOrder, contract.HandlerOrder, contract.HandlerGeneralInfo}, contract.ModeParallel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.calls); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.calls, got, tt.want)
			}
		})
	}
}

func TestRouteDirectMode(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{responses: []llmx.Response{{Content: "Hello! How can I help?"}}}
	conv := memory.NewConversation(0)
	orch := New(completer, testConfig(), conv, nil)

	result, err := orch.Route(context.Background(), "s1", "hi there", nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.RoutingMode != contract.ModeDirect {
		t.Errorf("RoutingMode = %s, want direct", result.RoutingMode)
	}
	if result.Response != "Hello! How can I help?" {
		t.Errorf("Response = %q, want the model text verbatim", result.Response)
	}
	if len(result.HandlersUsed) != 0 {
		t.Errorf("HandlersUsed = %v, want empty", result.HandlersUsed)
	}
	if turns := conv.History("s1"); len(turns) != 1 || turns[0].Response != result.Response {
		t.Errorf("memory = %+v, want the turn recorded", turns)
	}
}

func TestRouteSinglePassthrough(t *testing.T) {
	t.Parallel()

	handler := &fakeHandler{
		name: contract.HandlerOrder,
		output: contract.HandlerOutput{
			Text: "Here are two options.",
			Sources: []contract.Source{
				{Content: "laptop", Metadata: map[string]any{"product_id": float64(7)}, Similarity: 0.9},
				{Content: "policy doc", Metadata: map[string]any{"section": "faq"}, Similarity: 0.8},
			},
			SearchParams: map[string]any{"query": "laptops"},
		},
	}
	completer := &fakeCompleter{responses: []llmx.Response{
		{ToolCalls: []llmx.ToolCall{routingCall(fnOrderAgent, "find laptops")}},
	}}
	conv := memory.NewConversation(0)
	orch := New(completer, testConfig(), conv, []contract.Handler{handler})

	result, err := orch.Route(context.Background(), "s1", "find laptops", nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.RoutingMode != contract.ModeSingle {
		t.Errorf("RoutingMode = %s, want single", result.RoutingMode)
	}
	if result.Response != "Here are two options." {
		t.Errorf("Response = %q, want the handler text unchanged", result.Response)
	}
	if completer.callCount() != 1 {
		t.Errorf("model called %d times, want 1 (no synthesis in single mode)", completer.callCount())
	}
	if len(result.Sources) != 2 {
		t.Errorf("len(Sources) = %d, want 2 (all sources returned to caller)", len(result.Sources))
	}
	if result.SearchParams["query"] != "laptops" {
		t.Errorf("SearchParams = %v", result.SearchParams)
	}

	// Only the product source survives into memory.
	turns := conv.History("s1")
	if len(turns) != 1 || len(turns[0].Sources) != 1 {
		t.Fatalf("memory sources = %+v, want exactly the product source", turns)
	}
	if id, ok := turns[0].Sources[0].ProductID(); !ok || id != 7 {
		t.Errorf("persisted source = %+v, want product_id 7", turns[0].Sources[0])
	}
}

func TestRouteCollapsesDuplicateHandlerCalls(t *testing.T) {
	t.Parallel()

	handler := &fakeHandler{
		name:   contract.HandlerOrder,
		output: contract.HandlerOutput{Text: "order handler output"},
	}
	completer := &fakeCompleter{responses: []llmx.Response{
		{ToolCalls: []llmx.ToolCall{
			routingCall(fnOrderAgent, "add shoes to cart"),
			routingCall(fnOrderAgent, "then buy them"),
		}},
		{Content: "combined answer"},
	}}
	conv := memory.NewConversation(0)
	orch := New(completer, testConfig(), conv, []contract.Handler{handler})

	original := "add shoes to my cart and then buy them"
	result, err := orch.Route(context.Background(), "s1", original, nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.RoutingMode != contract.ModeSequential {
		t.Errorf("RoutingMode = %s, want sequential", result.RoutingMode)
	}

	// The two calls collapse to one invocation carrying the original query.
	if got := handler.invocations(); len(got) != 1 || got[0] != original {
		t.Errorf("handler invocations = %v, want one with the original query", got)
	}
	if result.Response != "combined answer" {
		t.Errorf("Response = %q, want the synthesis output", result.Response)
	}
}

func TestRouteParallel(t *testing.T) {
	t.Parallel()

	orderHandler := &fakeHandler{name: contract.HandlerOrder, output: contract.HandlerOutput{Text: "order says"}}
	infoHandler := &fakeHandler{name: contract.HandlerGeneralInfo, output: contract.HandlerOutput{Text: "info says"}}
	completer := &fakeCompleter{responses: []llmx.Response{
		{ToolCalls: []llmx.ToolCall{
			routingCall(fnOrderAgent, "buy shoes"),
			routingCall(fnGeneralInfo, "what is the return policy"),
		}},
		{Content: "both answered"},
	}}
	conv := memory.NewConversation(0)
	orch := New(completer, testConfig(), conv, []contract.Handler{orderHandler, infoHandler})

	result, err := orch.Route(context.Background(), "s1", "buy shoes and tell me the return policy", nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if result.RoutingMode != contract.ModeParallel {
		t.Errorf("RoutingMode = %s, want parallel", result.RoutingMode)
	}
	if len(orderHandler.invocations()) != 1 || len(infoHandler.invocations()) != 1 {
		t.Error("both handlers must run exactly once")
	}
	if result.Response != "both answered" {
		t.Errorf("Response = %q, want the synthesis output", result.Response)
	}
	if len(result.HandlersUsed) != 2 {
		t.Errorf("HandlersUsed = %v, want both handlers", result.HandlersUsed)
	}
}

func TestRouteMergesSearchParamsAcrossHandlers(t *testing.T) {
	t.Parallel()

	orderHandler := &fakeHandler{
		name: contract.HandlerOrder,
		output: contract.HandlerOutput{
			Text:         "order says",
			SearchParams: map[string]any{"query": "shoes", "brand": "acme"},
		},
	}
	infoHandler := &fakeHandler{
		name: contract.HandlerGeneralInfo,
		output: contract.HandlerOutput{
			Text:         "info says",
			SearchParams: map[string]any{"query": "return policy"},
		},
	}
	completer := &fakeCompleter{responses: []llmx.Response{
		{ToolCalls: []llmx.ToolCall{
			routingCall(fnOrderAgent, "buy shoes"),
			routingCall(fnGeneralInfo, "returns"),
		}},
		{Content: "both answered"},
	}}
	orch := New(completer, testConfig(), memory.NewConversation(0), []contract.Handler{orderHandler, infoHandler})

	result, err := orch.Route(context.Background(), "s1", "buy shoes and returns", nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	// Key-level merge in join order: the later handler overrides "query" but
	// the earlier handler's "brand" survives.
	if result.SearchParams["query"] != "return policy" {
		t.Errorf("SearchParams[query] = %v, want the later handler's value", result.SearchParams["query"])
	}
	if result.SearchParams["brand"] != "acme" {
		t.Errorf("SearchParams[brand] = %v, want the earlier key preserved", result.SearchParams["brand"])
	}
}

func TestRouteSelectionTimeout(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{err: fmt.Errorf("chat completion: %w", context.DeadlineExceeded)}
	conv := memory.NewConversation(0)
	orch := New(completer, testConfig(), conv, nil)

	result, err := orch.Route(context.Background(), "s1", "anything", nil)
	if err != nil {
		t.Fatalf("Route() error = %v, want nil on timeout", err)
	}
	if result.RoutingMode != contract.ModeDirect {
		t.Errorf("RoutingMode = %s, want direct", result.RoutingMode)
	}
	if result.Response == "" {
		t.Error("Response empty, want the apology text")
	}
	if turns := conv.History("s1"); len(turns) != 1 {
		t.Errorf("memory turns = %d, want the apology turn preserved", len(turns))
	}
}

func TestRouteUnknownRoutingFunction(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{responses: []llmx.Response{
		{ToolCalls: []llmx.ToolCall{{ID: "c1", Name: "query_payments_agent", Arguments: `{"query":"q"}`}}},
	}}
	orch := New(completer, testConfig(), memory.NewConversation(0), nil)

	_, err := orch.Route(context.Background(), "s1", "q", nil)
	if !errors.Is(err, contract.ErrUnknownHandler) {
		t.Fatalf("Route() error = %v, want ErrUnknownHandler", err)
	}
}

func TestRouteMalformedRoutingArguments(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{responses: []llmx.Response{
		{ToolCalls: []llmx.ToolCall{{ID: "c1", Name: fnOrderAgent, Arguments: `{"query":`}}},
	}}
	orch := New(completer, testConfig(), memory.NewConversation(0), nil)

	_, err := orch.Route(context.Background(), "s1", "q", nil)
	if !errors.Is(err, contract.ErrMalformedArguments) {
		t.Fatalf("Route() error = %v, want ErrMalformedArguments", err)
	}
}

type fakeEvaluator struct {
	done chan struct{}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, sessionID, query string, result contract.Result) error {
	close(f.done)
	return nil
}

func TestRouteFiresEvaluatorAsync(t *testing.T) {
	t.Parallel()

	evaluator := &fakeEvaluator{done: make(chan struct{})}
	completer := &fakeCompleter{responses: []llmx.Response{{Content: "hi"}}}
	orch := New(completer, testConfig(), memory.NewConversation(0), nil, WithEvaluator(evaluator))

	if _, err := orch.Route(context.Background(), "s1", "hello", nil); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	select {
	case <-evaluator.done:
	case <-time.After(2 * time.Second):
		t.Fatal("evaluator was never invoked")
	}
}
