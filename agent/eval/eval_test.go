package eval

import (
	"context"
	"errors"
	"testing"

	"github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
)

type fakeCompleter struct {
	content string
	err     error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llmx.Request) (llmx.Response, error) {
	if f.err != nil {
		return llmx.Response{}, f.err
	}
	return llmx.Response{Content: f.content}, nil
}

type fakePublisher struct {
	kind    string
	payload any
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, kind string, payload any) error {
	f.kind = kind
	f.payload = payload
	return f.err
}

func TestParseScores(t *testing.T) {
	t.Parallel()

	scores, err := parseScores(`{"relevance":5,"accuracy":4,"completeness":5,"tone":5,"safety":5}`)
	if err != nil {
		t.Fatalf("parseScores() error = %v", err)
	}
	if scores.Relevance != 5 || scores.Accuracy != 4 {
		t.Errorf("scores = %+v", scores)
	}
}

func TestParseScoresToleratesFences(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"relevance\":3,\"accuracy\":3,\"completeness\":3,\"tone\":3,\"safety\":3}\n```"
	scores, err := parseScores(raw)
	if err != nil {
		t.Fatalf("parseScores() error = %v", err)
	}
	if scores.Tone != 3 {
		t.Errorf("scores = %+v", scores)
	}
}

func TestParseScoresRejectsBadOutput(t *testing.T) {
	t.Parallel()

	for name, raw := range map[string]string{
		"no json":      "I'd rate this highly.",
		"out of range": `{"relevance":0,"accuracy":4,"completeness":5,"tone":5,"safety":5}`,
		"over range":   `{"relevance":6,"accuracy":4,"completeness":5,"tone":5,"safety":5}`,
	} {
		if _, err := parseScores(raw); err == nil {
			t.Errorf("%s: parseScores() succeeded, want error", name)
		}
	}
}

func TestEvaluatePublishes(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{content: `{"relevance":5,"accuracy":5,"completeness":4,"tone":5,"safety":5}`}
	publisher := &fakePublisher{}
	judge := NewJudge(completer, publisher, "judge-model")

	err := judge.Evaluate(context.Background(), "s1", "where is my order", contract.Result{
		Response:     "It shipped yesterday.",
		RoutingMode:  contract.ModeSingle,
		HandlersUsed: []string{"order"},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if publisher.kind != "turn_scored" {
		t.Errorf("published kind = %q", publisher.kind)
	}
	event, ok := publisher.payload.(scoreEvent)
	if !ok {
		t.Fatalf("payload type = %T", publisher.payload)
	}
	if event.SessionID != "s1" || event.Scores.Completeness != 4 {
		t.Errorf("event = %+v", event)
	}
}

func TestEvaluateSurfacesJudgeFailure(t *testing.T) {
	t.Parallel()

	judge := NewJudge(&fakeCompleter{err: errors.New("provider down")}, &fakePublisher{}, "judge-model")
	if err := judge.Evaluate(context.Background(), "s1", "q", contract.Result{}); err == nil {
		t.Fatal("Evaluate() succeeded, want error for the caller to log")
	}
}

func TestEvaluateWithoutPublisher(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{content: `{"relevance":5,"accuracy":5,"completeness":5,"tone":5,"safety":5}`}
	judge := NewJudge(completer, nil, "judge-model")
	if err := judge.Evaluate(context.Background(), "s1", "q", contract.Result{}); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
}
