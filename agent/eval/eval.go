// Package eval scores finished turns with an LLM judge and ships the scores
// to the collector. It runs entirely off the request path: nothing here may
// influence the response the customer already received.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
	"github.com/shoplytic/agent/agent/prompt"
	"github.com/shoplytic/agent/pkg/collector"
	logx "github.com/shoplytic/agent/pkg/logger"
)

// Scores is the judge's verdict, each dimension 1-5.
type Scores struct {
	Relevance    int `json:"relevance"`
	Accuracy     int `json:"accuracy"`
	Completeness int `json:"completeness"`
	Tone         int `json:"tone"`
	Safety       int `json:"safety"`
}

// Publisher is the collector boundary.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) error
}

var _ Publisher = (*collector.Client)(nil)

// Judge evaluates responses with a model call and publishes the scores.
type Judge struct {
	completer llmx.Completer
	publisher Publisher
	model     string
	log       zerolog.Logger
}

func NewJudge(completer llmx.Completer, publisher Publisher, model string) *Judge {
	return &Judge{
		completer: completer,
		publisher: publisher,
		model:     model,
		log:       logx.Component("eval"),
	}
}

type scoreEvent struct {
	SessionID    string   `json:"session_id"`
	Query        string   `json:"query"`
	Response     string   `json:"response"`
	RoutingMode  string   `json:"routing_mode"`
	HandlersUsed []string `json:"handlers_used"`
	Scores       Scores   `json:"scores"`
}

// Evaluate scores one turn and publishes the result.
func (j *Judge) Evaluate(ctx context.Context, sessionID, query string, result contract.Result) error {
	scores, err := j.score(ctx, query, result)
	if err != nil {
		return fmt.Errorf("judge: %w", err)
	}

	j.log.Debug().
		Str("session_id", sessionID).
		Int("relevance", scores.Relevance).
		Int("accuracy", scores.Accuracy).
		Int("completeness", scores.Completeness).
		Int("tone", scores.Tone).
		Int("safety", scores.Safety).
		Msg("turn scored")

	if j.publisher == nil {
		return nil
	}
	if err := j.publisher.Publish(ctx, "turn_scored", scoreEvent{
		SessionID:    sessionID,
		Query:        query,
		Response:     result.Response,
		RoutingMode:  string(result.RoutingMode),
		HandlersUsed: result.HandlersUsed,
		Scores:       scores,
	}); err != nil {
		return fmt.Errorf("publish scores: %w", err)
	}
	return nil
}

func (j *Judge) score(ctx context.Context, query string, result contract.Result) (Scores, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Customer query:\n%s\n\nAgent response:\n%s\n", query, result.Response)
	if len(result.Sources) > 0 {
		sb.WriteString("\nRetrieved sources:\n")
		for i, src := range result.Sources {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, src.Content)
		}
	}

	resp, err := j.completer.Complete(ctx, llmx.Request{
		Model: j.model,
		Messages: []llmx.Message{
			llmx.SystemMessage(prompt.Judge),
			llmx.UserMessage(sb.String()),
		},
		MaxTokens: 256,
	})
	if err != nil {
		return Scores{}, err
	}

	scores, err := parseScores(resp.Content)
	if err != nil {
		return Scores{}, err
	}
	return scores, nil
}

// parseScores tolerates code fences and surrounding prose: it extracts the
// first JSON object in the text.
func parseScores(raw string) (Scores, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Scores{}, fmt.Errorf("no JSON object in judge output %q", raw)
	}

	var scores Scores
	if err := json.Unmarshal([]byte(raw[start:end+1]), &scores); err != nil {
		return Scores{}, fmt.Errorf("decode judge output: %w", err)
	}
	for name, v := range map[string]int{
		"relevance":    scores.Relevance,
		"accuracy":     scores.Accuracy,
		"completeness": scores.Completeness,
		"tone":         scores.Tone,
		"safety":       scores.Safety,
	} {
		if v < 1 || v > 5 {
			return Scores{}, fmt.Errorf("judge score %s=%d out of range", name, v)
		}
	}
	return scores, nil
}
