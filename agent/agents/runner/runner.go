// Package runner drives the bounded tool-calling loop shared by the
// sub-agents: propose tool calls, execute them, feed results back, repeat
// until the model answers in text or the step budget runs out.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
	"github.com/shoplytic/agent/agent/tool"
	logx "github.com/shoplytic/agent/pkg/logger"
)

// MaxSteps bounds the number of model round-trips per turn. Tool executor
// failures do not consume extra steps; only model calls do.
const MaxSteps = 6

// Fixed user-facing fallbacks. Timeouts and step exhaustion end the turn with
// an apology rather than an error.
const (
	TimeoutApology      = "I apologize, but the request took too long to process. Please try again."
	TooManyStepsApology = "I apologize, but the request took too many steps to complete. Please try again."
)

// Executor runs one proposed tool call. A returned error aborts the turn.
type Executor interface {
	Execute(ctx context.Context, sessionID string, call llmx.ToolCall) (tool.Outcome, error)
}

// Loop is one sub-agent's configured tool loop. It holds no per-turn state.
type Loop struct {
	completer   llmx.Completer
	executor    Executor
	model       string
	maxTokens   int
	temperature *float64
	log         zerolog.Logger
}

func NewLoop(completer llmx.Completer, executor Executor, model string, maxTokens int, temperature *float64) *Loop {
	return &Loop{
		completer:   completer,
		executor:    executor,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		log:         logx.Component("runner"),
	}
}

// turnState is everything one turn accumulates. It dies with the turn; the
// caller persists what it wants afterwards.
type turnState struct {
	messages     []llmx.Message
	step         int
	sources      []contract.Source
	searchParams map[string]any
}

// Params is one turn's input.
type Params struct {
	SystemPrompt string
	Tools        []llmx.ToolDef
	Query        string
	SessionID    string
	Prior        []llmx.Message
}

// Run executes the loop until the model produces text, a boundary trips, or
// the step budget is spent.
func (l *Loop) Run(ctx context.Context, p Params) (contract.HandlerOutput, error) {
	state := turnState{
		messages: make([]llmx.Message, 0, len(p.Prior)+2+2*MaxSteps),
	}
	state.messages = append(state.messages, llmx.SystemMessage(p.SystemPrompt))
	state.messages = append(state.messages, p.Prior...)
	state.messages = append(state.messages, llmx.UserMessage(p.Query))

	for state.step = 0; state.step < MaxSteps; state.step++ {
		resp, err := l.completer.Complete(ctx, llmx.Request{
			Model:       l.model,
			Messages:    state.messages,
			Tools:       p.Tools,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				l.log.Warn().Int("step", state.step).Msg("model call timed out")
				return contract.HandlerOutput{
					Text:         TimeoutApology,
					Sources:      state.sources,
					SearchParams: state.searchParams,
				}, nil
			}
			return contract.HandlerOutput{}, fmt.Errorf("model call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return contract.HandlerOutput{
				Text:         resp.Content,
				Sources:      state.sources,
				SearchParams: state.searchParams,
			}, nil
		}

		state.messages = append(state.messages, llmx.AssistantMessage(resp.Content, resp.ToolCalls...))

		// The same (name, args) pair twice in one step means the model is
		// spinning; abort rather than burn budget on it.
		seen := make(map[string]struct{}, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			sig, err := callSignature(call)
			if err != nil {
				return contract.HandlerOutput{}, err
			}
			if _, dup := seen[sig]; dup {
				return contract.HandlerOutput{}, fmt.Errorf("%w: duplicate tool call %s", contract.ErrProtocolViolation, call.Name)
			}
			seen[sig] = struct{}{}

			out, err := l.executor.Execute(ctx, p.SessionID, call)
			if err != nil {
				return contract.HandlerOutput{}, err
			}
			if len(out.Sources) > 0 {
				state.sources = append(state.sources, out.Sources...)
			}
			state.searchParams = mergeParams(state.searchParams, out.SearchParams)
			state.messages = append(state.messages, llmx.ToolMessage(call.ID, out.Result))
		}
	}

	l.log.Warn().Str("session_id", p.SessionID).Msg("tool loop exhausted its step budget")
	return contract.HandlerOutput{
		Text:         TooManyStepsApology,
		Sources:      state.sources,
		SearchParams: state.searchParams,
	}, nil
}

// mergeParams folds newer search parameters into the accumulated set key by
// key; a later value wins on collision.
func mergeParams(acc, next map[string]any) map[string]any {
	if len(next) == 0 {
		return acc
	}
	if acc == nil {
		acc = make(map[string]any, len(next))
	}
	for k, v := range next {
		acc[k] = v
	}
	return acc
}

// callSignature normalizes a call to (name, canonical-args) so that two calls
// differing only in JSON key order or whitespace compare equal.
func callSignature(call llmx.ToolCall) (string, error) {
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return "", fmt.Errorf("%w: tool %s: %v", contract.ErrMalformedArguments, call.Name, err)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", fmt.Errorf("%w: tool %s: %v", contract.ErrMalformedArguments, call.Name, err)
	}
	return call.Name + "|" + string(canonical), nil
}
