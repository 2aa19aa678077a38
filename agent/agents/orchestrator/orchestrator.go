// Package orchestrator routes customer queries to sub-agent handlers: one
// handler-selection model call decides who runs, the handlers run alone,
// serially, or concurrently, and a synthesis call folds multiple results into
// one answer.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoplytic/agent/agent/agents/runner"
	"github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
	"github.com/shoplytic/agent/agent/memory"
	"github.com/shoplytic/agent/agent/prompt"
	"github.com/shoplytic/agent/agent/tool"
	logx "github.com/shoplytic/agent/pkg/logger"
)

// Wire names of the handler-selection functions offered to the model.
const (
	fnGeneralInfo = "query_general_info"
	fnOrderAgent  = "query_order_agent"
)

const evalTimeout = 60 * time.Second

// Evaluator scores a finished turn. Called off the request path; failures are
// logged and never surfaced.
type Evaluator interface {
	Evaluate(ctx context.Context, sessionID, query string, result contract.Result) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithEvaluator(e Evaluator) Option {
	return func(o *Orchestrator) {
		o.evaluator = e
	}
}

type Orchestrator struct {
	completer llmx.Completer
	cfg       llmx.Config
	conv      *memory.Conversation
	handlers  map[contract.HandlerName]contract.Handler
	evaluator Evaluator
	log       zerolog.Logger
}

func New(completer llmx.Completer, cfg llmx.Config, conv *memory.Conversation, handlers []contract.Handler, opts ...Option) *Orchestrator {
	byName := make(map[contract.HandlerName]contract.Handler, len(handlers))
	for _, h := range handlers {
		byName[h.Name()] = h
	}

	o := &Orchestrator{
		completer: completer,
		cfg:       cfg,
		conv:      conv,
		handlers:  byName,
		log:       logx.Component("orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// invocation is one resolved handler call after collapsing duplicates.
type invocation struct {
	handler contract.HandlerName
	query   string
}

type handlerRun struct {
	name   contract.HandlerName
	output contract.HandlerOutput
}

// Classify maps the raw (pre-collapse) handler call list to a routing mode.
// Pure; the multiplicity rule is the whole contract.
func Classify(calls []contract.HandlerName) contract.RoutingMode {
	switch len(calls) {
	case 0:
		return contract.ModeDirect
	case 1:
		return contract.ModeSingle
	}

	distinct := make(map[contract.HandlerName]struct{}, len(calls))
	for _, name := range calls {
		distinct[name] = struct{}{}
	}
	if len(distinct) > 1 {
		return contract.ModeParallel
	}
	return contract.ModeSequential
}

// Route answers one customer query. similarityThreshold, when non-nil,
// overrides the default retrieval cutoff for this request only.
func (o *Orchestrator) Route(ctx context.Context, sessionID, query string, similarityThreshold *float64) (contract.Result, error) {
	if similarityThreshold != nil {
		ctx = tool.WithSimilarityThreshold(ctx, *similarityThreshold)
	}

	prior := o.conv.Messages(sessionID)

	messages := make([]llmx.Message, 0, len(prior)+2)
	messages = append(messages, llmx.SystemMessage(prompt.Orchestrator))
	messages = append(messages, prior...)
	messages = append(messages, llmx.UserMessage(query))

	temperature := o.cfg.Temperature
	resp, err := o.completer.Complete(ctx, llmx.Request{
		Model:       o.cfg.ModelFor("orchestrator"),
		Messages:    messages,
		Tools:       routingTools,
		MaxTokens:   o.cfg.MaxTokensOrchestrator,
		Temperature: &temperature,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.log.Warn().Str("session_id", sessionID).Msg("handler selection timed out")
			return o.finish(sessionID, query, contract.Result{
				Response:     runner.TimeoutApology,
				RoutingMode:  contract.ModeDirect,
				HandlersUsed: []string{},
			}), nil
		}
		return contract.Result{}, fmt.Errorf("handler selection: %w", err)
	}

	invocations, rawCalls, err := parseInvocations(resp.ToolCalls, query)
	if err != nil {
		return contract.Result{}, err
	}

	mode := Classify(rawCalls)
	if mode == contract.ModeDirect {
		// No handler proposed: the model answered directly (greeting, small
		// talk, or anything else it chose to field itself).
		return o.finish(sessionID, query, contract.Result{
			Response:     resp.Content,
			RoutingMode:  contract.ModeDirect,
			HandlersUsed: []string{},
		}), nil
	}

	runs, err := o.execute(ctx, mode, sessionID, invocations, prior)
	if err != nil {
		return contract.Result{}, err
	}

	used := make([]string, 0, len(runs))
	var sources []contract.Source
	var searchParams map[string]any
	for _, run := range runs {
		used = append(used, string(run.name))
		sources = append(sources, run.output.Sources...)
		// Key-level merge in join order; a later handler's value wins on
		// collision.
		for k, v := range run.output.SearchParams {
			if searchParams == nil {
				searchParams = make(map[string]any, len(run.output.SearchParams))
			}
			searchParams[k] = v
		}
	}

	text := runs[0].output.Text
	if mode != contract.ModeSingle {
		text, err = o.synthesize(ctx, query, runs)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				return contract.Result{}, fmt.Errorf("synthesis: %w", err)
			}
			o.log.Warn().Str("session_id", sessionID).Msg("synthesis timed out")
			text = runner.TimeoutApology
		}
	}

	return o.finish(sessionID, query, contract.Result{
		Response:     text,
		RoutingMode:  mode,
		HandlersUsed: used,
		Sources:      sources,
		SearchParams: searchParams,
	}), nil
}

// execute runs the resolved invocations. Parallel mode fans out and joins;
// every other mode runs serially, each invocation seeing the text produced by
// the one before it.
func (o *Orchestrator) execute(ctx context.Context, mode contract.RoutingMode, sessionID string, invocations []invocation, prior []llmx.Message) ([]handlerRun, error) {
	runs := make([]handlerRun, len(invocations))

	if mode == contract.ModeParallel {
		var wg sync.WaitGroup
		errs := make([]error, len(invocations))
		for i, inv := range invocations {
			handler, ok := o.handlers[inv.handler]
			if !ok {
				return nil, fmt.Errorf("%w: %s", contract.ErrUnknownHandler, inv.handler)
			}
			wg.Add(1)
			go func(i int, handler contract.Handler, inv invocation) {
				defer wg.Done()
				out, err := handler.Invoke(ctx, inv.query, sessionID, prior)
				if err != nil {
					errs[i] = fmt.Errorf("handler %s: %w", inv.handler, err)
					return
				}
				runs[i] = handlerRun{name: inv.handler, output: out}
			}(i, handler, inv)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return runs, nil
	}

	acc := make([]llmx.Message, len(prior))
	copy(acc, prior)
	for i, inv := range invocations {
		handler, ok := o.handlers[inv.handler]
		if !ok {
			return nil, fmt.Errorf("%w: %s", contract.ErrUnknownHandler, inv.handler)
		}
		out, err := handler.Invoke(ctx, inv.query, sessionID, acc)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", inv.handler, err)
		}
		runs[i] = handlerRun{name: inv.handler, output: out}
		acc = append(acc, llmx.UserMessage(inv.query), llmx.AssistantMessage(out.Text))
	}
	return runs, nil
}

// synthesize folds multiple handler results into one answer. No tools are
// offered; the model can only write text.
func (o *Orchestrator) synthesize(ctx context.Context, query string, runs []handlerRun) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Customer query: %s\n", query)
	for _, run := range runs {
		fmt.Fprintf(&sb, "\nResults from the %s specialist:\n%s\n", run.name, run.output.Text)
	}

	temperature := o.cfg.Temperature
	resp, err := o.completer.Complete(ctx, llmx.Request{
		Model: o.cfg.ModelFor("orchestrator"),
		Messages: []llmx.Message{
			llmx.SystemMessage(prompt.Synthesis),
			llmx.UserMessage(sb.String()),
		},
		MaxTokens:   o.cfg.MaxTokensHandler,
		Temperature: &temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// finish persists the turn and fires the quality evaluation. Only product
// sources survive into memory; informational documents are turn-local.
func (o *Orchestrator) finish(sessionID, query string, result contract.Result) contract.Result {
	var productSources []contract.Source
	for _, src := range result.Sources {
		if _, ok := src.ProductID(); ok {
			productSources = append(productSources, src)
		}
	}
	o.conv.Append(sessionID, memory.Turn{
		Query:    query,
		Response: result.Response,
		Sources:  productSources,
	})

	if o.evaluator != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
			defer cancel()
			if err := o.evaluator.Evaluate(ctx, sessionID, query, result); err != nil {
				o.log.Warn().Err(err).Str("session_id", sessionID).Msg("quality evaluation failed")
			}
		}()
	}
	return result
}

// parseInvocations resolves the model's routing calls. Duplicate calls to the
// same handler collapse into one invocation carrying the original, un-split
// query; the raw call list is returned separately for mode classification.
func parseInvocations(calls []llmx.ToolCall, originalQuery string) ([]invocation, []contract.HandlerName, error) {
	var invocations []invocation
	rawCalls := make([]contract.HandlerName, 0, len(calls))
	index := make(map[contract.HandlerName]int, len(calls))

	for _, call := range calls {
		name, err := handlerForFunction(call.Name)
		if err != nil {
			return nil, nil, err
		}
		rawCalls = append(rawCalls, name)

		query, err := routedQuery(call, originalQuery)
		if err != nil {
			return nil, nil, err
		}

		if i, seen := index[name]; seen {
			invocations[i].query = originalQuery
			continue
		}
		index[name] = len(invocations)
		invocations = append(invocations, invocation{handler: name, query: query})
	}
	return invocations, rawCalls, nil
}

func handlerForFunction(fn string) (contract.HandlerName, error) {
	switch fn {
	case fnGeneralInfo:
		return contract.HandlerGeneralInfo, nil
	case fnOrderAgent:
		return contract.HandlerOrder, nil
	default:
		return "", fmt.Errorf("%w: routing function %q", contract.ErrUnknownHandler, fn)
	}
}

func routedQuery(call llmx.ToolCall, fallback string) (string, error) {
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		return fallback, nil
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return "", fmt.Errorf("%w: routing function %s: %v", contract.ErrMalformedArguments, call.Name, err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return fallback, nil
	}
	return args.Query, nil
}

var routingTools = []llmx.ToolDef{
	{
		Name:        fnGeneralInfo,
		Description: "Route to the store information specialist: policies, shipping times, returns, warranties, FAQs.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The portion of the customer's message this specialist should answer.",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        fnOrderAgent,
		Description: "Route to the order specialist: product search, cart, shipping information, vouchers, purchases, order history.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The portion of the customer's message this specialist should handle.",
				},
			},
			"required": []string{"query"},
		},
	},
}
