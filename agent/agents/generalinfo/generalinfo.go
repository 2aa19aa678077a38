// Package generalinfo is the policy/FAQ sub-agent backed by the customer
// handbook collection.
package generalinfo

import (
	"context"

	"github.com/shoplytic/agent/agent/agents/runner"
	"github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
	"github.com/shoplytic/agent/agent/prompt"
	"github.com/shoplytic/agent/agent/tool"
)

type Handler struct {
	loop  *runner.Loop
	tools []llmx.ToolDef
}

var _ contract.Handler = (*Handler)(nil)

func New(completer llmx.Completer, executor runner.Executor, cfg llmx.Config) *Handler {
	temperature := cfg.Temperature
	return &Handler{
		loop:  runner.NewLoop(completer, executor, cfg.ModelFor("general_info"), cfg.MaxTokensHandler, &temperature),
		tools: tool.Specs(tool.HandbookToolKinds...),
	}
}

func (h *Handler) Name() contract.HandlerName {
	return contract.HandlerGeneralInfo
}

func (h *Handler) Invoke(ctx context.Context, query, sessionID string, prior []llmx.Message) (contract.HandlerOutput, error) {
	return h.loop.Run(ctx, runner.Params{
		SystemPrompt: prompt.GeneralInfo,
		Tools:        h.tools,
		Query:        query,
		SessionID:    sessionID,
		Prior:        prior,
	})
}
