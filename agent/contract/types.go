package contract

import (
	"context"

	llmx "github.com/shoplytic/agent/agent/llm"
)

// RoutingMode classifies how many handlers ran and whether concurrently.
type RoutingMode string

const (
	ModeDirect     RoutingMode = "direct"
	ModeSingle     RoutingMode = "single"
	ModeSequential RoutingMode = "sequential"
	ModeParallel   RoutingMode = "parallel"
)

// HandlerName identifies a sub-agent.
type HandlerName string

const (
	HandlerGeneralInfo HandlerName = "general_info"
	HandlerOrder       HandlerName = "order"
)

// Source is a retrieved document with its similarity score. Product sources
// carry a product_id in their metadata; only those are persisted across turns.
type Source struct {
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
}

// ProductID returns the product identifier carried by a product source, or
// false for informational-document sources.
func (s Source) ProductID() (int64, bool) {
	raw, ok := s.Metadata["product_id"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// HandlerOutput is what a sub-agent produced for one invocation.
type HandlerOutput struct {
	Text         string
	Sources      []Source
	SearchParams map[string]any
}

// Handler runs one sub-agent turn. Prior messages carry the conversation
// history so the handler can resolve references to earlier results.
type Handler interface {
	Name() HandlerName
	Invoke(ctx context.Context, query, sessionID string, prior []llmx.Message) (HandlerOutput, error)
}

// Result is the orchestrator's answer for one user query.
type Result struct {
	Response     string         `json:"response"`
	RoutingMode  RoutingMode    `json:"routing_mode"`
	HandlersUsed []string       `json:"agents_used"`
	Sources      []Source       `json:"sources"`
	SearchParams map[string]any `json:"query_params"`
}
