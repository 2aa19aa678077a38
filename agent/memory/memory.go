// Package memory keeps a bounded per-session record of prior turns and
// re-expands it into provider message history, re-surfacing product
// identifiers from earlier searches so later turns can act on them.
package memory

import (
	"fmt"
	"strings"
	"sync"

	contractx "github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
)

const DefaultMaxTurns = 10

// Turn is one completed (query, response) exchange plus the structured
// product sources it surfaced.
type Turn struct {
	Query    string
	Response string
	Sources  []contractx.Source
}

// Conversation is a per-session ring buffer of the last N turns, oldest
// evicted first.
type Conversation struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]Turn
}

func NewConversation(maxTurns int) *Conversation {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Conversation{
		maxTurns: maxTurns,
		sessions: make(map[string][]Turn),
	}
}

// Append records a turn, evicting the oldest once the buffer is full.
func (c *Conversation) Append(sessionID string, turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := append(c.sessions[sessionID], turn)
	if len(turns) > c.maxTurns {
		turns = turns[len(turns)-c.maxTurns:]
	}
	c.sessions[sessionID] = turns
}

// History returns a copy of the retained turns for a session.
func (c *Conversation) History(sessionID string) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := c.sessions[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Messages expands the retained turns into provider message history. Product
// sources are rendered into the assistant content so their product_ids stay
// visible to later tool-using turns.
func (c *Conversation) Messages(sessionID string) []llmx.Message {
	turns := c.History(sessionID)

	messages := make([]llmx.Message, 0, len(turns)*2)
	for _, turn := range turns {
		messages = append(messages, llmx.UserMessage(turn.Query))

		content := turn.Response
		if block := productBlock(turn.Sources); block != "" {
			content += "\n\n[Previous search results with product_ids:]\n" + block
		}
		messages = append(messages, llmx.AssistantMessage(content))
	}
	return messages
}

func productBlock(sources []contractx.Source) string {
	var parts []string
	for _, src := range sources {
		productID, ok := src.ProductID()
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf(
			"Product ID: %d\nBrand: %s\nCategory: %s\nPrice: $%v",
			productID,
			metaString(src.Metadata, "brand"),
			metaString(src.Metadata, "category"),
			metaValue(src.Metadata, "price"),
		))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return "N/A"
}

func metaValue(meta map[string]any, key string) any {
	if v, ok := meta[key]; ok && v != nil {
		return v
	}
	return "N/A"
}
