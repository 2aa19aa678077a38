package memory

import (
	"strings"
	"testing"

	contractx "github.com/shoplytic/agent/agent/contract"
	llmx "github.com/shoplytic/agent/agent/llm"
)

func TestAppendEvictsOldest(t *testing.T) {
	t.Parallel()

	conv := NewConversation(3)
	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		conv.Append("s1", Turn{Query: q, Response: "r-" + q})
	}

	turns := conv.History("s1")
	if len(turns) != 3 {
		t.Fatalf("len(History()) = %d, want 3", len(turns))
	}
	if turns[0].Query != "q2" || turns[2].Query != "q4" {
		t.Errorf("retained turns = %v, want q2..q4", turns)
	}
}

func TestMessagesExpandProductSources(t *testing.T) {
	t.Parallel()

	conv := NewConversation(0)
	conv.Append("s1", Turn{
		Query:    "show me laptops",
		Response: "Here are two laptops.",
		Sources: []contractx.Source{
			{
				Content: "Laptop A",
				Metadata: map[string]any{
					"product_id": float64(42),
					"brand":      "Acme",
					"category":   "laptops",
					"price":      999.0,
				},
			},
			{Content: "return policy doc", Metadata: map[string]any{"section": "returns"}},
		},
	})

	messages := conv.Messages("s1")
	if len(messages) != 2 {
		t.Fatalf("len(Messages()) = %d, want 2", len(messages))
	}
	if messages[0].Role != llmx.RoleUser || messages[0].Content != "show me laptops" {
		t.Errorf("first message = %+v, want the user query", messages[0])
	}

	assistant := messages[1]
	if assistant.Role != llmx.RoleAssistant {
		t.Fatalf("second message role = %s, want assistant", assistant.Role)
	}
	if !strings.Contains(assistant.Content, "[Previous search results with product_ids:]") {
		t.Error("assistant content missing the product block header")
	}
	if !strings.Contains(assistant.Content, "Product ID: 42") {
		t.Error("assistant content missing the product id")
	}
	if strings.Contains(assistant.Content, "return policy doc") {
		t.Error("informational source leaked into the product block")
	}
}

func TestMessagesWithoutSourcesHaveNoBlock(t *testing.T) {
	t.Parallel()

	conv := NewConversation(0)
	conv.Append("s1", Turn{Query: "hi", Response: "Hello!"})

	messages := conv.Messages("s1")
	if got := messages[1].Content; got != "Hello!" {
		t.Errorf("assistant content = %q, want plain response", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	conv := NewConversation(0)
	conv.Append("s1", Turn{Query: "a", Response: "ra"})

	if got := conv.History("s2"); len(got) != 0 {
		t.Errorf("History(s2) = %v, want empty", got)
	}
}
