package agent

import (
	"testing"

	"aicoder/internal/domain"
)

func TestEstimateCounter(t *testing.T) {
	c := EstimateCounter{}
	if c.Count("") != 0 {
		t.Fatal("empty text should be 0 tokens")
	}
	if got := c.Count("abcd"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := c.Count("abcde"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestSession_AppendOnly(t *testing.T) {
	s := NewSession(nil)
	s.Append(domain.Message{Role: domain.RoleSystem, Content: "sys"})
	s.Append(domain.Message{Role: domain.RoleUser, Content: "hi"}, domain.Message{Role: domain.RoleAssistant, Content: "hello"})

	if s.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", s.Len())
	}

	msgs := s.Messages()
	msgs[0].Content = "mutated"
	if s.Messages()[0].Content != "sys" {
		t.Fatal("Messages should return a copy")
	}
	if got := s.Messages()[2].Role; got != domain.RoleAssistant {
		t.Fatalf("expected insertion order, last role %q", got)
	}
}

func TestSession_TokensGrow(t *testing.T) {
	s := NewSession(EstimateCounter{})
	s.Append(domain.Message{Role: domain.RoleUser, Content: "12345678"})
	if got := s.Tokens(); got != perMessageOverhead+2 {
		t.Fatalf("expected %d tokens, got %d", perMessageOverhead+2, got)
	}

	before := s.Tokens()
	s.Append(domain.Message{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{
			ID:        "1",
			Name:      "write_to_file",
			Arguments: map[string]any{"path": "a.txt", "content": "long content here"},
		}},
	})
	if s.Tokens() <= before+perMessageOverhead {
		t.Fatalf("tool call arguments should count, got %d after %d", s.Tokens(), before)
	}
}
