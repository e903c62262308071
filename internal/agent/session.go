package agent

import (
	"encoding/json"
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"aicoder/internal/domain"
)

// perMessageOverhead approximates the role and framing tokens the chat
// format adds to each message.
const perMessageOverhead = 4

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// tiktokenCounter counts with a real BPE encoding.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter assumes roughly four characters per token.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// NewTokenCounter loads the named tiktoken encoding (e.g. "o200k_base").
// The encoding may need to be fetched on first use; when it cannot be
// loaded the estimate counter is returned along with the error.
func NewTokenCounter(encoding string) (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return EstimateCounter{}, fmt.Errorf("tokenizer: load encoding %q: %w", encoding, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

// Session is the append-only message log of one run.
type Session struct {
	messages []domain.Message
	tokens   int
	counter  TokenCounter
}

func NewSession(counter TokenCounter) *Session {
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &Session{counter: counter}
}

func (s *Session) Append(msgs ...domain.Message) {
	for _, m := range msgs {
		s.messages = append(s.messages, m)
		s.tokens += s.countMessage(m)
	}
}

// Messages returns a copy of the log, safe to hand to a provider.
func (s *Session) Messages() []domain.Message {
	return append([]domain.Message(nil), s.messages...)
}

func (s *Session) Len() int { return len(s.messages) }

// Tokens is the approximate size of the log in tokens.
func (s *Session) Tokens() int { return s.tokens }

func (s *Session) countMessage(m domain.Message) int {
	n := perMessageOverhead + s.counter.Count(m.Content)
	for _, tc := range m.ToolCalls {
		n += s.counter.Count(tc.Name)
		if args, err := json.Marshal(tc.Arguments); err == nil {
			n += s.counter.Count(string(args))
		}
	}
	return n
}
