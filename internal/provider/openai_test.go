package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aicoder/internal/domain"
)

func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = prev })
}

func newTestOpenAI(url string) *OpenAI {
	return NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: url, Model: "base-model", Logger: testLogger()})
}

func TestOpenAI_ChatRequestShape(t *testing.T) {
	var got chatBody
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL + "/")
	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Model: "override",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "build"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "a"}},
				{ID: "c2", Name: "write_to_file", RawArguments: `{"path":`},
			}},
			{Role: domain.RoleTool, Content: `{"success":true}`, ToolCallID: "c1", ToolName: "read_file"},
		},
		Tools:       []domain.ToolDefinition{{Name: "read_file", Description: "d", Parameters: map[string]any{"type": "object"}}},
		MaxTokens:   100,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if auth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", auth)
	}
	if got.Model != "override" {
		t.Errorf("request model should override default, got %q", got.Model)
	}
	if got.ToolChoice != "auto" || len(got.Tools) != 1 || got.Tools[0].Type != "function" {
		t.Errorf("unexpected tools %+v choice %q", got.Tools, got.ToolChoice)
	}
	if got.MaxTokens != 100 || got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("unexpected sampling params %d %v", got.MaxTokens, got.Temperature)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	calls := got.Messages[1].ToolCalls
	if len(calls) != 2 || calls[0].Function.Arguments != `{"path":"a"}` || calls[1].Function.Arguments != `{"path":` {
		t.Errorf("unexpected tool calls %+v", calls)
	}
	if got.Messages[2].ToolCallID != "c1" || got.Messages[2].Name != "read_file" {
		t.Errorf("tool message lost its call id: %+v", got.Messages[2])
	}
}

func TestOpenAI_NoToolsOmitsToolChoice(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"choices":[{"message":{"content":"summary"}}]}`))
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "summarize"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["tool_choice"]; ok {
		t.Error("tool_choice should be omitted without tools")
	}
	if raw["model"] != "base-model" {
		t.Errorf("expected default model, got %v", raw["model"])
	}
	if resp.Content != "summary" || resp.FinishReason != "stop" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestOpenAI_DecodesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [
						{"id": "1", "type": "function", "function": {"name": "create_directory", "arguments": "{\"path\":\"src\"}"}},
						{"id": "2", "type": "function", "function": {"name": "list_directory_contents", "arguments": ""}},
						{"id": "3", "type": "function", "function": {"name": "write_to_file", "arguments": "{\"path\": "}}
					]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != "tool_calls" || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.ToolCalls) != 3 {
		t.Fatalf("expected 3 tool calls, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Arguments["path"] != "src" {
		t.Errorf("unexpected args %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.ToolCalls[1].Arguments == nil || len(resp.ToolCalls[1].Arguments) != 0 {
		t.Errorf("empty arguments should decode to an empty object, got %+v", resp.ToolCalls[1])
	}
	if resp.ToolCalls[2].Arguments != nil || resp.ToolCalls[2].RawArguments != `{"path": ` {
		t.Errorf("malformed arguments should be kept raw, got %+v", resp.ToolCalls[2])
	}
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	fastRetries(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if resp.Content != "ok" || hits.Load() != 3 {
		t.Fatalf("unexpected result %q after %d hits", resp.Content, hits.Load())
	}
}

func TestOpenAI_GivesUpAfterMaxRetries(t *testing.T) {
	fastRetries(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
	if hits.Load() != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, hits.Load())
	}
}

func TestOpenAI_HonorsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	// Without fastRetries the backoff would be a full second; Retry-After: 0 replaces it.
	start := time.Now()
	if _, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("Retry-After ignored, waited %v", elapsed)
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if _, ok := retryAfter(h); ok {
		t.Fatal("missing header should not parse")
	}
	h.Set("Retry-After", "120")
	if d, ok := retryAfter(h); !ok || d != maxRetryAfter {
		t.Fatalf("expected cap %v, got %v %v", maxRetryAfter, d, ok)
	}
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if _, ok := retryAfter(h); ok {
		t.Fatal("HTTP dates are not supported")
	}
}

func TestOpenAI_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("expected a 400 StatusError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx should not be retried, got %d attempts", hits.Load())
	}
}

func TestOpenAI_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	if err := newTestOpenAI(srv.URL).Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy: %v", err)
	}
	bad := NewOpenAI(OpenAIConfig{APIKey: "wrong", APIBase: srv.URL, Logger: testLogger()})
	if err := bad.Healthy(context.Background()); err == nil || !strings.Contains(err.Error(), "invalid API key") {
		t.Fatalf("expected invalid key error, got %v", err)
	}
}
