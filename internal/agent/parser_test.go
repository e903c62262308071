package agent

import (
	"testing"

	"aicoder/internal/domain"
)

// --- extractToolCallsFromContent ---

func TestExtractToolCalls_SingleObject(t *testing.T) {
	input := `{"name": "run_command", "arguments": {"cmd": "ls -la"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "run_command" {
		t.Fatalf("expected 'run_command', got %q", calls[0].Name)
	}
	if calls[0].Arguments["cmd"] != "ls -la" {
		t.Fatalf("expected 'ls -la', got %v", calls[0].Arguments["cmd"])
	}
}

func TestExtractToolCalls_ParametersField(t *testing.T) {
	input := `{"name": "read_file", "parameters": {"path": "src/app.ts"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments["path"] != "src/app.ts" {
		t.Fatalf("expected path, got %v", calls[0].Arguments)
	}
}

func TestExtractToolCalls_Array(t *testing.T) {
	input := `[{"name": "create_directory", "arguments": {"path": "src"}}, {"name": "write_to_file", "arguments": {"path": "src/a.js", "content": ""}}]`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
}

func TestExtractToolCalls_CodeFenceWrapped(t *testing.T) {
	input := "```json\n{\"name\": \"shell\", \"arguments\": {\"cmd\": \"echo hi\"}}\n```"
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call from code fence, got %d", len(calls))
	}
	if calls[0].Name != "run_command" {
		t.Fatalf("alias 'shell' should map to 'run_command', got %q", calls[0].Name)
	}
}

func TestExtractToolCalls_PlainText(t *testing.T) {
	input := "Sure, let me help you with that!"
	calls := extractToolCallsFromContent(input)
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for plain text, got %d", len(calls))
	}
}

func TestExtractToolCalls_EmptyName(t *testing.T) {
	input := `{"name": "", "arguments": {}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty name, got %d", len(calls))
	}
}

func TestExtractToolCalls_EmptyString(t *testing.T) {
	calls := extractToolCallsFromContent("")
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty input, got %d", len(calls))
	}
}

func TestExtractToolCalls_NilArguments(t *testing.T) {
	input := `{"name": "list_directory_contents"}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments == nil {
		t.Fatal("arguments should be initialized to empty map")
	}
}

// --- sanitizeJSONEscapes ---

func TestSanitizeJSONEscapes_ValidJSON(t *testing.T) {
	input := `{"key": "value with \"quotes\" and \\backslash"}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("valid JSON should not change:\n  got:  %q\n  want: %q", result, input)
	}
}

func TestSanitizeJSONEscapes_InvalidEscape(t *testing.T) {
	// \% is an invalid JSON escape, so the backslash is dropped
	input := `{"key": "100\% done"}`
	result := sanitizeJSONEscapes(input)
	expected := `{"key": "100% done"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestSanitizeJSONEscapes_MultipleInvalid(t *testing.T) {
	input := `{"msg": "Hello \World \! \?"}`
	result := sanitizeJSONEscapes(input)
	expected := `{"msg": "Hello World ! ?"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestSanitizeJSONEscapes_PreservesValidEscapes(t *testing.T) {
	input := `{"text": "line1\nline2\ttab"}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("valid escapes should be preserved: got %q", result)
	}
}

func TestSanitizeJSONEscapes_EmptyString(t *testing.T) {
	result := sanitizeJSONEscapes("")
	if result != "" {
		t.Fatalf("expected empty, got %q", result)
	}
}

func TestSanitizeJSONEscapes_NoStrings(t *testing.T) {
	input := `{}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("expected unchanged, got %q", result)
	}
}

// --- extractToolCallsFromContent with invalid escapes ---

func TestExtractToolCalls_WithInvalidEscapes(t *testing.T) {
	// Simulates LLM returning JSON with \% inside
	input := `{"name": "run_command", "arguments": {"cmd": "echo 100\%"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call after sanitization, got %d", len(calls))
	}
	if calls[0].Arguments["cmd"] != "echo 100%" {
		t.Fatalf("expected sanitized command, got %v", calls[0].Arguments["cmd"])
	}
}

// --- coalesce ---

func TestCoalesce_FirstNonNil(t *testing.T) {
	a := map[string]any{"key": "a"}
	b := map[string]any{"key": "b"}
	result := coalesce(a, b)
	if result["key"] != "a" {
		t.Fatalf("expected 'a', got %v", result["key"])
	}
}

func TestCoalesce_SecondWhenFirstNil(t *testing.T) {
	b := map[string]any{"key": "b"}
	result := coalesce(nil, b)
	if result["key"] != "b" {
		t.Fatalf("expected 'b', got %v", result["key"])
	}
}

func TestCoalesce_BothNil(t *testing.T) {
	result := coalesce(nil, nil)
	if result == nil {
		t.Fatal("expected empty map, got nil")
	}
	if len(result) != 0 {
		t.Fatalf("expected empty map, got %v", result)
	}
}

// --- normalizeToolName ---

func TestNormalizeToolName_Aliases(t *testing.T) {
	cases := map[string]string{
		"WriteFile":     "write_to_file",
		"mkdir":         "create_directory",
		"list-dir":      "list_directory_contents",
		"bash":          "run_command",
		"read_file":     "read_file",
		"something_new": "something_new",
	}
	for in, want := range cases {
		if got := normalizeToolName(in); got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
}

// --- knownCalls ---

func TestKnownCalls_FiltersUnregistered(t *testing.T) {
	calls := []domain.ToolCall{{Name: "my-app"}, {Name: "write_to_file"}}
	got := knownCalls(calls, map[string]bool{"write_to_file": true})
	if len(got) != 1 || got[0].Name != "write_to_file" {
		t.Fatalf("unexpected calls %+v", got)
	}
}

func TestExtractToolCalls_PackageJSONIsNotACall(t *testing.T) {
	content := "Done. Your package.json:\n{\"name\": \"todo-app\", \"version\": \"1.0.0\"}"
	calls := knownCalls(extractToolCallsFromContent(content), map[string]bool{"write_to_file": true})
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %+v", calls)
	}
}

// --- stripRolePrefix ---

func TestStripRolePrefix(t *testing.T) {
	if got := stripRolePrefix("assistant\nAll done."); got != "All done." {
		t.Fatalf("unexpected %q", got)
	}
	if got := stripRolePrefix("All done."); got != "All done." {
		t.Fatalf("unexpected %q", got)
	}
}

func TestStripRolePrefix_Variants(t *testing.T) {
	cases := map[string]string{
		"Assistant: Hello":        "Hello",
		"ASSISTANT:\nHello":       "Hello",
		"assistants can help you": "assistants can help you",
		"assistant":               "assistant",
	}
	for in, want := range cases {
		if got := stripRolePrefix(in); got != want {
			t.Errorf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestExtractToolCalls_SurroundedByProse(t *testing.T) {
	input := "assistant\nI'll create it now.\n{\"name\": \"mkdir\", \"arguments\": {\"path\": \"src\"}}\nThat makes the folder."
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 || calls[0].Name != "create_directory" || calls[0].Arguments["path"] != "src" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestExtractToolCalls_FunctionShape(t *testing.T) {
	input := `{"type": "function", "function": {"name": "write_to_file", "arguments": "{\"path\": \"a.txt\", \"content\": \"x\"}"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 || calls[0].Name != "write_to_file" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if calls[0].Arguments["path"] != "a.txt" || calls[0].Arguments["content"] != "x" {
		t.Fatalf("string arguments should be decoded, got %+v", calls[0].Arguments)
	}
}

func TestExtractToolCalls_UniqueIDs(t *testing.T) {
	input := `[{"name": "read_file", "arguments": {"path": "a"}}, {"name": "read_file", "arguments": {"path": "b"}}]`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 2 || calls[0].ID == calls[1].ID || calls[0].ID == "" {
		t.Fatalf("expected two distinct ids, got %+v", calls)
	}
}
