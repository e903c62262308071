package agent

import (
	"encoding/json"
	"strings"

	"aicoder/internal/domain"

	"github.com/google/uuid"
)

// textCall is a tool call written into the reply text instead of the
// tool_calls field. Models use "arguments", "parameters", or echo the API
// shape with a nested "function" object whose arguments are a JSON string.
type textCall struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Parameters map[string]any `json:"parameters"`
	Function   *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (c textCall) toolCall() (domain.ToolCall, bool) {
	name, args := c.Name, coalesce(c.Arguments, c.Parameters)
	if c.Function != nil && c.Function.Name != "" {
		name = c.Function.Name
		args = decodeArgs(c.Function.Arguments)
	}
	if name == "" {
		return domain.ToolCall{}, false
	}
	return domain.ToolCall{
		ID:        "text_" + uuid.NewString()[:8],
		Name:      normalizeToolName(name),
		Arguments: args,
	}, true
}

// decodeArgs accepts an object or a string holding one.
func decodeArgs(raw json.RawMessage) map[string]any {
	var args map[string]any
	if json.Unmarshal(raw, &args) == nil && args != nil {
		return args
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && json.Unmarshal([]byte(s), &args) == nil && args != nil {
		return args
	}
	return map[string]any{}
}

// extractToolCallsFromContent recovers tool calls from reply text: a bare
// object or array, one inside a code fence, or one surrounded by prose.
// Calls whose names are not registered are dropped later by knownCalls.
func extractToolCallsFromContent(content string) []domain.ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	for _, text := range []string{content, sanitizeJSONEscapes(content)} {
		raw := firstJSONValue(text)
		if raw == "" {
			continue
		}
		if calls := decodeCalls(raw); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

// firstJSONValue returns the first complete object or array in s.
func firstJSONValue(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		var raw json.RawMessage
		if json.NewDecoder(strings.NewReader(s[i:])).Decode(&raw) == nil {
			return string(raw)
		}
	}
	return ""
}

func decodeCalls(raw string) []domain.ToolCall {
	var list []textCall
	if strings.HasPrefix(raw, "[") {
		if json.Unmarshal([]byte(raw), &list) != nil {
			return nil
		}
	} else {
		var one textCall
		if json.Unmarshal([]byte(raw), &one) != nil {
			return nil
		}
		list = []textCall{one}
	}

	var calls []domain.ToolCall
	for _, c := range list {
		if tc, ok := c.toolCall(); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// toolAliases maps squashed names (lower case, no '_' or '-') that models
// invent to the registered tool names.
var toolAliases = map[string]string{
	"readfile":              "read_file",
	"cat":                   "read_file",
	"getfilemetadata":       "get_file_metadata",
	"filemetadata":          "get_file_metadata",
	"stat":                  "get_file_metadata",
	"listdirectorycontents": "list_directory_contents",
	"listdirectory":         "list_directory_contents",
	"listdir":               "list_directory_contents",
	"ls":                    "list_directory_contents",
	"writetofile":           "write_to_file",
	"writefile":             "write_to_file",
	"createdirectory":       "create_directory",
	"createdir":             "create_directory",
	"mkdir":                 "create_directory",
	"runcommand":            "run_command",
	"shell":                 "run_command",
	"exec":                  "run_command",
	"bash":                  "run_command",
}

func normalizeToolName(name string) string {
	squashed := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(name))
	if mapped, ok := toolAliases[squashed]; ok {
		return mapped
	}
	return name
}

// stripRolePrefix drops an "assistant" role marker leaked into the text,
// as in "assistant\nDone." or "Assistant: Done.".
func stripRolePrefix(content string) string {
	const role = "assistant"
	if len(content) <= len(role) || !strings.EqualFold(content[:len(role)], role) {
		return content
	}
	switch content[len(role)] {
	case ':', '\n':
		return strings.TrimSpace(content[len(role)+1:])
	}
	return content
}

// coalesce returns the first non-nil map, or an empty map.
func coalesce(a, b map[string]any) map[string]any {
	if a != nil {
		return a
	}
	if b != nil {
		return b
	}
	return map[string]any{}
}

// sanitizeJSONEscapes drops the backslash of escapes JSON does not define,
// such as \% or \Y.
func sanitizeJSONEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inString = !inString
		case ch == '\\' && inString && i+1 < len(s):
			if !strings.ContainsRune(`"\/bfnrtu`, rune(s[i+1])) {
				continue
			}
			b.WriteByte(ch)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
