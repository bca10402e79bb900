// Package llmcall implements the LLM Call Activity (single-shot completion,
// streaming side-effects, retry/failure classification) and the Response
// Parser's tool-call extraction passes.
package llmcall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/agentexec/core/runtime/agent/model"
)

// ToolCall is the reasoning loop's normalized tool-call shape: a stable id,
// the tool name, and JSON-encoded arguments (always a string, never raw
// values), per §4.2's structured-extraction contract.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// taskCompleteJSON matches a single well-formed
// {"name":"task_complete","arguments":{...}} object embedded in free text.
// It is deliberately conservative (non-greedy object body) since it is only
// a recovery path, not the primary extraction mechanism.
var taskCompleteJSON = regexp.MustCompile(`\{\s*"name"\s*:\s*"task_complete"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}`)

// taskCompleteToken matches the bare literal token as a last-resort signal
// that the model intended to complete the task without emitting any
// structured call at all.
const taskCompleteToken = "task_complete"

// ExtractToolCalls runs the two-pass extraction described in §4.2: first the
// structured tool_calls the provider already returned; only if that yields
// nothing does it fall back to content-embedded recovery.
func ExtractToolCalls(structured []model.ToolCall, content string) []ToolCall {
	if len(structured) > 0 {
		out := make([]ToolCall, 0, len(structured))
		for _, tc := range structured {
			out = append(out, normalizeStructured(tc))
		}
		return out
	}
	return extractFromContent(content)
}

// normalizeStructured turns a provider ToolCall into the normalized form,
// wrapping non-object payloads as {"value": ...} so Arguments is always a
// JSON object string, matching §4.2's "wrap non-objects" rule.
func normalizeStructured(tc model.ToolCall) ToolCall {
	id := tc.ID
	if id == "" {
		id = syntheticID()
	}
	args := string(tc.Payload)
	if !isJSONObject(args) {
		wrapped, err := json.Marshal(map[string]any{"value": json.RawMessage(orNull(tc.Payload))})
		if err != nil {
			wrapped = []byte(`{"value":null}`)
		}
		args = string(wrapped)
	}
	return ToolCall{ID: id, Name: string(tc.Name), Arguments: args}
}

// extractFromContent implements the three-stage content-embedded fallback:
// full-content JSON parse, regex-matched embedded object, then a bare
// literal-token detection, in that order, stopping at the first match.
func extractFromContent(content string) []ToolCall {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	// Stage 1: the entire (trimmed) content is itself the call object.
	if call, ok := parseTaskCompleteObject(trimmed); ok {
		return []ToolCall{call}
	}

	// Stage 2: a task_complete object is embedded somewhere in free text.
	if m := taskCompleteJSON.FindStringSubmatch(content); m != nil {
		argsRaw := m[1]
		if json.Valid([]byte(argsRaw)) {
			return []ToolCall{{ID: syntheticID(), Name: "task_complete", Arguments: argsRaw}}
		}
	}

	// Stage 3: the literal token appears, but nothing parses; synthesize a
	// call carrying the raw content as the result.
	if strings.Contains(content, taskCompleteToken) {
		args, _ := json.Marshal(map[string]any{"result": content})
		return []ToolCall{{ID: syntheticID(), Name: "task_complete", Arguments: string(args)}}
	}

	return nil
}

// parseTaskCompleteObject tries to parse s as a JSON object and, if it has
// name=="task_complete", returns the normalized call for its arguments.
func parseTaskCompleteObject(s string) (ToolCall, bool) {
	var obj struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return ToolCall{}, false
	}
	if obj.Name != "task_complete" {
		return ToolCall{}, false
	}
	args := string(obj.Arguments)
	if args == "" || !isJSONObject(args) {
		args = "{}"
	}
	return ToolCall{ID: syntheticID(), Name: obj.Name, Arguments: args}, true
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// syntheticID mints a fresh id for a tool call the parser synthesized
// rather than one the provider issued, per §4.2's `extracted_<uuid8>` rule.
func syntheticID() string {
	return "extracted_" + uuid.NewString()[:8]
}

// RecoverArguments implements §4.1 edge case "tool-call arguments that fail
// JSON parse": attempt to recover by wrapping the raw string as
// {"text": <raw>}; callers treat a false ok as unrecoverable.
func RecoverArguments(raw string) (json.RawMessage, bool) {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), true
	}
	wrapped, err := json.Marshal(map[string]string{"text": raw})
	if err != nil {
		return nil, false
	}
	return wrapped, true
}

// StreamAccumulator assembles ToolCallDelta fragments keyed by provider
// stream index into final tool calls, per §4.2's streaming-assembly rule:
// concatenate string argument deltas, take the latest non-empty id/name
// override, then validate the assembled arguments parse as JSON (applying
// the same recovery as RecoverArguments).
type StreamAccumulator struct {
	byIndex map[int]*accumulatedCall
	order   []int
}

type accumulatedCall struct {
	id   string
	name string
	args strings.Builder
}

// NewStreamAccumulator creates an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{byIndex: map[int]*accumulatedCall{}}
}

// Add folds one delta fragment, addressed by its stream index, into the
// accumulator.
func (a *StreamAccumulator) Add(index int, id, name, delta string) {
	c, ok := a.byIndex[index]
	if !ok {
		c = &accumulatedCall{}
		a.byIndex[index] = c
		a.order = append(a.order, index)
	}
	if id != "" {
		c.id = id
	}
	if name != "" {
		c.name = name
	}
	c.args.WriteString(delta)
}

// Finish validates and returns the assembled calls in index order.
func (a *StreamAccumulator) Finish() []ToolCall {
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		c := a.byIndex[idx]
		id := c.id
		if id == "" {
			id = syntheticID()
		}
		args := strings.TrimSpace(c.args.String())
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			if recovered, ok := RecoverArguments(args); ok {
				args = string(recovered)
			} else {
				args = "{}"
			}
		}
		out = append(out, ToolCall{ID: id, Name: c.name, Arguments: args})
	}
	return out
}
