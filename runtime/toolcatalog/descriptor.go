// Package toolcatalog implements the Tool Registry & Executor (C2): a
// tagged Builtin|Remote ToolDescriptor variant, discovery, JSON-schema
// argument validation, and a cancel-aware synchronous executor.
package toolcatalog

import (
	"context"
	"encoding/json"

	"github.com/agentexec/core/runtime/agent/tools"
)

// Backend tags which dispatch path a Descriptor uses, per §9's
// re-architecture: "model as tagged variant ToolDescriptor { Builtin{name,
// schema, handler} | Remote{name, schema, server_id} }".
type Backend string

const (
	BackendBuiltin Backend = "builtin"
	BackendRemote  Backend = "remote"
)

// BuiltinHandler executes an in-process tool given its raw JSON arguments.
type BuiltinHandler func(ctx context.Context, args json.RawMessage) (Result, error)

// Descriptor is §3's ToolDescriptor: name, description, argument schema,
// and a source that is either an in-process handler (Builtin) or an MCP
// server reference (Remote). Exactly one of Handler/ServerID is set,
// selected by Backend.
type Descriptor struct {
	Name        tools.Ident
	Description string
	ArgsSchema  json.RawMessage // JSON Schema for the `arguments` object

	Backend Backend
	Handler BuiltinHandler // set when Backend == BackendBuiltin
	ServerID string        // set when Backend == BackendRemote

	// compiled is populated lazily by the Registry when the descriptor is
	// registered, so each Execute call does not recompile the schema.
	compiled compiledSchema
}

// Result is the executor's canonical `{success, result, error?, tool_name}`
// output per §4.3.
type Result struct {
	ToolName string          `json:"tool_name"`
	Success  bool            `json:"success"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Details  json.RawMessage `json:"details,omitempty"`
}

// taskCompleteArgs is the always-present builtin's argument shape from §3:
// "A descriptor with name task_complete is always present and carries
// {result, success} arguments."
type taskCompleteArgs struct {
	Result  string `json:"result"`
	Success bool   `json:"success"`
}

// TaskCompleteName is the canonical completion signal's tool name.
const TaskCompleteName tools.Ident = "task_complete"

// TaskCompleteSchema is the JSON Schema for the task_complete builtin's
// arguments, used both to advertise the tool to the model and to validate
// incoming calls the same way any other descriptor is validated.
var TaskCompleteSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "result": {"type": "string"},
    "success": {"type": "boolean"}
  },
  "required": ["success"]
}`)

// NewTaskCompleteDescriptor builds the builtin task_complete descriptor.
// Its handler only echoes its validated arguments back as the result; the
// actual completion semantics (marking goal-achieved, setting
// final_response) live in the reasoning loop per §4.1 step 8a, since they
// affect workflow control flow rather than tool execution.
func NewTaskCompleteDescriptor() *Descriptor {
	return &Descriptor{
		Name:        TaskCompleteName,
		Description: "Signal that the task is complete. success=true is the canonical completion signal.",
		ArgsSchema:  TaskCompleteSchema,
		Backend:     BackendBuiltin,
		Handler: func(_ context.Context, args json.RawMessage) (Result, error) {
			var parsed taskCompleteArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &parsed); err != nil {
					return Result{ToolName: string(TaskCompleteName), Success: false, Error: "invalid_arguments"}, nil
				}
			}
			result, _ := json.Marshal(parsed)
			return Result{ToolName: string(TaskCompleteName), Success: true, Result: result}, nil
		},
	}
}
