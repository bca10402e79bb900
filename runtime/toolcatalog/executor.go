package toolcatalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentexec/core/runtime/agent/telemetry"
	"github.com/agentexec/core/runtime/agent/tools"
	"github.com/agentexec/core/runtime/mcp"
)

// RemoteCaller dispatches a validated tool call to an MCP server. It is
// exactly runtime/mcp.Caller's contract — the external MCP tool-server
// adapter interface §6 specifies — kept as a narrow local alias so this
// package does not need to know about MCP transports directly.
type RemoteCaller interface {
	CallTool(ctx context.Context, req mcp.CallRequest) (mcp.CallResponse, error)
}

// Executor implements C2's execute(tool_name, args) contract: resolve the
// descriptor, validate args against its schema, dispatch to the builtin
// handler or the remote MCP caller, and always return a structured Result
// rather than propagating dispatch errors directly.
type Executor struct {
	registry *Registry
	remote   RemoteCaller
	logger   telemetry.Logger
	tracer   telemetry.Tracer
}

// NewExecutor builds an Executor over a resolved Registry. remote may be
// nil if the catalog has no Remote-backed descriptors.
func NewExecutor(registry *Registry, remote RemoteCaller, logger telemetry.Logger, tracer telemetry.Tracer) *Executor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Executor{registry: registry, remote: remote, logger: logger, tracer: tracer}
}

// Execute resolves and runs tool_name with args, returning a structured
// Result in every case (including unknown tools and schema violations) so
// the reasoning loop never needs to special-case a dispatch error.
//
// Cancel-aware: if ctx is canceled before or during a remote invocation, the
// pending call is abandoned (the underlying RemoteCaller call returns with
// ctx.Err(), which is surfaced as a tool-level failure, not a workflow
// fault) per §4.3's "abandoned on workflow cancellation" contract.
func (e *Executor) Execute(ctx context.Context, name tools.Ident, args json.RawMessage) Result {
	ctx, span := e.tracer.Start(ctx, "toolcatalog.Execute")
	defer span.End()

	desc, ok := e.registry.Lookup(name)
	if !ok {
		e.logger.Warn(ctx, "unknown tool requested", "tool", string(name))
		return Result{ToolName: string(name), Success: false, Error: "unknown_tool"}
	}

	if err := desc.compiled.validate(args); err != nil {
		details, _ := json.Marshal(map[string]string{"message": err.Error()})
		e.logger.Warn(ctx, "tool argument schema violation", "tool", string(name), "error", err.Error())
		return Result{ToolName: string(name), Success: false, Error: "schema_violation", Details: details}
	}

	switch desc.Backend {
	case BackendBuiltin:
		return e.executeBuiltin(ctx, desc, args)
	case BackendRemote:
		return e.executeRemote(ctx, desc, args)
	default:
		return Result{ToolName: string(name), Success: false, Error: "unknown_backend"}
	}
}

func (e *Executor) executeBuiltin(ctx context.Context, desc *Descriptor, args json.RawMessage) Result {
	if desc.Handler == nil {
		return Result{ToolName: string(desc.Name), Success: false, Error: "no_handler"}
	}
	result, err := desc.Handler(ctx, args)
	if err != nil {
		e.logger.Error(ctx, "builtin tool handler failed", "tool", string(desc.Name), "error", err.Error())
		return Result{ToolName: string(desc.Name), Success: false, Error: err.Error()}
	}
	return result
}

func (e *Executor) executeRemote(ctx context.Context, desc *Descriptor, args json.RawMessage) Result {
	if e.remote == nil {
		return Result{ToolName: string(desc.Name), Success: false, Error: "remote_adapter_unavailable"}
	}
	resp, err := e.remote.CallTool(ctx, mcp.CallRequest{
		Suite:   desc.ServerID,
		Tool:    string(desc.Name),
		Payload: args,
	})
	if err != nil {
		e.logger.Warn(ctx, "remote tool invocation failed", "tool", string(desc.Name), "server", desc.ServerID, "error", err.Error())
		return Result{ToolName: string(desc.Name), Success: false, Error: classifyRemoteError(err)}
	}
	return Result{ToolName: string(desc.Name), Success: true, Result: resp.Result}
}

func classifyRemoteError(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	var mcpErr *mcp.Error
	if errors.As(err, &mcpErr) {
		return fmt.Sprintf("mcp_error:%d", mcpErr.Code)
	}
	return "remote_error"
}
