// Package reasoning implements the Reasoning Loop (C6): the durable,
// cancellable, pausable workflow that drives an LLM through iterative
// tool-calling until a goal is met.
package reasoning

import (
	"context"

	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/toolcatalog"
)

// AgentConfig is what build_agent_config resolves for a given agent: the
// model selection, its base instruction, and streaming preference. The tool
// catalog itself is resolved separately by discover_tools (§4.1 step 2).
type AgentConfig struct {
	AgentID      string
	Model        string
	ModelClass   model.ModelClass
	Instruction  string
	Streaming    bool
	EvaluatorModel string
}

// ConfigBuilder resolves an AgentConfig for an agent, given the requesting
// user's context. Implementations typically read a static agent catalog
// (configuration, not code) or a registry service.
type ConfigBuilder interface {
	BuildAgentConfig(ctx context.Context, agentID, userContext string) (AgentConfig, error)
}

// ToolDiscoverer resolves the tool catalog available to an agent for a given
// caller. It is the workflow-facing narrowing of toolcatalog.Discoverer.
type ToolDiscoverer interface {
	DiscoverTools(ctx context.Context, agentID, userContext string) ([]*toolcatalog.Descriptor, error)
}
