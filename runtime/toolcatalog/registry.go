package toolcatalog

import (
	"context"
	"fmt"

	"github.com/agentexec/core/runtime/agent/tools"
)

// Discoverer resolves the tool catalog available to an agent for a given
// user context, per §4.1 startup step 2 ("discover_tools(agent_id,
// user_context)"). Implementations typically read from an agent-catalog
// store (static YAML, a service registry, etc.); this package only defines
// the contract the reasoning loop depends on.
type Discoverer interface {
	DiscoverTools(ctx context.Context, agentID, userContext string) ([]*Descriptor, error)
}

// Registry holds a workflow's resolved tool catalog for its lifetime,
// guaranteeing the built-in task_complete descriptor is always present
// (§4.1 startup step 2: "Append the built-in task_complete descriptor if
// absent.") and that every descriptor's schema is compiled exactly once.
type Registry struct {
	byName map[tools.Ident]*Descriptor
	order  []tools.Ident
}

// NewRegistry compiles the schema for each descriptor and appends
// task_complete if discovery did not already return one.
func NewRegistry(descriptors []*Descriptor) (*Registry, error) {
	r := &Registry{byName: map[tools.Ident]*Descriptor{}}
	hasTaskComplete := false
	for _, d := range descriptors {
		if d.Name == TaskCompleteName {
			hasTaskComplete = true
		}
		if err := r.add(d); err != nil {
			return nil, err
		}
	}
	if !hasTaskComplete {
		if err := r.add(NewTaskCompleteDescriptor()); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(d *Descriptor) error {
	compiled, err := compile(string(d.Name), d.ArgsSchema)
	if err != nil {
		return err
	}
	d.compiled = compiled
	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = d
	return nil
}

// Lookup returns the descriptor for name, or false if the tool is unknown.
func (r *Registry) Lookup(name tools.Ident) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Definitions projects the catalog into the model-facing tool definitions
// (name, description, input schema) the LLM Call Activity attaches to its
// request.
func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		d := r.byName[name]
		out = append(out, ToolDefinition{
			Name:        string(d.Name),
			Description: d.Description,
			InputSchema: rawSchemaOrEmptyObject(d.ArgsSchema),
		})
	}
	return out
}

// ToolDefinition mirrors model.ToolDefinition's shape without importing the
// model package here, to keep the catalog provider-agnostic; callers adapt
// at the boundary (see toolOut in runtime/reasoning).
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

func rawSchemaOrEmptyObject(raw []byte) any {
	if len(raw) == 0 {
		return map[string]any{"type": "object"}
	}
	return rawJSON(raw)
}

// rawJSON is a thin alias so InputSchema carries the original schema bytes
// for encoders that accept json.RawMessage-compatible any values.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }

// Skills projects the catalog (minus task_complete) into agent-card skill
// entries, per SPEC_FULL.md's "Agent card skills from the tool catalog"
// supplement.
func (r *Registry) Skills() []Skill {
	out := make([]Skill, 0, len(r.order))
	for _, name := range r.order {
		if name == TaskCompleteName {
			continue
		}
		d := r.byName[name]
		out = append(out, Skill{ID: string(d.Name), Name: string(d.Name), Description: d.Description})
	}
	return out
}

// Skill is the agent-card skill shape (§6 agent discovery).
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StaticDiscoverer is a Discoverer backed by a fixed, in-memory catalog per
// agent_id, used for the AgentConfig static catalog fallback SPEC_FULL.md's
// AMBIENT STACK names. The map is built in Go; nothing in this repository
// decodes it from YAML.
type StaticDiscoverer struct {
	catalogs map[string][]*Descriptor
}

// NewStaticDiscoverer wraps a fixed per-agent catalog map.
func NewStaticDiscoverer(catalogs map[string][]*Descriptor) *StaticDiscoverer {
	return &StaticDiscoverer{catalogs: catalogs}
}

// DiscoverTools returns the static catalog for agentID.
func (s *StaticDiscoverer) DiscoverTools(_ context.Context, agentID, _ string) ([]*Descriptor, error) {
	catalog, ok := s.catalogs[agentID]
	if !ok {
		return nil, fmt.Errorf("toolcatalog: no static catalog registered for agent %q", agentID)
	}
	return catalog, nil
}
