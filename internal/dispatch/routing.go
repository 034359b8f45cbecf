// Package dispatch fans a submission out to the configured insight agents.
package dispatch

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intake-cli/internal/annotate"
)

// ErrInvalidRoute is wrapped by every routing table validation failure.
var ErrInvalidRoute = eris.New("dispatch: invalid route")

// Shaping selects the projection of the submission an agent receives.
type Shaping string

const (
	// ShapeReference sends only the case id, plus the edit set on reruns.
	ShapeReference Shaping = "reference"
	// ShapeWithoutSection sends the full submission minus one section.
	ShapeWithoutSection Shaping = "without_section"
	// ShapeSection sends a single section.
	ShapeSection Shaping = "section"
	// ShapeFull sends the whole submission.
	ShapeFull Shaping = "full"
)

func (s Shaping) valid() bool {
	switch s {
	case ShapeReference, ShapeWithoutSection, ShapeSection, ShapeFull:
		return true
	}
	return false
}

func (s Shaping) needsSection() bool {
	return s == ShapeWithoutSection || s == ShapeSection
}

// Transport selects how an agent is reached.
type Transport string

const (
	// TransportHTTP posts to the agent's query endpoint.
	TransportHTTP Transport = "http"
	// TransportLLM asks a Claude model directly.
	TransportLLM Transport = "llm"
)

// Route describes one agent.
type Route struct {
	Name         string    `yaml:"name"`
	ID           string    `yaml:"id"`
	Endpoint     string    `yaml:"endpoint"`
	Shaping      Shaping   `yaml:"shaping"`
	Section      string    `yaml:"section"`
	PromptSuffix string    `yaml:"prompt_suffix"`
	Transport    Transport `yaml:"transport"`
	// SendConfig includes the crafted agent_config blob in each query.
	SendConfig bool `yaml:"send_config"`
	// Registry is the agent's registry document, the source of agent_config.
	Registry map[string]any `yaml:"registry"`
	Model    string         `yaml:"model"`
	System   string         `yaml:"system"`
}

// AgentConfig returns the crafted agent_config blob, or nil when the route
// does not send one.
func (r Route) AgentConfig() map[string]any {
	if !r.SendConfig {
		return nil
	}
	return CraftAgentConfig(r.Registry)
}

// RoutingTable is an immutable, validated set of routes.
type RoutingTable struct {
	routes []Route
}

// NewRoutingTable validates routes and builds a table. Transport defaults to
// http and shaping to full.
func NewRoutingTable(routes []Route) (*RoutingTable, error) {
	if len(routes) == 0 {
		return nil, eris.Wrap(ErrInvalidRoute, "dispatch: routing table is empty")
	}

	seen := make(map[string]bool, len(routes))
	out := make([]Route, 0, len(routes))
	for i, r := range routes {
		if r.Name == "" {
			return nil, eris.Wrapf(ErrInvalidRoute, "dispatch: route %d has no name", i)
		}
		if seen[r.Name] {
			return nil, eris.Wrapf(ErrInvalidRoute, "dispatch: duplicate route %q", r.Name)
		}
		seen[r.Name] = true

		if r.Shaping == "" {
			r.Shaping = ShapeFull
		}
		if !r.Shaping.valid() {
			return nil, eris.Wrapf(ErrInvalidRoute, "dispatch: route %q has unknown shaping %q", r.Name, r.Shaping)
		}
		if r.Shaping.needsSection() {
			if _, ok := annotate.Lookup(r.Section); !ok {
				return nil, eris.Wrapf(ErrInvalidRoute, "dispatch: route %q names unknown section %q", r.Name, r.Section)
			}
		}

		if r.Transport == "" {
			r.Transport = TransportHTTP
		}
		switch r.Transport {
		case TransportHTTP:
			if r.Endpoint == "" {
				return nil, eris.Wrapf(ErrInvalidRoute, "dispatch: route %q has no endpoint", r.Name)
			}
		case TransportLLM:
		default:
			return nil, eris.Wrapf(ErrInvalidRoute, "dispatch: route %q has unknown transport %q", r.Name, r.Transport)
		}

		r.Registry = cloneDoc(r.Registry)
		out = append(out, r)
	}
	return &RoutingTable{routes: out}, nil
}

// Routes returns a copy of the table's routes.
func (t *RoutingTable) Routes() []Route {
	out := slices.Clone(t.routes)
	for i := range out {
		out[i].Registry = cloneDoc(out[i].Registry)
	}
	return out
}

// Names returns the route names in table order.
func (t *RoutingTable) Names() []string {
	names := make([]string, len(t.routes))
	for i, r := range t.routes {
		names[i] = r.Name
	}
	return names
}

// Len returns the number of routes.
func (t *RoutingTable) Len() int {
	return len(t.routes)
}

// IDs returns the agent ids of routes that carry one.
func (t *RoutingTable) IDs() []string {
	var ids []string
	for _, r := range t.routes {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// WithRegistry returns a new table whose routes take their registry
// document from docs, keyed by agent id. Routes without a matching document
// keep their own.
func (t *RoutingTable) WithRegistry(docs map[string]map[string]any) *RoutingTable {
	routes := t.Routes()
	for i, r := range routes {
		if doc, ok := docs[r.ID]; ok && r.ID != "" {
			routes[i].Registry = cloneDoc(doc)
		}
	}
	return &RoutingTable{routes: routes}
}

// LoadRoutingTable reads a routing table from a YAML file with a top-level
// "agents" list.
func LoadRoutingTable(path string) (*RoutingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: read routes %s", path)
	}

	var wrapper struct {
		Agents []Route `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "dispatch: parse routes")
	}
	return NewRoutingTable(wrapper.Agents)
}

func cloneDoc(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case map[string]any:
			out[k] = cloneDoc(x)
		case []any:
			out[k] = slices.Clone(x)
		default:
			out[k] = v
		}
	}
	return out
}
