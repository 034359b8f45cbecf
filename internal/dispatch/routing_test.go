package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func TestNewRoutingTable_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		routes []Route
	}{
		{"empty", nil},
		{"no name", []Route{{Endpoint: "http://x"}}},
		{"duplicate", []Route{{Name: "a", Endpoint: "http://x"}, {Name: "a", Endpoint: "http://y"}}},
		{"no endpoint", []Route{{Name: "a"}}},
		{"unknown shaping", []Route{{Name: "a", Endpoint: "http://x", Shaping: "partial"}}},
		{"unknown section", []Route{{Name: "a", Endpoint: "http://x", Shaping: ShapeSection, Section: "Marine"}}},
		{"missing section", []Route{{Name: "a", Endpoint: "http://x", Shaping: ShapeWithoutSection}}},
		{"unknown transport", []Route{{Name: "a", Endpoint: "http://x", Transport: "grpc"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRoutingTable(tt.routes)
			assert.ErrorIs(t, err, ErrInvalidRoute)
		})
	}
}

func TestNewRoutingTable_Defaults(t *testing.T) {
	t.Parallel()

	table, err := NewRoutingTable([]Route{
		{Name: "a", Endpoint: "http://x"},
		{Name: "b", Transport: TransportLLM},
	})
	require.NoError(t, err)

	routes := table.Routes()
	assert.Equal(t, ShapeFull, routes[0].Shaping)
	assert.Equal(t, TransportHTTP, routes[0].Transport)
	assert.Equal(t, TransportLLM, routes[1].Transport)
	assert.Equal(t, []string{"a", "b"}, table.Names())
}

func TestRoutingTable_RoutesAreCopies(t *testing.T) {
	t.Parallel()

	table, err := NewRoutingTable([]Route{{Name: "a", Endpoint: "http://x", Registry: map[string]any{"AgentID": "1"}}})
	require.NoError(t, err)

	routes := table.Routes()
	routes[0].Name = "changed"
	routes[0].Registry["AgentID"] = "2"

	again := table.Routes()
	assert.Equal(t, "a", again[0].Name)
	assert.Equal(t, "1", again[0].Registry["AgentID"])
}

func TestDefaultRoutingTable(t *testing.T) {
	t.Parallel()

	table := DefaultRoutingTable("")
	assert.Equal(t, 6, table.Len())
	assert.Len(t, table.IDs(), 6)
	assert.Equal(t, []string{
		"InsuranceVerify", "LossInsights", "PropEval",
		"ExposureInsights", "EligibilityCheck", "BusinessProfileSearch",
	}, table.Names())

	hosts := map[string]bool{}
	for _, r := range table.Routes() {
		hosts[r.Endpoint] = true
		assert.False(t, r.SendConfig, r.Name)
	}
	assert.Len(t, hosts, 6, "one host per agent")
}

func TestDefaultRoutingTable_SharedEndpoint(t *testing.T) {
	t.Parallel()

	table := DefaultRoutingTable("http://agents.internal:9000/query")
	for _, r := range table.Routes() {
		assert.Equal(t, "http://agents.internal:9000/query", r.Endpoint, r.Name)
		assert.True(t, r.SendConfig, r.Name)
	}
}

func TestRoutingTable_WithRegistry(t *testing.T) {
	t.Parallel()

	table, err := NewRoutingTable([]Route{
		{Name: "a", ID: "id-a", Endpoint: "http://x", SendConfig: true},
		{Name: "b", Endpoint: "http://y", Registry: map[string]any{"AgentName": "own"}},
	})
	require.NoError(t, err)

	next := table.WithRegistry(map[string]map[string]any{
		"id-a": {"AgentName": "Alpha"},
		"":     {"AgentName": "ignored"},
	})
	routes := next.Routes()
	assert.Equal(t, "Alpha", routes[0].Registry["AgentName"])
	assert.Equal(t, "own", routes[1].Registry["AgentName"])
	assert.Equal(t, "Alpha", routes[0].AgentConfig()["AgentName"])
	assert.Nil(t, routes[1].AgentConfig())

	assert.Nil(t, table.Routes()[0].Registry, "original table unchanged")
}

func TestLoadRoutingTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - name: PropEval
    id: prop-1
    endpoint: https://propeval.example.com/query
    shaping: reference
    prompt_suffix: Evaluate the property.
  - name: Profile
    endpoint: https://profile.example.com/query
    shaping: section
    section: Common
    send_config: true
    registry:
      AgentName: Profile
  - name: Summary
    transport: llm
    model: claude-haiku-4-5
    system: Summarise the submission.
`), 0o600))

	table, err := LoadRoutingTable(path)
	require.NoError(t, err)

	routes := table.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, ShapeReference, routes[0].Shaping)
	assert.Equal(t, "Evaluate the property.", routes[0].PromptSuffix)
	assert.Equal(t, "Common", routes[1].Section)
	assert.True(t, routes[1].SendConfig)
	assert.Equal(t, "Profile", routes[1].Registry["AgentName"])
	assert.Equal(t, TransportLLM, routes[2].Transport)
	assert.Equal(t, ShapeFull, routes[2].Shaping)
}

func TestLoadRoutingTable_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadRoutingTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: [name: a"), 0o600))
	_, err = LoadRoutingTable(path)
	assert.Error(t, err)
}

func TestCraftAgentConfig(t *testing.T) {
	t.Parallel()

	assert.Nil(t, CraftAgentConfig(nil))

	cfg := CraftAgentConfig(map[string]any{
		"AgentID":   "a-1",
		"AgentName": "PropEval",
		"Configuration": map[string]any{
			"system_message":           "be precise",
			"structured_output_toggle": true,
			"structured_output":        `{"structured_output": {"type": "object"}}`,
		},
		"selectedKnowledgeBase": map[string]any{"id": "kb-1", "name": "Guides", "collection_name": "guides"},
	})

	assert.Equal(t, "a-1", cfg["AgentID"])
	inner := cfg["Configuration"].(map[string]any)
	assert.Equal(t, "be precise", inner["system_message"])
	assert.Equal(t, map[string]any{"type": "object"}, inner["structured_output"])
	assert.Equal(t, []any{}, inner["tools"])

	kb := cfg["knowledge_base"].(map[string]any)
	assert.Equal(t, "kb-1", kb["id"])
	assert.Equal(t, "yes", kb["enabled"])
	assert.Equal(t, embeddingModel, kb["embedding_model"])
	assert.Equal(t, kbChunks, kb["number_of_chunks"])
	assert.Equal(t, kb, inner["knowledge_base"])
	assert.Equal(t, false, cfg["isManagerAgent"])
}

func TestCraftAgentConfig_StructuredOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  map[string]any
		want any
	}{
		{"toggle off", map[string]any{"structured_output": `{"a":1}`}, map[string]any{}},
		{"explicit false", map[string]any{"structured_output_toggle": true, "structured_output": false}, nil},
		{"missing", map[string]any{"structured_output_toggle": true}, map[string]any{}},
		{"bad json", map[string]any{"structured_output_toggle": true, "structured_output": "{"}, map[string]any{}},
		{"object", map[string]any{"structured_output_toggle": true, "structured_output": map[string]any{"k": "v"}}, map[string]any{"k": "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := CraftAgentConfig(map[string]any{"Configuration": tt.cfg})
			assert.Equal(t, tt.want, cfg["Configuration"].(map[string]any)["structured_output"])
		})
	}
}

func sampleSubmission() model.Tree {
	return model.Tree{
		"Common": model.Tree{
			"Firmographics": model.Tree{"SicDesc": model.NewScoredField("Bakery", "80")},
		},
		"Loss Run": model.Tree{"claims": []any{}},
	}
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	sub := sampleSubmission()
	tests := []struct {
		name  string
		route Route
		req   Request
		want  string
	}{
		{
			name:  "reference initial",
			route: Route{Shaping: ShapeReference, PromptSuffix: "Please verify."},
			req:   Request{CaseID: "C-1", Submission: sub},
			want:  "case_id : C-1 Please verify.",
		},
		{
			name:  "reference rerun",
			route: Route{Shaping: ShapeReference, PromptSuffix: "Please verify."},
			req:   Request{CaseID: "C-1", Edits: map[string]any{"sicdesc": "Cafe"}},
			want:  `case_id : C-1,modified_data : {"sicdesc":"Cafe"} Please verify.`,
		},
		{
			name:  "reference empty edits still rerun",
			route: Route{Shaping: ShapeReference},
			req:   Request{CaseID: "C-1", Edits: map[string]any{}},
			want:  "case_id : C-1,modified_data : {}",
		},
		{
			name:  "single section",
			route: Route{Shaping: ShapeSection, Section: "Common", PromptSuffix: "Search."},
			req:   Request{CaseID: "C-1", Submission: sub},
			want:  `{"Common":{"Firmographics":{"SicDesc":{"value":"Bakery","score":"80"}}}} Search.`,
		},
		{
			name:  "missing section",
			route: Route{Shaping: ShapeSection, Section: "Auto"},
			req:   Request{CaseID: "C-1", Submission: sub},
			want:  `{"Auto":null}`,
		},
		{
			name:  "without section",
			route: Route{Shaping: ShapeWithoutSection, Section: "Common"},
			req:   Request{CaseID: "C-1", Submission: sub},
			want:  `{"Loss Run":{"claims":[]}}`,
		},
		{
			name:  "full nil submission",
			route: Route{Shaping: ShapeFull},
			req:   Request{CaseID: "C-1"},
			want:  `{}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := BuildMessage(tt.route, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProject_DoesNotMutate(t *testing.T) {
	t.Parallel()

	sub := sampleSubmission()
	out := Project(Route{Shaping: ShapeWithoutSection, Section: "Common"}, sub)
	assert.NotContains(t, out, "Common")
	assert.Contains(t, sub, "Common")
	assert.Nil(t, Project(Route{Shaping: ShapeReference}, sub))
}
