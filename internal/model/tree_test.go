package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeUnmarshal_LiftsScoredFields(t *testing.T) {
	t.Parallel()

	raw := `{
		"Common": {
			"Firmographics": {
				"legal_name": {"value": "Acme", "score": "92"},
				"employees": {"value": 12, "score": 80},
				"primary_naics_2017": [{"naics_code": "1234", "naics_desc": "Bakery"}],
				"unscored": {"value": "x"}
			}
		}
	}`

	var tree Tree
	require.NoError(t, json.Unmarshal([]byte(raw), &tree))

	firm := tree["Common"].(Tree)["Firmographics"].(Tree)

	name, ok := firm["legal_name"].(*ScoredField)
	require.True(t, ok)
	assert.Equal(t, "Acme", name.Value)
	assert.Equal(t, "92", name.Score)

	emp := firm["employees"].(*ScoredField)
	assert.Equal(t, json.Number("12"), emp.Value)
	assert.Equal(t, "80", emp.Score)

	codes, ok := firm["primary_naics_2017"].([]any)
	require.True(t, ok)
	require.Len(t, codes, 1)
	assert.Equal(t, Tree{"naics_code": "1234", "naics_desc": "Bakery"}, codes[0])

	unscored := firm["unscored"].(*ScoredField)
	assert.True(t, unscored.noScore)
}

func TestTreeRoundTrip(t *testing.T) {
	t.Parallel()

	tree := Tree{
		"General Liability": Tree{
			"gl_facts": Tree{
				"payroll": NewScoredField(json.Number("1500.50"), "77"),
			},
		},
		"Property": []any{
			Tree{"standard_facts": Tree{"year_built": NewScoredField("1999", "")}},
		},
	}

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	var back Tree
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, tree, back)
}

func TestTreeClone_IsDeep(t *testing.T) {
	t.Parallel()

	orig := Tree{
		"a": Tree{"b": NewScoredField("v", "10")},
		"l": []any{Tree{"c": "d"}},
	}
	c := orig.Clone()

	c["a"].(Tree)["b"].(*ScoredField).Edit("changed")
	c["l"].([]any)[0].(Tree)["c"] = "e"

	assert.Equal(t, "v", orig["a"].(Tree)["b"].(*ScoredField).Value)
	assert.Equal(t, "10", orig["a"].(Tree)["b"].(*ScoredField).Score)
	assert.Equal(t, "d", orig["l"].([]any)[0].(Tree)["c"])
	assert.Nil(t, Tree(nil).Clone())
}

func TestTreeProjections(t *testing.T) {
	t.Parallel()

	tree := Tree{"Common": Tree{}, "Loss Run": []any{"x"}}

	assert.Equal(t, Tree{"Common": Tree{}}, tree.Without("Loss Run"))
	assert.Equal(t, Tree{"Loss Run": []any{"x"}}, tree.Only("Loss Run"))
	assert.Equal(t, Tree{"Auto": nil}, tree.Only("Auto"))
	assert.Len(t, tree, 2)
}

func TestScoredField_Edit(t *testing.T) {
	t.Parallel()

	f := NewScoredField("a", "50")
	f.Edit("b")
	assert.Equal(t, "b", f.Value)
	assert.Equal(t, HighConfidence, f.Score)

	var noScore ScoredField
	require.NoError(t, json.Unmarshal([]byte(`{"value":"a"}`), &noScore))
	noScore.Edit("b")
	assert.Equal(t, "", noScore.Score)

	out, err := json.Marshal(&noScore)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"b"}`, string(out))
}

func TestIsScoredObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   map[string]any
		want bool
	}{
		{"value only", map[string]any{"value": 1}, true},
		{"value and score", map[string]any{"value": 1, "score": "2"}, true},
		{"score only", map[string]any{"score": "2"}, false},
		{"extra key", map[string]any{"value": 1, "score": "2", "x": 3}, false},
		{"value and other", map[string]any{"value": 1, "x": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isScoredObject(tt.in))
		})
	}
}
