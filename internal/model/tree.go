package model

import (
	"bytes"
	"encoding/json"
)

// Tree is a scored submission tree. Values are one of: Tree (nested
// subtree), *ScoredField (scored leaf), []any (ordered records, never
// scored), or a raw JSON scalar.
type Tree map[string]any

// UnmarshalJSON decodes a tree, lifting objects shaped like scored fields
// into *ScoredField and every other object into Tree. Numbers decode as
// json.Number so values survive a round trip unchanged.
func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*t = nil
		return nil
	}
	*t = liftObject(raw)
	return nil
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = cloneValue(v)
	}
	return out
}

// Without returns a shallow copy of the tree minus the named key.
func (t Tree) Without(key string) Tree {
	out := make(Tree, len(t))
	for k, v := range t {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// Only returns a tree holding just the named key. A missing key maps to nil.
func (t Tree) Only(key string) Tree {
	return Tree{key: t[key]}
}

// Lift converts generic decoded JSON (maps, slices, scalars) into the
// tree's typed representation.
func Lift(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if isScoredObject(x) {
			f := &ScoredField{Value: Lift(x["value"]), noScore: true}
			if s, ok := x["score"]; ok {
				f.noScore = false
				f.Score = scoreString(s)
			}
			return f
		}
		return liftObject(x)
	case Tree:
		return liftObject(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Lift(e)
		}
		return out
	default:
		return v
	}
}

func liftObject(m map[string]any) Tree {
	out := make(Tree, len(m))
	for k, v := range m {
		out[k] = Lift(v)
	}
	return out
}

func decodeLifted(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Lift(v), nil
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Tree:
		return x.Clone()
	case *ScoredField:
		return x.clone()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e).(map[string]any)
		}
		return out
	default:
		return v
	}
}
