package model

import (
	"bytes"
	"encoding/json"
)

// HighConfidence is the score assigned to a field after a user edit.
const HighConfidence = "100"

// ScoredField is a leaf of the submission tree: an extracted value plus the
// extraction confidence reported by the upstream service.
type ScoredField struct {
	Value any
	Score string

	// noScore marks a field decoded without a "score" key.
	noScore bool
}

// NewScoredField returns a field carrying the given value and score.
func NewScoredField(value any, score string) *ScoredField {
	return &ScoredField{Value: value, Score: score}
}

// Edit replaces the value and, when the field carries a score, marks it as
// user-confirmed.
func (f *ScoredField) Edit(value any) {
	f.Value = value
	if !f.noScore {
		f.Score = HighConfidence
	}
}

func (f *ScoredField) clone() *ScoredField {
	c := *f
	c.Value = cloneValue(f.Value)
	return &c
}

// MarshalJSON encodes the field as {"value": ..., "score": ...}.
func (f *ScoredField) MarshalJSON() ([]byte, error) {
	if f.noScore {
		return json.Marshal(struct {
			Value any `json:"value"`
		}{f.Value})
	}
	return json.Marshal(struct {
		Value any    `json:"value"`
		Score string `json:"score"`
	}{f.Value, f.Score})
}

// UnmarshalJSON decodes {"value": ..., "score": ...}. Nested objects in the
// value are lifted the same way Tree lifts its children.
func (f *ScoredField) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decodeLifted(raw["value"])
	if err != nil {
		return err
	}
	f.Value = v
	f.Score = ""
	f.noScore = true
	if s, ok := raw["score"]; ok {
		f.noScore = false
		var score any
		if err := json.Unmarshal(s, &score); err != nil {
			return err
		}
		f.Score = scoreString(score)
	}
	return nil
}

// isScoredObject reports whether a decoded JSON object has the shape of a
// scored field: a "value" key and nothing besides an optional "score".
func isScoredObject(m map[string]any) bool {
	if _, ok := m["value"]; !ok {
		return false
	}
	switch len(m) {
	case 1:
		return true
	case 2:
		_, ok := m["score"]
		return ok
	default:
		return false
	}
}

func scoreString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(bytes.Trim(b, `"`))
	}
}
