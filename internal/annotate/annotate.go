// Package annotate converts raw per-section extraction payloads into scored
// submission tree fragments.
package annotate

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

// ErrEmptyPayload is returned when a section expecting a leading data entry
// receives an empty data array.
var ErrEmptyPayload = eris.New("annotate: empty data array")

// entry is one element of a payload's data array.
type entry struct {
	facts   map[string]any
	options map[string]any
	scores  map[string]any
}

func entryOf(v any) entry {
	m, _ := v.(map[string]any)
	return entry{
		facts:   asObject(m["facts"]),
		options: asObject(m["options"]),
		scores:  asObject(m["scores"]),
	}
}

func (e entry) field(key string, value any) *model.ScoredField {
	return model.NewScoredField(model.Lift(value), scoreOf(e.scores, key))
}

// Annotate shapes one section's raw payload. The result is a model.Tree for
// tree-shaped sections and a []any of per-location trees for list-shaped
// ones.
func Annotate(section Section, raw []byte) (any, error) {
	doc, err := decode(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "annotate: decode %s", section)
	}

	switch section {
	case SectionCommon:
		return annotateCommon(doc)
	case SectionProperty:
		return annotateProperty(doc), nil
	case SectionAdvancedProperty:
		return annotateAdvancedProperty(doc), nil
	case SectionGeneralLiability:
		return annotateGeneralLiability(doc)
	case SectionAuto:
		return annotateAuto(doc)
	case SectionLossRun, SectionWorkersComp:
		if d, ok := doc["data"]; ok {
			return model.Lift(d), nil
		}
		return model.Tree{}, nil
	default:
		return nil, eris.Errorf("annotate: unknown section %q", section)
	}
}

func decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// first returns the leading data entry. A missing data key yields an empty
// entry; an empty data array is an error.
func first(doc map[string]any) (entry, error) {
	d, ok := doc["data"]
	if !ok {
		return entry{}, nil
	}
	list, _ := d.([]any)
	if len(list) == 0 {
		return entry{}, ErrEmptyPayload
	}
	return entryOf(list[0]), nil
}

func entries(doc map[string]any) []entry {
	list, _ := doc["data"].([]any)
	out := make([]entry, 0, len(list))
	for _, v := range list {
		out = append(out, entryOf(v))
	}
	return out
}

func annotateCommon(doc map[string]any) (model.Tree, error) {
	e, err := first(doc)
	if err != nil {
		return nil, eris.Wrap(err, "annotate: common")
	}

	broker := make(map[string]any, len(brokerKeys))
	for _, k := range brokerKeys {
		broker[k] = optionOr(e.options, k, "")
	}

	product := map[string]any{
		"normalized_product": optionOr(e.options, "normalized_product", []any{}),
	}
	for _, k := range productScalarKeys {
		product[k] = optionOr(e.options, k, "")
	}

	limits := map[string]any{
		"100_pct_limit":       optionOr(e.options, "100_pct_limit", map[string]any{}),
		"normalized_coverage": optionOr(e.options, "normalized_coverage", []any{}),
		"coverage":            optionOr(e.options, "coverage", []any{}),
		"coverage_details":    doc["additional_data"],
	}

	return model.Tree{
		"Firmographics":        scoreTree(e.facts, e.scores),
		"Broker_Details":       scoreTree(broker, e.scores),
		"Product_Details":      scoreTree(product, e.scores),
		"Limits_and_Coverages": scoreTree(limits, e.scores),
		"Legal_Entity_Type":    "",
	}, nil
}

// scoreTree scores every scalar leaf of a nested fact map. Scores are looked
// up by leaf key in the single flat scores map.
func scoreTree(section, scores map[string]any) model.Tree {
	out := make(model.Tree, len(section))
	for k, v := range section {
		switch x := v.(type) {
		case map[string]any:
			out[k] = scoreTree(x, scores)
		case []any:
			if prefix, ok := codeLists[k]; ok {
				out[k] = projectCodes(x, prefix)
			} else {
				out[k] = model.Lift(x)
			}
		default:
			out[k] = model.NewScoredField(x, scoreOf(scores, k))
		}
	}
	return out
}

// projectCodes maps [{code, desc}] to [{<prefix>_code, <prefix>_desc}].
func projectCodes(items []any, prefix string) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		m := asObject(it)
		out = append(out, model.Tree{
			prefix + "_code": model.Lift(optionOr(m, "code", "")),
			prefix + "_desc": model.Lift(optionOr(m, "desc", "")),
		})
	}
	return out
}

func annotateProperty(doc map[string]any) []any {
	out := []any{}
	for _, e := range entries(doc) {
		if !identified(e.facts) {
			continue
		}

		standard := make(model.Tree, len(e.facts))
		for k, v := range e.facts {
			standard[k] = e.field(k, v)
		}

		limits := model.Tree{}
		if cl, ok := e.options["100_pct_coverage_limits"]; ok {
			score := scoreOf(e.scores, "100_pct_coverage_limits")
			if children, isObj := cl.(map[string]any); isObj {
				sub := make(model.Tree, len(children))
				for k, v := range children {
					sub[k] = model.NewScoredField(model.Lift(v), score)
				}
				limits["100_pct_coverage_limits"] = sub
			} else {
				limits["100_pct_coverage_limits"] = model.NewScoredField(model.Lift(cl), score)
			}
		}
		if l, ok := e.options["100_pct_limit"]; ok {
			limits["100_pct_limit"] = e.field("100_pct_limit", l)
		}

		out = append(out, model.Tree{
			"standard_facts": standard,
			"limits":         limits,
			"building_details": model.Tree{
				"location_doc_id":           e.field("location_doc_id", optionOr(e.options, "location_doc_id", "")),
				"atc_occupancy_description": e.field("atc_occupancy_description", optionOr(e.options, "atc_occupancy_description", "")),
			},
		})
	}
	return out
}

func annotateAdvancedProperty(doc map[string]any) []any {
	out := []any{}
	for _, e := range entries(doc) {
		if !identified(e.facts) {
			continue
		}

		advanced := model.Tree{}
		for k, v := range e.facts {
			if !standardFactKeys[k] {
				advanced[k] = e.field(k, v)
			}
		}

		item := model.Tree{"advanced_facts": advanced}
		for _, g := range optionGroups {
			group := model.Tree{}
			for _, k := range g.keys {
				if v, ok := e.options[k]; ok {
					group[k] = e.field(k, v)
				}
			}
			item[g.name] = group
		}
		out = append(out, item)
	}
	return out
}

func annotateGeneralLiability(doc map[string]any) (model.Tree, error) {
	e, err := first(doc)
	if err != nil {
		return nil, eris.Wrap(err, "annotate: general liability")
	}

	facts := make(model.Tree, len(e.facts))
	for k, v := range e.facts {
		facts[k] = e.field(k, v)
	}
	options := make(model.Tree, len(e.options))
	for k, v := range e.options {
		options[k] = e.field(k, v)
	}
	return model.Tree{"gl_facts": facts, "gl_options": options}, nil
}

func annotateAuto(doc map[string]any) (model.Tree, error) {
	e, err := first(doc)
	if err != nil {
		return nil, eris.Wrap(err, "annotate: auto")
	}

	facts := make(model.Tree, len(e.facts))
	for k, v := range e.facts {
		switch v.(type) {
		case map[string]any, []any:
			facts[k] = e.field(k, v)
		default:
			facts[k] = model.NewScoredField(stringify(v), scoreOf(e.scores, k))
		}
	}
	return model.Tree{"Auto": model.Tree{"auto_facts": facts}}, nil
}

// identified reports whether a location entry carries a building number or
// an address.
func identified(facts map[string]any) bool {
	return !falsy(facts["building_number"]) || !falsy(facts["location_address"])
}

func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func scoreOf(scores map[string]any, key string) string {
	switch s := scores[key].(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return stringify(s)
	}
}

func optionOr(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
