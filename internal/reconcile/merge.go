// Package reconcile folds user edits into a scored submission tree.
package reconcile

import (
	"sort"

	"golang.org/x/text/cases"

	"github.com/sells-group/intake-cli/internal/model"
)

var fold = cases.Fold()

// index maps case-folded update keys to their values. When two update keys
// fold to the same form, the lexicographically greatest key wins.
func index(updates map[string]any) map[string]any {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	idx := make(map[string]any, len(keys))
	for _, k := range keys {
		idx[fold.String(k)] = updates[k]
	}
	return idx
}

// DeepMerge applies updates to original in place and returns it. Every key of
// the tree is visited depth-first; a key whose case-folded form matches an
// update has its scored field value replaced (and score raised to
// model.HighConfidence), or is replaced outright when it is not a scored
// field. Nested trees, including tree values held by scored fields, are then
// descended whether or not a replacement happened, so one update applies at
// every depth where its key occurs. Inside a node that was just replaced the
// key that replaced it is no longer matched, since the new value would match
// its own key without end. Lists are not walked.
func DeepMerge(original model.Tree, updates map[string]any) model.Tree {
	if len(updates) == 0 || original == nil {
		return original
	}
	walk(original, index(updates))
	return original
}

// Merge is DeepMerge on a deep copy, leaving original untouched.
func Merge(original model.Tree, updates map[string]any) model.Tree {
	return DeepMerge(original.Clone(), updates)
}

func walk(t model.Tree, idx map[string]any) {
	for k, v := range t {
		key := fold.String(k)
		next := idx
		if u, ok := idx[key]; ok {
			if f, isField := v.(*model.ScoredField); isField {
				f.Edit(model.Lift(u))
			} else {
				t[k] = model.Lift(u)
			}
			next = without(idx, key)
		}

		switch n := t[k].(type) {
		case model.Tree:
			walk(n, next)
		case *model.ScoredField:
			if sub, ok := n.Value.(model.Tree); ok {
				walk(sub, next)
			}
		}
	}
}

func without(idx map[string]any, key string) map[string]any {
	out := make(map[string]any, len(idx))
	for k, v := range idx {
		if k != key {
			out[k] = v
		}
	}
	return out
}
