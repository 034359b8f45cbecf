package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

// Request is one dispatch of a case to every route.
type Request struct {
	CaseID     string
	Submission model.Tree
	// Edits is the rerun edit set; nil on an initial dispatch.
	Edits map[string]any
	// ThreadID is the caller-supplied conversation id, resolved with
	// model.ResolveThreadID.
	ThreadID any
}

// Rerun reports whether the request carries an edit set.
func (r Request) Rerun() bool {
	return r.Edits != nil
}

// BuildMessage renders the message a route receives for req.
func BuildMessage(route Route, req Request) (string, error) {
	var payload string
	switch route.Shaping {
	case ShapeReference:
		payload = "case_id : " + req.CaseID
		if req.Rerun() {
			edits, err := json.Marshal(req.Edits)
			if err != nil {
				return "", eris.Wrap(err, "dispatch: encode edits")
			}
			payload += ",modified_data : " + string(edits)
		}
	default:
		data, err := json.Marshal(Project(route, req.Submission))
		if err != nil {
			return "", eris.Wrapf(err, "dispatch: encode submission for %s", route.Name)
		}
		payload = string(data)
	}
	return strings.TrimSpace(payload + " " + route.PromptSuffix), nil
}

// Project returns the part of the submission a route receives. Reference
// routes receive none.
func Project(route Route, sub model.Tree) model.Tree {
	switch route.Shaping {
	case ShapeReference:
		return nil
	case ShapeWithoutSection:
		return sub.Without(route.Section)
	case ShapeSection:
		return sub.Only(route.Section)
	default:
		if sub == nil {
			return model.Tree{}
		}
		return sub
	}
}
