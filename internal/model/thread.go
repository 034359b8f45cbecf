package model

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// maxThreadID bounds generated conversation thread ids.
const maxThreadID = 100000

// NewThreadID generates a conversation thread id in [1, 100000].
func NewThreadID() int {
	return rand.IntN(maxThreadID) + 1
}

// ResolveThreadID coerces a caller-supplied thread id to an integer. Missing,
// empty, or non-integer values yield a freshly generated id and
// generated=true.
func ResolveThreadID(v any) (id int, generated bool) {
	if n, ok := coerceThreadID(v); ok {
		return n, false
	}
	return NewThreadID(), true
}

func coerceThreadID(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) >= math.MaxInt64 {
			return 0, false
		}
		return int(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil {
			return coerceThreadID(f)
		}
		return 0, false
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
