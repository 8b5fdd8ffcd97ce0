// Package normalize reconciles backend responses into canonical entities.
//
// The backend returns the same logical entity (token, exam, result, or a
// collection) in a different JSON wrapping almost every call: bare, under
// "data", doubly nested, or hidden inside a user object. Rather than chase
// each shape in control flow, each target gets an ordered list of extraction
// strategies, tried in priority order. Specific nested paths run before
// structural inference because structural inference is ambiguous (a result
// also has an "id") and must stay the last resort.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound signals a normalization miss: none of the strategies located
// the target entity. Callers must treat this as an explicit failure, distinct
// from "found but empty"; it must never be papered over with a zero value.
var ErrNotFound = errors.New("normalize: entity not found in payload")

// Target names the entity shape to extract.
type Target string

const (
	TargetToken   Target = "token"
	TargetExam    Target = "exam"
	TargetResult  Target = "result"
	TargetExams   Target = "exams"
	TargetResults Target = "results"
)

// strategy is one pure extraction attempt: raw decoded JSON in, located
// entity out, with ok=false meaning "this shape does not apply".
type strategy struct {
	name string
	fn   func(payload interface{}) (interface{}, bool)
}

// Extract runs the target's strategies in priority order against a decoded
// JSON payload and returns the first hit, or ErrNotFound. It never panics on
// any input shape.
func Extract(payload interface{}, target Target) (interface{}, error) {
	strategies, ok := strategiesFor[target]
	if !ok {
		return nil, fmt.Errorf("normalize: unknown target %q", target)
	}

	for _, s := range strategies {
		if v, hit := s.fn(payload); hit {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

// ExtractRaw decodes raw JSON bytes and extracts the target from the result.
// Undecodable bytes are a miss, not an error class of their own.
func ExtractRaw(raw []byte, target Target) (interface{}, error) {
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrNotFound
	}
	return Extract(payload, target)
}

// ─── Strategy tables ────────────────────────────────────────────────

var strategiesFor = map[Target][]strategy{
	TargetToken: {
		{"bare_string", bareString},
		{"path_probe", pathProbe("token",
			[]string{"token"},
			[]string{"data", "token"},
			[]string{"data", "data", "token"},
			[]string{"user", "token"},
			[]string{"data", "user", "token"},
			[]string{"access_token"},
			[]string{"accessToken"},
		)},
	},
	TargetExam: {
		{"path_probe", pathProbe("exam",
			[]string{"exam"},
			[]string{"data", "exam"},
			[]string{"data", "data", "exam"},
		)},
		{"structural", structural("id", "title")},
	},
	TargetResult: {
		{"path_probe", pathProbe("result",
			[]string{"result"},
			[]string{"data", "result"},
			[]string{"data", "data", "result"},
		)},
		{"structural", structural("id", "score")},
	},
	TargetExams: {
		{"path_probe", pathProbe("exams",
			[]string{"exams"},
			[]string{"data", "exams"},
			[]string{"data", "data", "exams"},
		)},
		{"bare_array", bareArray},
	},
	TargetResults: {
		{"path_probe", pathProbe("results",
			[]string{"results"},
			[]string{"data", "results"},
			[]string{"data", "data", "results"},
		)},
		{"bare_array", bareArray},
	},
}

// ─── Strategy implementations ───────────────────────────────────────

// bareString matches a payload that is itself a non-empty JSON string.
// Only tokens arrive this way.
func bareString(payload interface{}) (interface{}, bool) {
	s, ok := payload.(string)
	if !ok || s == "" {
		return nil, false
	}
	return s, true
}

// pathProbe checks a fixed list of nested paths in order and returns the
// first non-nil value found under any of them.
func pathProbe(_ string, paths ...[]string) func(interface{}) (interface{}, bool) {
	return func(payload interface{}) (interface{}, bool) {
		for _, path := range paths {
			if v, ok := dig(payload, path); ok {
				return v, true
			}
		}
		return nil, false
	}
}

// dig walks a path of object keys into the payload. Any non-object step or
// missing key ends the walk.
func dig(payload interface{}, path []string) (interface{}, bool) {
	cur := payload
	for _, key := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// structural matches when the payload itself already looks like the target
// entity, identified by the presence of the given keys.
func structural(keys ...string) func(interface{}) (interface{}, bool) {
	return func(payload interface{}) (interface{}, bool) {
		obj, ok := payload.(map[string]interface{})
		if !ok {
			return nil, false
		}
		for _, key := range keys {
			if v, present := obj[key]; !present || v == nil {
				return nil, false
			}
		}
		return obj, true
	}
}

// bareArray accepts a collection delivered as a naked array, either at the
// top level or under "data".
func bareArray(payload interface{}) (interface{}, bool) {
	if arr, ok := payload.([]interface{}); ok {
		return arr, true
	}
	if obj, ok := payload.(map[string]interface{}); ok {
		if arr, ok := obj["data"].([]interface{}); ok {
			return arr, true
		}
	}
	return nil, false
}
