package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PatchOp is one RFC 6902 operation
type PatchOp struct {
	Op    string      `json:"op"` // add, remove, replace
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Diff produces an RFC 6902 patch transforming prev into next. The
// walk emits replace for changed leaves, add for new keys, remove for
// dropped ones; arrays that differ are replaced wholesale.
func Diff(prev, next map[string]interface{}) []PatchOp {
	var ops []PatchOp
	diffObjects("", prev, next, &ops)
	return ops
}

func diffObjects(prefix string, prev, next map[string]interface{}, ops *[]PatchOp) {
	keys := make(map[string]struct{}, len(prev)+len(next))
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		path := prefix + "/" + escapePointer(k)
		prevVal, inPrev := prev[k]
		nextVal, inNext := next[k]

		switch {
		case !inPrev:
			*ops = append(*ops, PatchOp{Op: "add", Path: path, Value: nextVal})
		case !inNext:
			*ops = append(*ops, PatchOp{Op: "remove", Path: path})
		default:
			prevObj, prevIsObj := prevVal.(map[string]interface{})
			nextObj, nextIsObj := nextVal.(map[string]interface{})
			if prevIsObj && nextIsObj {
				diffObjects(path, prevObj, nextObj, ops)
				continue
			}
			if !jsonEqual(prevVal, nextVal) {
				*ops = append(*ops, PatchOp{Op: "replace", Path: path, Value: nextVal})
			}
		}
	}
}

// Apply applies a patch to a body, returning the patched copy. Used to
// verify produced diffs round-trip.
func Apply(body map[string]interface{}, patch []PatchOp) (map[string]interface{}, error) {
	out := deepCopy(body).(map[string]interface{})
	for _, op := range patch {
		segments := splitPointer(op.Path)
		if len(segments) == 0 {
			return nil, fmt.Errorf("patch op %s has an empty path", op.Op)
		}
		parent, err := resolveParent(out, segments)
		if err != nil {
			return nil, fmt.Errorf("patch op %s %s: %w", op.Op, op.Path, err)
		}
		leaf := segments[len(segments)-1]

		switch op.Op {
		case "add", "replace":
			parent[leaf] = deepCopy(op.Value)
		case "remove":
			if _, ok := parent[leaf]; !ok {
				return nil, fmt.Errorf("patch removes missing key %s", op.Path)
			}
			delete(parent, leaf)
		default:
			return nil, fmt.Errorf("unsupported patch op %q", op.Op)
		}
	}
	return out, nil
}

func resolveParent(root map[string]interface{}, segments []string) (map[string]interface{}, error) {
	current := root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := current[seg]
		if !ok {
			// add may create intermediate objects
			next := make(map[string]interface{})
			current[seg] = next
			current = next
			continue
		}
		obj, ok := child.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("segment %q is not an object", seg)
		}
		current = obj
	}
	return current, nil
}

func jsonEqual(a, b interface{}) bool {
	ra, err := json.Marshal(a)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ra) == string(rb)
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// escapePointer applies RFC 6901 token escaping
func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func unescapePointer(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

func splitPointer(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		parts[i] = unescapePointer(p)
	}
	return parts
}
