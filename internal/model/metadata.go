package model

import "encoding/json"

// Reserved metadata keys. Anything else is free-form and carried verbatim.
const (
	KeyTopic      = "topic"
	KeyTopics     = "topics"
	KeyCategory   = "category"
	KeyEntities   = "entities"
	KeyImportance = "importance"
	KeySentiment  = "sentiment"
	KeyRole       = "role"
	KeyKind       = "kind"
	KeySourceIDs  = "source_ids"
	KeyTrimmed    = "trimmed"
	KeySummarized = "summarized"
)

// Values for the reserved "kind" key.
const (
	KindRecord        = "record"
	KindThreadSummary = "thread_summary"
)

// Importance enum values. Numeric importance in [0,1] is also accepted.
const (
	ImportanceLow    = "low"
	ImportanceMedium = "medium"
	ImportanceHigh   = "high"
)

const (
	importanceLowNorm    = 0.25
	importanceMediumNorm = 0.5
	importanceHighNorm   = 0.85
	importanceDefault    = 0.5
)

// Metadata is the semi-structured per-record key/value mapping. Values are
// JSON-ish: strings, numbers, booleans, arrays, and nested objects.
type Metadata map[string]interface{}

// Clone returns a deep copy. Mutating the copy never affects the original.
func (m Metadata) Clone() Metadata {
	out := Metadata{}
	if len(m) == 0 {
		return out
	}
	data, err := json.Marshal(m)
	if err != nil {
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

// Topic returns the reserved "topic" value, or "".
func (m Metadata) Topic() string { return m.str(KeyTopic) }

// Category returns the reserved "category" value, or "".
func (m Metadata) Category() string { return m.str(KeyCategory) }

// Role returns the reserved "role" value, or "".
func (m Metadata) Role() string { return m.str(KeyRole) }

// Kind returns the reserved "kind" value, or "".
func (m Metadata) Kind() string { return m.str(KeyKind) }

// Entities returns the reserved "entities" sequence. Non-string elements
// are skipped.
func (m Metadata) Entities() []string { return m.strs(KeyEntities) }

// Topics returns the aggregated "topics" sequence written on thread summaries.
func (m Metadata) Topics() []string { return m.strs(KeyTopics) }

// Trimmed reports whether the record content was rewritten by the trimmer.
func (m Metadata) Trimmed() bool { return m.boolean(KeyTrimmed) }

// Summarized reports whether the record content was rewritten by the
// content summarizer. This is provenance only; the record-level summarized
// flag (set when a record is folded into a thread summary) lives on
// MemoryRecord.Summarized.
func (m Metadata) Summarized() bool { return m.boolean(KeySummarized) }

// SourceIDs returns the record ids a thread summary replaces.
func (m Metadata) SourceIDs() []int64 {
	raw, ok := m[KeySourceIDs]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []int64:
		return append([]int64(nil), v...)
	case []interface{}:
		out := make([]int64, 0, len(v))
		for _, e := range v {
			if f, ok := asFloat(e); ok {
				out = append(out, int64(f))
			}
		}
		return out
	default:
		return nil
	}
}

// ImportanceNorm maps the reserved "importance" value into [0,1].
// Enum values map low→0.25, medium→0.5, high→0.85; numbers are clamped;
// absent or unrecognized values yield 0.5.
func (m Metadata) ImportanceNorm() float64 {
	raw, ok := m[KeyImportance]
	if !ok {
		return importanceDefault
	}
	switch v := raw.(type) {
	case string:
		switch v {
		case ImportanceLow:
			return importanceLowNorm
		case ImportanceMedium:
			return importanceMediumNorm
		case ImportanceHigh:
			return importanceHighNorm
		default:
			return importanceDefault
		}
	default:
		if f, ok := asFloat(raw); ok {
			return clamp01(f)
		}
		return importanceDefault
	}
}

// HighImportance reports whether the record is flagged high-importance:
// the "high" enum value, or a numeric importance at or above its mapping.
func (m Metadata) HighImportance() bool {
	raw, ok := m[KeyImportance]
	if !ok {
		return false
	}
	if s, ok := raw.(string); ok {
		return s == ImportanceHigh
	}
	if f, ok := asFloat(raw); ok {
		return clamp01(f) >= importanceHighNorm
	}
	return false
}

// Contains evaluates the metadata containment predicate shared by both
// store dialects. For each (key, value) in filter, the stored value at key
// must equal value when both are scalars, contain every element of value
// when both are lists, contain value itself when the stored value is a
// list and value a scalar, and contain recursively when both are objects.
// Any other type pairing does not match. Scalar-in-list matching applies
// only at the top of each key's value, mirroring the server engine's
// native JSON containment operator so both dialects select identical rows.
func (m Metadata) Contains(filter map[string]interface{}) bool {
	if len(filter) == 0 {
		return true
	}
	stored, ok := canonicalize(map[string]interface{}(m)).(map[string]interface{})
	if !ok {
		return false
	}
	want, ok := canonicalize(filter).(map[string]interface{})
	if !ok {
		return false
	}
	for key, fv := range want {
		sv, ok := stored[key]
		if !ok {
			return false
		}
		if !contains(sv, fv, true) {
			return false
		}
	}
	return true
}

func contains(stored, filter interface{}, top bool) bool {
	switch fv := filter.(type) {
	case map[string]interface{}:
		sv, ok := stored.(map[string]interface{})
		if !ok {
			return false
		}
		for k, nested := range fv {
			got, ok := sv[k]
			if !ok {
				return false
			}
			if !contains(got, nested, false) {
				return false
			}
		}
		return true
	case []interface{}:
		sv, ok := stored.([]interface{})
		if !ok {
			return false
		}
		for _, want := range fv {
			found := false
			for _, got := range sv {
				if contains(got, want, false) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		if list, ok := stored.([]interface{}); ok && top {
			for _, got := range list {
				if scalarEqual(got, filter) {
					return true
				}
			}
			return false
		}
		return scalarEqual(stored, filter)
	}
}

func scalarEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

// canonicalize round-trips a value through JSON so both sides of the
// containment check use the same shapes (float64 numbers, []interface{}
// lists, map[string]interface{} objects) regardless of how callers built
// their filters.
func canonicalize(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func (m Metadata) str(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func (m Metadata) boolean(key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func (m Metadata) strs(key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
