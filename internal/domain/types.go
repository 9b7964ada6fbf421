package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Metadata is the open key/value bag stored alongside an execution.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// Merge returns a copy of m with every key of patch applied on top.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// String returns the trimmed string value for key, or "" when absent or not a string.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Number reads a numeric value that may have been stored as a JSON number
// or as a numeric string.
func (m Metadata) Number(key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

