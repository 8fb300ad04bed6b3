package geocoding

import (
	"strconv"
	"strings"
)

// Extensions maps an output key to a dotted path into the raw result,
// e.g. {"geohash": "annotations.geohash"}.
type Extensions map[string]string

// Normalize converts API records into Results. The output has the same
// length and order as raw.
func Normalize(raw []RawResult, ext Extensions) []Result {
	results := make([]Result, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		results[i] = normalizeOne(raw[i], ext)
	}
	return results
}

func normalizeOne(raw RawResult, ext Extensions) Result {
	result := Result{
		Name:   raw.Formatted,
		Center: raw.Geometry,
	}
	if raw.Bounds != nil {
		b := *raw.Bounds
		result.Bounds = &b
	}
	if len(ext) == 0 {
		return result
	}

	for key, path := range ext {
		value, ok := ResolvePath(raw.fields, path)
		if !ok {
			continue
		}
		if result.Extensions == nil {
			result.Extensions = make(map[string]any, len(ext))
		}
		result.Extensions[key] = value
	}
	return result
}

// ResolvePath descends into fields one dotted segment at a time. Numeric
// segments index into arrays. ok is false as soon as a segment is missing,
// null, or the current value cannot be descended into.
func ResolvePath(fields map[string]any, path string) (any, bool) {
	if fields == nil || path == "" {
		return nil, false
	}

	var cur any = fields
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok || v == nil {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) || node[idx] == nil {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
