package restclient

import (
	"strconv"
	"strings"
)

// SafeInt coerces a dynamically-typed broker field into an int64, the way
// original_source/python/kiwoom/api_v1.py's _safe_int does: it strips
// thousands separators and leading '+', keeps a leading '-', and returns 0
// for nil/empty/unparseable input rather than erroring.
func SafeInt(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(t, ",", ""), "+", ""))
		if s == "" {
			return 0
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// SafeFloat is the float64 analogue, used for rate/ratio fields the broker
// sometimes carries as strings.
func SafeFloat(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case int64:
		return float64(t)
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// FirstNonEmpty returns the first non-empty/non-zero value among keys in m,
// the pattern api_v1.py repeats for fields the broker renames between
// endpoint versions (e.g. mny_ord_able_amt / ord_psbl_amt / entr).
func FirstNonEmpty(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil && v != "" {
			return v
		}
	}
	return nil
}
