package models

import (
	"github.com/chogo-ml/chogo/pkg/errors"
)

// hyperReader decodes persisted hyper-parameter maps, tolerating the
// numeric widening a JSON round trip introduces (ints become float64).
// The first type mismatch is sticky and surfaces through err.
type hyperReader struct {
	params map[string]interface{}
	err    error
}

func (h *hyperReader) fail(key string) {
	if h.err == nil {
		h.err = errors.NewValueError("ApplyHyperparameters", "unexpected type for "+key)
	}
}

func (h *hyperReader) str(key, fallback string) string {
	v, ok := h.params[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		h.fail(key)
		return fallback
	}
	return s
}

func (h *hyperReader) float(key string, fallback float64) float64 {
	v, ok := h.params[key]
	if !ok {
		return fallback
	}
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	default:
		h.fail(key)
		return fallback
	}
}

func (h *hyperReader) int(key string, fallback int) int {
	v, ok := h.params[key]
	if !ok {
		return fallback
	}
	switch x := v.(type) {
	case int:
		return x
	case float64:
		return int(x)
	default:
		h.fail(key)
		return fallback
	}
}

func (h *hyperReader) boolean(key string, fallback bool) bool {
	v, ok := h.params[key]
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		h.fail(key)
		return fallback
	}
	return b
}

func (h *hyperReader) intSlice(key string, fallback []int) []int {
	v, ok := h.params[key]
	if !ok {
		return fallback
	}
	switch xs := v.(type) {
	case nil:
		return fallback
	case []int:
		return append([]int{}, xs...)
	case []interface{}:
		out := make([]int, 0, len(xs))
		for _, x := range xs {
			switch n := x.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			default:
				h.fail(key)
				return fallback
			}
		}
		return out
	default:
		h.fail(key)
		return fallback
	}
}
