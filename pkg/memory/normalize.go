package memory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// NormalizeValue rewrites v into plain JSON-serializable values.
// Decimals and json.Number become int64 when integral, float64
// otherwise; maps and slices are normalized recursively; anything the
// JSON encoder would reject is stringified.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return val
	case decimal.Decimal:
		return normalizeDecimal(val)
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		return normalizeDecimal(*val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	default:
		if _, err := json.Marshal(val); err == nil {
			return val
		}
		return fmt.Sprintf("%v", val)
	}
}

func normalizeDecimal(d decimal.Decimal) any {
	if d.IsInteger() {
		return d.IntPart()
	}
	f, _ := d.Float64()
	return f
}

// NormalizeMetadata normalizes every value of a metadata map.
func NormalizeMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = NormalizeValue(v)
	}
	return out
}
