package strategy

import (
	"encoding/json"
	"math"
	"strconv"
)

// Params is a bot's raw strategy configuration, as decoded from JSON or YAML.
type Params map[string]any

// Float returns the numeric value of key, or def when absent or not numeric.
func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the integer value of key, truncating fractional numbers.
func (p Params) Int(key string, def int) int {
	f := p.Float(key, math.NaN())
	if math.IsNaN(f) {
		return def
	}
	return int(f)
}

// String returns the string value of key, or def.
func (p Params) String(key, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}
