package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Metadata is the free-form payload attached to an activity.
// Accessors never fail: a malformed value reads as absent.
type Metadata map[string]any

// Metadata keys understood by the engine.
const (
	MetaScore           = "score"
	MetaTimeBonus       = "time_bonus"
	MetaTimeBonusCamel  = "timeBonus"
	MetaMinutesSpent    = "minutes_spent"
	MetaDurationMinutes = "duration_minutes"
)

// Score returns the score percentage when present and numeric.
func (m Metadata) Score() (float64, bool) {
	if m == nil {
		return 0, false
	}
	return toFloat(m[MetaScore])
}

// ScorePtr returns the score as a nullable value.
func (m Metadata) ScorePtr() *float64 {
	if s, ok := m.Score(); ok {
		return &s
	}
	return nil
}

// TimeBonus reports whether the caller flagged a time bonus.
func (m Metadata) TimeBonus() bool {
	if m == nil {
		return false
	}
	if v, ok := m[MetaTimeBonus]; ok {
		return truthy(v)
	}
	return truthy(m[MetaTimeBonusCamel])
}

// MinutesSpent returns the whole minutes spent on the activity, if reported.
func (m Metadata) MinutesSpent() (int, bool) {
	if m == nil {
		return 0, false
	}
	for _, key := range []string{MetaMinutesSpent, MetaDurationMinutes} {
		if f, ok := toFloat(m[key]); ok && f >= 0 {
			return int(math.Round(f)), true
		}
	}
	return 0, false
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MarshalJSON never fails. A value JSON cannot represent (NaN, ±Inf, a
// channel, a func) is stored as its fmt.Sprint text, which the accessors
// then read as absent or malformed.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	if b, err := json.Marshal(map[string]any(m)); err == nil {
		return b, nil
	}
	safe := make(map[string]any, len(m))
	for k, v := range m {
		if _, err := json.Marshal(v); err != nil {
			safe[k] = fmt.Sprint(v)
			continue
		}
		safe[k] = v
	}
	return json.Marshal(safe)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "y":
			return true
		}
		return false
	default:
		f, ok := toFloat(v)
		return ok && f != 0
	}
}
