// Package summary interprets time-tracking summaries and derives coded seconds from them.
package summary

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Seconds is a duration total as reported by the time-tracking service.
// Values that are absent, null, negative or not numeric decode to zero.
type Seconds int64

// UnmarshalJSON accepts numbers and numeric strings and maps anything else to zero.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	*s = 0

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil
	}

	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	*s = Seconds(f)
	return nil
}

// Item is one labelled duration in a summary.
type Item struct {
	Key   string  `json:"key"`
	Total Seconds `json:"total"`
}

// Payload is the part of a time-tracking summary the engine relies on.
// The zero value represents "no activity".
type Payload struct {
	Categories []Item `json:"categories"`
	Projects   []Item `json:"projects"`
}

// Parse decodes a raw summary. Missing, null or malformed payloads yield the zero Payload.
func Parse(raw json.RawMessage) Payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Payload{}
	}

	var p Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return Payload{}
	}
	return p
}

// Valid reports whether raw is a JSON object, the only shape the service returns.
func Valid(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
