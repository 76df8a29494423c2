package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// isoNoZone is the layout Python's datetime.isoformat produces for naive UTC
// times.
const isoNoZone = "2006-01-02T15:04:05.999999999"

// Timestamp accepts RFC3339 strings, zone-less ISO strings (treated as UTC)
// and epoch milliseconds. It always encodes as RFC3339 in UTC.
type Timestamp struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

// MarshalJSON encodes the zero value as null.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		ts.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			ts.Time = time.Time{}
			return nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ts.Time = t
			return nil
		}
		t, err := time.ParseInLocation(isoNoZone, s, time.UTC)
		if err != nil {
			return fmt.Errorf("wire: timestamp %q: %w", s, err)
		}
		ts.Time = t
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("wire: timestamp %s: %w", data, err)
	}
	ts.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}
