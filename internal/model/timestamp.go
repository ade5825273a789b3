package model

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayout is the fixed wire pattern for event timestamps,
// millisecond precision without a zone designator.
const timestampLayout = "2006-01-02T15:04:05.000"

// Timestamp marshals as the fixed textual pattern used by every persisted
// document. The zero value marshals as null so producers may omit it.
type Timestamp struct {
	time.Time
}

// Now returns the current instant as a Timestamp, in UTC.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// At wraps an instant as a Timestamp.
func At(t time.Time) Timestamp {
	return Timestamp{t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		// tolerate missing milliseconds from hand-written producers
		parsed, err = time.Parse("2006-01-02T15:04:05", s)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed
	return nil
}
