package skip

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// TimestampLayout is the on-disk timestamp format: local wall time without offset.
const TimestampLayout = "2006-01-02T15:04:05"

// Timestamp is a second-precision local time serialized with TimestampLayout.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds in the local zone.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.In(time.Local).Truncate(time.Second)}
}

// ParseTimestamp parses a TimestampLayout string as local time.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return Timestamp{}, errors.Wrapf(err, "invalid timestamp %q", s)
	}
	return Timestamp{Time: t}, nil
}

// String returns the timestamp in TimestampLayout.
func (t Timestamp) String() string {
	return t.Time.In(time.Local).Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "timestamp must be a string")
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
