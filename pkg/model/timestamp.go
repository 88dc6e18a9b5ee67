package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// WireFormat is the canonical timestamp layout on the MQTT and HTTP
// boundaries: ISO-8601 without a zone designator, always UTC.
const WireFormat = "2006-01-02T15:04:05"

// wireFormats are accepted on input, tried in order. Zoned timestamps are
// normalized to UTC; zoneless ones are interpreted as UTC.
var wireFormats = []string{
	WireFormat,
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// Time is a wall-clock instant carried on the wire in ISO-8601 form.
// The zero value marshals as the zero instant; callers decide whether
// that is meaningful.
type Time struct {
	time.Time
}

// TimeOf wraps a stdlib time, normalized to UTC.
func TimeOf(t time.Time) Time {
	return Time{Time: t.UTC()}
}

// ParseTime parses an input timestamp in any accepted wire layout.
func ParseTime(s string) (Time, error) {
	for _, layout := range wireFormats {
		if layout == time.RFC3339Nano {
			if t, err := time.Parse(layout, s); err == nil {
				return TimeOf(t), nil
			}
			continue
		}
		// Zoneless layouts are UTC by contract.
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Time{Time: t}, nil
		}
	}
	return Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.UTC().Format(WireFormat) + `"`), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("timestamp is not a JSON string: %s", string(b))
	}
	parsed, err := ParseTime(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements driver.Valuer so the type passes through sqlx unchanged.
func (t Time) Value() (driver.Value, error) {
	return t.Time.UTC(), nil
}

// Scan implements sql.Scanner.
func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		parsed, err := ParseTime(string(v))
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case string:
		parsed, err := ParseTime(v)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case nil:
		*t = Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp scan source %T", src)
	}
}
