// Package week normalizes calendar dates to week keys. A week key is the
// Monday (00:00 UTC) of the ISO week that contains the date.
package week

import (
	"fmt"
	"strings"
	"time"
)

// DatePattern is the wire format of dates and week keys.
const DatePattern = "2006-01-02"

// Key identifies a week by its Monday.
type Key struct {
	monday time.Time
}

// Normalize returns the key of the week containing t. The calendar date of t in
// its own location is used, so 23:30 on a Sunday in UTC-5 belongs to that Sunday's week.
func Normalize(t time.Time) Key {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return Key{monday: day.AddDate(0, 0, -offset)}
}

// Parse parses a YYYY-MM-DD date and normalizes it.
func Parse(s string) (Key, error) {
	t, err := ParseDate(s)
	if err != nil {
		return Key{}, err
	}
	return Normalize(t), nil
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DatePattern, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected %s", s, DatePattern)
	}
	return t, nil
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// FromTime rebuilds a key from a stored Monday; the value is normalized again
// so a non-Monday input cannot produce an invalid key.
func FromTime(t time.Time) Key {
	return Normalize(t.UTC())
}

// IsCurrent reports whether t falls in the same week as now.
func IsCurrent(t, now time.Time) bool {
	return Normalize(t) == Normalize(now)
}

// Time returns the Monday as UTC midnight.
func (k Key) Time() time.Time {
	return k.monday
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k.monday.IsZero()
}

// Next returns the following week.
func (k Key) Next() Key {
	return Key{monday: k.monday.AddDate(0, 0, 7)}
}

// Prev returns the preceding week.
func (k Key) Prev() Key {
	return Key{monday: k.monday.AddDate(0, 0, -7)}
}

// Before reports whether k is an earlier week than other.
func (k Key) Before(other Key) bool {
	return k.monday.Before(other.monday)
}

// Contains reports whether t falls inside the week.
func (k Key) Contains(t time.Time) bool {
	return Normalize(t) == k
}

func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	return k.monday.Format(DatePattern)
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
