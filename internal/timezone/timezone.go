// Package timezone projects UTC instants onto user-local calendar days.
// Every day, week and month boundary in the engine goes through a Normalizer.
package timezone

import (
	"fmt"
	"time"
)

// DateLayout is the YYYY-MM-DD form used for local dates everywhere.
const DateLayout = "2006-01-02"

// DefaultName is the product default zone.
const DefaultName = "Asia/Seoul"

// Normalizer converts between UTC instants and local dates in one zone.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Normalizer for loc using the wall clock.
func New(loc *time.Location) *Normalizer {
	return &Normalizer{loc: loc, now: time.Now}
}

// NewWithClock returns a Normalizer whose Now is driven by clock.
func NewWithClock(loc *time.Location, clock func() time.Time) *Normalizer {
	return &Normalizer{loc: loc, now: clock}
}

// Load resolves an IANA zone name. When the name cannot be resolved (no
// tzdata on the host) it falls back to a fixed +09:00 zone for the default
// name and returns the error otherwise.
func Load(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultName
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultName {
		return FixedKST(), nil
	}
	return nil, fmt.Errorf("load timezone %q: %w", name, err)
}

// FixedKST is the DST-free +09:00 zone.
func FixedKST() *time.Location {
	return time.FixedZone("KST", 9*60*60)
}

func (n *Normalizer) Location() *time.Location { return n.loc }

// Now returns the current instant in UTC.
func (n *Normalizer) Now() time.Time { return n.now().UTC() }

// In returns t in the local zone.
func (n *Normalizer) In(t time.Time) time.Time { return t.In(n.loc) }

// LocalDate returns the local calendar date of t as YYYY-MM-DD.
func (n *Normalizer) LocalDate(t time.Time) string {
	return t.In(n.loc).Format(DateLayout)
}

// Today returns the local date of Now.
func (n *Normalizer) Today() string {
	return n.LocalDate(n.Now())
}

// DayBounds returns the UTC half-open interval [start, end) covering the
// local date.
func (n *Normalizer) DayBounds(date string) (start, end time.Time, err error) {
	d, err := n.ParseDate(date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return d.UTC(), d.AddDate(0, 0, 1).UTC(), nil
}

// ParseDate returns local midnight of a YYYY-MM-DD date.
func (n *Normalizer) ParseDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, date, n.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid local date %q: %w", date, err)
	}
	return d, nil
}

// StartOfDay returns local midnight of the day containing t, in UTC.
func (n *Normalizer) StartOfDay(t time.Time) time.Time {
	l := t.In(n.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, n.loc).UTC()
}

// WeekBounds returns [Sunday 00:00, next Sunday 00:00) around t.
func (n *Normalizer) WeekBounds(t time.Time) (start, end time.Time) {
	l := t.In(n.loc)
	s := time.Date(l.Year(), l.Month(), l.Day()-int(l.Weekday()), 0, 0, 0, 0, n.loc)
	return s.UTC(), s.AddDate(0, 0, 7).UTC()
}

// MonthBounds returns [1st 00:00, next 1st 00:00) around t and the number
// of days in that month.
func (n *Normalizer) MonthBounds(t time.Time) (start, end time.Time, days int) {
	l := t.In(n.loc)
	s := time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, n.loc)
	e := s.AddDate(0, 1, 0)
	return s.UTC(), e.UTC(), e.AddDate(0, 0, -1).Day()
}

// Weekday returns the local weekday of t.
func (n *Normalizer) Weekday(t time.Time) time.Weekday {
	return t.In(n.loc).Weekday()
}

// Hour returns the local hour of t.
func (n *Normalizer) Hour(t time.Time) int {
	return t.In(n.loc).Hour()
}

// AddDays shifts a local date by days calendar days.
func (n *Normalizer) AddDays(date string, days int) (string, error) {
	d, err := n.ParseDate(date)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, days).Format(DateLayout), nil
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b string) (int, error) {
	da, err := time.Parse(DateLayout, a)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", a, err)
	}
	db, err := time.Parse(DateLayout, b)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", b, err)
	}
	return int(db.Sub(da).Hours() / 24), nil
}
