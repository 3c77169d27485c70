package allocation

import (
	"fmt"
	"time"
)

// Period is an inclusive range of calendar days
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod builds a period from two dates; time of day is discarded
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: dateOf(start), End: dateOf(end)}
	if p.End.Before(p.Start) {
		return Period{}, fmt.Errorf("%w: %s > %s", ErrInvalidPeriod, p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
	}
	return p, nil
}

// YearPeriod returns Jan 1 to Dec 31 of the given year
func YearPeriod(year int) Period {
	return Period{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Days returns the inclusive number of days in the period
func (p Period) Days() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return civilDay(p.End) - civilDay(p.Start) + 1
}

// MaxDays is the longest billing period accepted for a statement
const MaxDays = 366

// civilDay numbers proleptic Gregorian dates consecutively (1970-01-01 is 0).
// time.Duration overflows for spans beyond ~292 years, so counting goes
// through calendar arithmetic instead.
func civilDay(t time.Time) int {
	y, m, d := t.Date()
	year := y
	if m <= time.February {
		year--
	}
	era := year / 400
	if year < 0 && year%400 != 0 {
		era--
	}
	yoe := year - era*400
	mp := (int(m) + 9) % 12
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// Contains reports whether the date lies within the period
func (p Period) Contains(t time.Time) bool {
	d := dateOf(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Overlap intersects the period with a contract running from start to end.
// A nil end means the contract is open-ended.
func (p Period) Overlap(start time.Time, end *time.Time) (Period, bool) {
	s := dateOf(start)
	if s.Before(p.Start) {
		s = p.Start
	}
	e := p.End
	if end != nil {
		if ce := dateOf(*end); ce.Before(e) {
			e = ce
		}
	}
	if e.Before(s) {
		return Period{}, false
	}
	return Period{Start: s, End: e}, true
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
