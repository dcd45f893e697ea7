package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
)

// Spec is a parsed schedule expression. Calendar specs (cron, HH:MM) match
// wall-clock minutes; interval specs fire when a duration has elapsed.
type Spec struct {
	expr string

	minute, hour, dom, month, dow uint64
	domAny, dowAny                bool

	every     time.Duration
	timeOfDay bool
}

type field struct {
	name     string
	min, max int
}

var (
	minuteField = field{"minute", 0, 59}
	hourField   = field{"hour", 0, 23}
	domField    = field{"day-of-month", 1, 31}
	monthField  = field{"month", 1, 12}
	dowField    = field{"day-of-week", 0, 7}
)

var macros = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// MinInterval is the shortest accepted @every duration.
const MinInterval = time.Second

// Parse accepts:
//
//	"m h dom mon dow"   five-field cron; each field "*", a number, a range
//	                    "a-b", a list "a,b" and an optional step "/n"
//	"HH:MM"             each side "*" or a number
//	"@every <duration>" Go duration, at least one second
//	"@hourly", "@daily", "@weekly", "@monthly", "@yearly"
func Parse(expr string) (*Spec, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, specError(expr, "empty schedule")
	}

	if d, ok := strings.CutPrefix(s, "@every "); ok {
		every, err := time.ParseDuration(strings.TrimSpace(d))
		if err != nil {
			return nil, specError(expr, err.Error())
		}
		if every < MinInterval {
			return nil, specError(expr, fmt.Sprintf("interval must be at least %s", MinInterval))
		}
		return &Spec{expr: s, every: every}, nil
	}
	if m, ok := macros[strings.ToLower(s)]; ok {
		spec, err := parseCron(m)
		if err != nil {
			return nil, err
		}
		spec.expr = s
		return spec, nil
	}
	if strings.HasPrefix(s, "@") {
		return nil, specError(expr, "unknown descriptor")
	}
	if h, m, ok := strings.Cut(s, ":"); ok && !strings.ContainsAny(s, " \t") {
		spec, err := parseCron(m + " " + h + " * * *")
		if err != nil {
			return nil, specError(expr, "want HH:MM with each side * or a number")
		}
		spec.expr = s
		spec.timeOfDay = true
		return spec, nil
	}

	spec, err := parseCron(s)
	if err != nil {
		return nil, err
	}
	spec.expr = s
	return spec, nil
}

func parseCron(s string) (*Spec, error) {
	parts := strings.Fields(s)
	if len(parts) != 5 {
		return nil, specError(s, fmt.Sprintf("want 5 cron fields, got %d", len(parts)))
	}

	spec := &Spec{}
	var err error
	if spec.minute, err = parseField(parts[0], minuteField); err != nil {
		return nil, specError(s, err.Error())
	}
	if spec.hour, err = parseField(parts[1], hourField); err != nil {
		return nil, specError(s, err.Error())
	}
	if spec.dom, err = parseField(parts[2], domField); err != nil {
		return nil, specError(s, err.Error())
	}
	if spec.month, err = parseField(parts[3], monthField); err != nil {
		return nil, specError(s, err.Error())
	}
	if spec.dow, err = parseField(parts[4], dowField); err != nil {
		return nil, specError(s, err.Error())
	}
	// 7 is Sunday too.
	if spec.dow&(1<<7) != 0 {
		spec.dow = spec.dow&^(1<<7) | 1
	}
	spec.domAny = isStar(parts[2])
	spec.dowAny = isStar(parts[4])
	return spec, nil
}

func isStar(s string) bool {
	return s == "*" || s == "?"
}

// parseField returns a bitset of the values a field matches.
func parseField(s string, f field) (uint64, error) {
	var set uint64
	for _, term := range strings.Split(s, ",") {
		rangePart, stepPart, hasStep := strings.Cut(term, "/")

		lo, hi := f.min, f.max
		switch {
		case isStar(rangePart):
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = parseNum(a, f); err != nil {
				return 0, err
			}
			if hi, err = parseNum(b, f); err != nil {
				return 0, err
			}
			if lo > hi {
				return 0, fmt.Errorf("%s range %q is reversed", f.name, rangePart)
			}
		default:
			n, err := parseNum(rangePart, f)
			if err != nil {
				return 0, err
			}
			lo = n
			if !hasStep {
				hi = n
			}
		}

		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepPart)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("%s step %q must be a positive number", f.name, stepPart)
			}
			step = n
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func parseNum(s string, f field) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", f.name, s)
	}
	if n < f.min || n > f.max {
		return 0, fmt.Errorf("%s %d out of range %d-%d", f.name, n, f.min, f.max)
	}
	return n, nil
}

func specError(expr, msg string) error {
	return domain.ErrConfiguration.Detailf("schedule %q: %s", expr, msg)
}

// String returns the expression the spec was parsed from.
func (s *Spec) String() string {
	return s.expr
}

// TimeOfDay reports whether the spec was written as HH:MM.
func (s *Spec) TimeOfDay() bool {
	return s.timeOfDay
}

// Interval returns the @every duration, or 0 for calendar specs.
func (s *Spec) Interval() time.Duration {
	return s.every
}

// Matches reports whether t falls in a minute selected by a calendar spec.
// It is pure: the same spec and time always give the same answer. Interval
// specs never match; the Scheduler handles them by elapsed time.
//
// As in cron, when both day-of-month and day-of-week are restricted a day
// matching either one is selected.
func Matches(s *Spec, t time.Time) bool {
	if s == nil || s.every > 0 {
		return false
	}
	return has(s.minute, t.Minute()) &&
		has(s.hour, t.Hour()) &&
		has(s.month, int(t.Month())) &&
		s.dayMatches(t)
}

func (s *Spec) dayMatches(t time.Time) bool {
	domOK := has(s.dom, t.Day())
	dowOK := has(s.dow, int(t.Weekday()))
	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dowOK
	case s.dowAny:
		return domOK
	default:
		return domOK || dowOK
	}
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

// Next returns the first matching minute strictly after t, searching up to
// five years ahead. It returns the zero time when nothing matches.
func (s *Spec) Next(t time.Time) time.Time {
	if s.every > 0 {
		return t.Add(s.every)
	}
	loc := t.Location()
	next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, loc)
	limit := t.AddDate(5, 0, 0)
	for next.Before(limit) {
		switch {
		case !has(s.month, int(next.Month())):
			next = time.Date(next.Year(), next.Month()+1, 1, 0, 0, 0, 0, loc)
		case !s.dayMatches(next):
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, loc)
		case !has(s.hour, next.Hour()):
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour()+1, 0, 0, 0, loc)
		case !has(s.minute, next.Minute()):
			next = next.Add(time.Minute)
		default:
			return next
		}
	}
	return time.Time{}
}
