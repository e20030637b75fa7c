package ingestion

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	windowKeyLayout  = "2006-01-02"
	minutesPerHour   = 60
	clockPartsCount  = 2
	maxMinuteOfDay   = 24*minutesPerHour - 1
	lastMinuteOfHour = 59
)

// WindowPolicy decides whether a method may run right now and computes the
// window key that pins the run to its idempotency slot.
//
// Daily methods run between dailyStart and dailyEnd (inclusive). Monthly
// methods run on the configured days of month from monthlyStart onward, plus
// the full day after each configured day as a grace window. The grace day
// produces its own window key on purpose: a day-8 run and a day-9 run are
// distinct windows.
type WindowPolicy struct {
	dailyStart     int // minutes since local midnight
	dailyEnd       int
	monthlyStart   int
	monthlyRunDays map[int]bool
	location       *time.Location
	now            func() time.Time
}

// WindowPolicyOption configures optional WindowPolicy behavior.
type WindowPolicyOption func(*WindowPolicy)

// WithClock overrides the policy clock. Used by tests to pin "now".
func WithClock(now func() time.Time) WindowPolicyOption {
	return func(p *WindowPolicy) {
		p.now = now
	}
}

// NewWindowPolicy builds a policy from the ingestion configuration.
// Returns an error for malformed clock strings, unknown time zones, or
// day-of-month values outside 1..31.
func NewWindowPolicy(cfg *Config, opts ...WindowPolicyOption) (*WindowPolicy, error) {
	dailyStart, err := parseClock(cfg.DailyWindowStart)
	if err != nil {
		return nil, fmt.Errorf("daily window start: %w", err)
	}

	dailyEnd, err := parseClock(cfg.DailyWindowEnd)
	if err != nil {
		return nil, fmt.Errorf("daily window end: %w", err)
	}

	monthlyStart, err := parseClock(cfg.MonthlyWindowStart)
	if err != nil {
		return nil, fmt.Errorf("monthly window start: %w", err)
	}

	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}

	runDays := make(map[int]bool, len(cfg.MonthlyRunDays))

	for _, day := range cfg.MonthlyRunDays {
		if day < 1 || day > 31 {
			return nil, fmt.Errorf("monthly run day out of range: %d", day)
		}

		runDays[day] = true
	}

	policy := &WindowPolicy{
		dailyStart:     dailyStart,
		dailyEnd:       dailyEnd,
		monthlyStart:   monthlyStart,
		monthlyRunDays: runDays,
		location:       location,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(policy)
	}

	return policy, nil
}

// ValidateAndKey validates that method may run now and returns the window
// key. force bypasses validation but still returns the key, so forced runs
// collide with regular runs on (method, windowKey).
func (p *WindowPolicy) ValidateAndKey(method string, force bool) (string, error) {
	now := p.now().In(p.location)
	key := now.Format(windowKeyLayout)

	if force {
		return key, nil
	}

	minute := now.Hour()*minutesPerHour + now.Minute()

	if IsMonthlyMethod(method) {
		if p.monthlyRunDays[now.Day()] && minute >= p.monthlyStart {
			return key, nil
		}

		// Grace window: the whole day after a configured run day is valid.
		// AddDate handles month boundaries (day 1 checks the last day of the
		// previous month).
		if p.monthlyRunDays[now.AddDate(0, 0, -1).Day()] {
			return key, nil
		}

		return "", fmt.Errorf(
			"%w: monthly window is days %s from %s (%s)",
			ErrWindowViolation, formatDays(p.monthlyRunDays), formatClock(p.monthlyStart), p.location,
		)
	}

	if minute < p.dailyStart || minute > p.dailyEnd {
		return "", fmt.Errorf(
			"%w: daily window is %s-%s (%s)",
			ErrWindowViolation, formatClock(p.dailyStart), formatClock(p.dailyEnd), p.location,
		)
	}

	return key, nil
}

// Location returns the zone all window computations use. The read API reuses
// it to interpret date filters as full local days.
func (p *WindowPolicy) Location() *time.Location {
	return p.location
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != clockPartsCount {
		return 0, fmt.Errorf("malformed clock value %q, expected HH:MM", value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("malformed hour in clock value %q", value)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > lastMinuteOfHour {
		return 0, fmt.Errorf("malformed minute in clock value %q", value)
	}

	return hour*minutesPerHour + minute, nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/minutesPerHour, minute%minutesPerHour)
}

func formatDays(days map[int]bool) string {
	listed := make([]int, 0, len(days))

	for day := range days {
		listed = append(listed, day)
	}

	// Small set, insertion sort keeps the message stable.
	for i := 1; i < len(listed); i++ {
		for j := i; j > 0 && listed[j] < listed[j-1]; j-- {
			listed[j], listed[j-1] = listed[j-1], listed[j]
		}
	}

	parts := make([]string, len(listed))
	for i, day := range listed {
		parts[i] = strconv.Itoa(day)
	}

	return strings.Join(parts, ",")
}
