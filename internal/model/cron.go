package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a 5 field cron expression or a descriptor like @daily or @every 5m
// and returns the interval between its next two activations.
func ParseCron(expr string) (time.Duration, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return 0, fmt.Errorf("%w: empty cron expression", ErrConfig)
	}
	schedule, err := cronParser.Parse(e)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	next := schedule.Next(time.Now())
	return schedule.Next(next).Sub(next), nil
}

var ErrISOFormat error = fmt.Errorf("%w: invalid ISO8601 duration", ErrConfig)

type isoUnit struct {
	designator byte
	unit       time.Duration
}

var (
	isoDateUnits = []isoUnit{{'D', 24 * time.Hour}}
	isoTimeUnits = []isoUnit{{'H', time.Hour}, {'M', time.Minute}, {'S', time.Second}}
)

// ParseISODuration parses the day and time part of an ISO8601 duration, eg. P1DT12H.
// Years, months and weeks have no fixed length and are rejected, so is P2M.
// Only seconds may have a fraction.
func ParseISODuration(dur string) (time.Duration, error) {
	rest, ok := strings.CutPrefix(dur, "P")
	if !ok || rest == "" {
		return 0, ErrISOFormat
	}
	datePart, timePart, hasT := strings.Cut(rest, "T")
	if hasT && timePart == "" {
		return 0, ErrISOFormat
	}
	days, err := sumISO(datePart, isoDateUnits)
	if err != nil {
		return 0, err
	}
	clock, err := sumISO(timePart, isoTimeUnits)
	if err != nil {
		return 0, err
	}
	return days + clock, nil
}

// sumISO adds up number+designator pairs, designators must follow the order of units
func sumISO(s string, units []isoUnit) (time.Duration, error) {
	var total time.Duration
	next := 0
	for s != "" {
		i := strings.IndexFunc(s, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != ','
		})
		if i <= 0 {
			return 0, ErrISOFormat
		}
		number, designator := s[:i], s[i]
		s = s[i+1:]

		j := next
		for j < len(units) && units[j].designator != designator {
			j++
		}
		if j == len(units) {
			return 0, ErrISOFormat
		}
		next = j + 1

		d, err := isoNumber(number, units[j])
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total, nil
}

func isoNumber(s string, u isoUnit) (time.Duration, error) {
	whole, frac, hasFrac := strings.Cut(strings.Replace(s, ",", ".", 1), ".")
	n, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrISOFormat, err)
	}
	d := time.Duration(n) * u.unit
	if !hasFrac {
		return d, nil
	}
	if u.designator != 'S' || frac == "" || len(frac) > 9 {
		return 0, ErrISOFormat
	}
	nanos, err := strconv.Atoi(frac + strings.Repeat("0", 9-len(frac)))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrISOFormat, err)
	}
	return d + time.Duration(nanos), nil
}

// Interval validates the schedule and returns the time between two audits
func (s TimerSchedule) Interval() (time.Duration, error) {
	switch {
	case s.Cron != "" && s.Duration != "":
		return 0, fmt.Errorf("%w: cron and duration are mutually exclusive", ErrConfig)
	case s.Cron != "":
		return ParseCron(s.Cron)
	case s.Duration != "":
		d, err := ParseISODuration(s.Duration)
		if err != nil {
			return 0, err
		}
		if d <= 0 {
			return 0, fmt.Errorf("%w: duration %s is not positive", ErrISOFormat, s.Duration)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%w: cron or duration is required", ErrConfig)
	}
}
