package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule tells when the next crawl pass starts.
type Schedule interface {
	Next(time.Time) time.Time
}

// ParseCron parses a cron expression that have 5 fields or an @ macro
// returns error if it fails
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, errors.New("empty cron expression")
	}

	// Macros / @every handled by ParseStandard
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(e)
}

var durationRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// ParseDuration parses strings matching ^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$ into time.Duration.
// Empty string is rejected.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrDurationFormat)
	}
	m := durationRx.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrDurationFormat, s)
	}
	var total time.Duration
	for _, seg := range m[1:] {
		if seg == "" {
			continue
		}
		val, err := strconv.ParseInt(seg[:len(seg)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid number in %s", ErrDurationFormat, seg)
		}
		var unit time.Duration
		switch seg[len(seg)-1] {
		case 'd':
			unit = 24 * time.Hour
		case 'h':
			unit = time.Hour
		case 'm':
			unit = time.Minute
		case 's':
			unit = time.Second
		}
		if val > int64(math.MaxInt64/unit) {
			return 0, fmt.Errorf("%w: overflow", ErrDurationFormat)
		}
		add := unit * time.Duration(val)
		if total > time.Duration(math.MaxInt64)-add {
			return 0, fmt.Errorf("%w: overflow", ErrDurationFormat)
		}
		total += add
	}
	return total, nil
}

// NewSchedule returns the cron schedule when fs.schedule is set, a constant
// update_rate delay otherwise.
func NewSchedule(fs Fs) (Schedule, error) {
	if fs.Schedule != "" {
		s, err := ParseCron(fs.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parsing fs.schedule: %w", err)
		}
		return s, nil
	}
	rate := fs.UpdateRate
	if rate == "" {
		rate = DefaultUpdateRate
	}
	d, err := ParseDuration(rate)
	if err != nil {
		return nil, fmt.Errorf("parsing fs.update_rate: %w", err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("fs.update_rate must be positive: got %s", rate)
	}
	return cron.Every(d), nil
}
