package model_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/Crawler/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		given string
		then  time.Duration
		err   bool
	}{
		{"15m", 15 * time.Minute, false},
		{"1d2h3m4s", 26*time.Hour + 3*time.Minute + 4*time.Second, false},
		{"90s", 90 * time.Second, false},
		{"", 0, true},
		{"1h1d", 0, true},
		{"15 minutes", 0, true},
		{"99999999999999999d", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			got, err := model.ParseDuration(tc.given)
			if tc.err {
				require.ErrorIs(t, err, model.ErrDurationFormat)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then, got)
		})
	}
}

func TestParseCron(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		err      string
	}{
		{"valid_5_fields", "*/15 * * * *", ""},
		{"macro_hourly", "@hourly", ""},
		{"macro_every", "@every 5m", ""},
		{"six_fields", "0 */2 * * * *", "expected exactly 5 fields, found 6"},
		{"invalid_token", "* * 32 * *", "end of range (32) above maximum (31): 32"},
		{"empty", "", "empty cron expression"},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := model.ParseCron(tc.given)
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestNewSchedule(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 10, 7, 0, 0, time.UTC)

	s, err := model.NewSchedule(model.Fs{UpdateRate: "10m"})
	require.NoError(t, err)
	require.Equal(t, now.Add(10*time.Minute), s.Next(now))

	s, err = model.NewSchedule(model.Fs{UpdateRate: "10m", Schedule: "0 * * * *"})
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), s.Next(now))

	_, err = model.NewSchedule(model.Fs{UpdateRate: "0s"})
	require.Error(t, err)
}
