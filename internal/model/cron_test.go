package model_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	t.Parallel()
	type then struct {
		interval time.Duration
		err      bool
	}
	var testCases = []struct {
		scenario string
		given    string
		then     then
	}{
		{"every 15 minutes", "*/15 * * * *", then{15 * time.Minute, false}},
		{"hourly macro", "@hourly", then{time.Hour, false}},
		{"every macro", "@every 5m", then{5 * time.Minute, false}},
		{"too few fields", "* * * *", then{0, true}},
		{"out of range", "* * 32 * *", then{0, true}},
		{"empty", "  ", then{0, true}},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			interval, err := model.ParseCron(tc.given)
			if tc.then.err {
				require.ErrorIs(t, err, model.ErrConfig)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then.interval, interval)
		})
	}
}

func TestParseISODuration(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     time.Duration
		err      bool
	}{
		{"one day", "P1D", 24 * time.Hour, false},
		{"hours and minutes", "PT1H30M", 90 * time.Minute, false},
		{"fraction", "PT0.5S", 500 * time.Millisecond, false},
		{"day and time", "P1DT2H", 26 * time.Hour, false},
		{"empty", "", 0, true},
		{"only T", "PT", 0, true},
		{"minutes without T", "P2M", 0, true},
		{"garbage", "every day", 0, true},
		{"fraction of minutes", "PT1.5M", 0, true},
		{"wrong order", "PT1M1H", 0, true},
		{"weeks", "P2W", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			d, err := model.ParseISODuration(tc.given)
			if tc.err {
				require.ErrorIs(t, err, model.ErrISOFormat)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then, d)
		})
	}
}

func TestTimerSchedule_Interval(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    model.TimerSchedule
		then     time.Duration
	}{
		{"cron", model.TimerSchedule{Cron: "@daily"}, 24 * time.Hour},
		{"duration", model.TimerSchedule{Duration: "PT6H"}, 6 * time.Hour},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			d, err := tc.given.Interval()
			require.NoError(t, err)
			require.Equal(t, tc.then, d)
		})
	}

	for _, given := range []model.TimerSchedule{
		{},
		{Cron: "@daily", Duration: "PT1H"},
		{Duration: "PT0S"},
		{Cron: "61 * * * *"},
	} {
		_, err := given.Interval()
		require.ErrorIs(t, err, model.ErrConfig)
	}
}
