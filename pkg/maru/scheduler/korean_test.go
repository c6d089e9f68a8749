package scheduler

import (
	"testing"
	"time"
)

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("loading Asia/Seoul: %v", err)
	}
	return loc
}

func TestParseScheduleRecurring(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, seoul(t))

	tests := []struct {
		input string
		want  string
	}{
		{"매일 아침 9시", "0 9 * * *"},
		{"매일 오후 3시 30분", "30 15 * * *"},
		{"매일 9시 반", "30 9 * * *"},
		{"매일 밤 11시", "0 23 * * *"},
		{"매일 새벽 12시", "0 0 * * *"},
		{"평일 오후 3시", "0 15 * * 1-5"},
		{"주말 오전 10시", "0 10 * * 0,6"},
		{"30분마다", "@every 30m"},
		{"2시간마다", "@every 2h"},
		{"매시간", "0 * * * *"},
		{"every day at 9am", "0 9 * * *"},
		{"every day at 12am", "0 0 * * *"},
		{"weekdays at 3pm", "0 15 * * 1-5"},
		{"weekends at 10:30am", "30 10 * * 0,6"},
		{"every 30 minutes", "@every 30m"},
		{"every 2 hours", "@every 2h"},
		{"0 9 * * 1-5", "0 9 * * 1-5"},
		{"@daily", "@daily"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSchedule(tt.input, now, seoul(t))
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.input, err)
			}
			if got.OneShot {
				t.Fatalf("ParseSchedule(%q) produced a one-shot", tt.input)
			}
			if got.Expr != tt.want {
				t.Errorf("ParseSchedule(%q) = %q, want %q", tt.input, got.Expr, tt.want)
			}
		})
	}
}

func TestParseScheduleOneShot(t *testing.T) {
	loc := seoul(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"내일 오후 2시", time.Date(2026, 8, 25, 14, 0, 0, 0, loc)},
		{"오늘 저녁 8시", time.Date(2026, 8, 24, 20, 0, 0, 0, loc)},
		{"모레 오전 9시", time.Date(2026, 8, 26, 9, 0, 0, 0, loc)},
		{"tomorrow at 7:30am", time.Date(2026, 8, 25, 7, 30, 0, 0, loc)},
		{"2026-12-25 18:30", time.Date(2026, 12, 25, 18, 30, 0, 0, loc)},
		{"8월 30일 오후 2시", time.Date(2026, 8, 30, 14, 0, 0, 0, loc)},
		// A Korean date already past this year rolls to next year.
		{"1월 5일 오전 9시", time.Date(2027, 1, 5, 9, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSchedule(tt.input, now, loc)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.input, err)
			}
			if !got.OneShot {
				t.Fatalf("ParseSchedule(%q) is not a one-shot: %+v", tt.input, got)
			}
			if !got.At.Equal(tt.want) {
				t.Errorf("ParseSchedule(%q).At = %s, want %s",
					tt.input, got.At.Format(time.RFC3339), tt.want.Format(time.RFC3339))
			}
		})
	}
}

func TestParseScheduleErrors(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, seoul(t))

	inputs := []string{
		"",
		"무슨 뜻인지 모르겠어",
		"gibberish schedule",
		"오늘 오전 9시", // already past at noon
		"매일",       // day selector without a time
	}
	for _, input := range inputs {
		if _, err := ParseSchedule(input, now, seoul(t)); err == nil {
			t.Errorf("ParseSchedule(%q) succeeded, want error", input)
		}
	}
}
