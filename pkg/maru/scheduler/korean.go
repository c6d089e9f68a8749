// Package scheduler – korean.go implements natural-language schedule parsing.
// Accepts Korean phrases ("매일 아침 9시", "평일 오후 3시", "30분마다",
// "내일 오후 2시"), their English counterparts, absolute datetimes, and plain
// five-field cron expressions.
package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParsedSchedule is the outcome of natural-language parsing: either a cron
// expression or a one-shot moment.
type ParsedSchedule struct {
	// Expr is a cron expression or @every interval. Empty for one-shots.
	Expr string

	// OneShot marks an absolute datetime schedule.
	OneShot bool

	// At is the one-shot firing moment, in the caller's location.
	At time.Time
}

var (
	cronFieldRe = regexp.MustCompile(`^[0-9*,/\-]+$`)

	// Korean interval: "30분마다", "2시간마다"
	koreanEveryRe = regexp.MustCompile(`(\d+)\s*(분|시간)\s*마다`)
	// English interval: "every 30 minutes", "every 2 hours"
	englishEveryRe = regexp.MustCompile(`(?i)every\s+(\d+)\s*(minute|min|hour|hr)s?`)

	// Korean clock: "[오전|오후|아침|저녁|밤|새벽] N시 [M분]" or "N시 반"
	koreanClockRe = regexp.MustCompile(`(오전|오후|아침|저녁|밤|새벽)?\s*(\d{1,2})시\s*(반|(\d{1,2})분)?`)
	// English clock: "9am", "3:30pm", "15:00"
	englishClockRe = regexp.MustCompile(`(?i)(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

	// Korean date: "8월 30일"
	koreanDateRe = regexp.MustCompile(`(\d{1,2})월\s*(\d{1,2})일`)
	// ISO-ish date: "2026-08-30"
	isoDateRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

// ParseSchedule interprets a schedule phrase. now anchors relative dates;
// loc is the job's timezone.
func ParseSchedule(text string, now time.Time, loc *time.Location) (*ParsedSchedule, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	now = now.In(loc)

	// Pass through anything already in cron form.
	if isCronExpr(text) {
		return &ParsedSchedule{Expr: text}, nil
	}
	if strings.HasPrefix(text, "@") {
		return &ParsedSchedule{Expr: text}, nil
	}

	// Intervals.
	if m := koreanEveryRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return nil, fmt.Errorf("invalid interval in %q", text)
		}
		unit := "m"
		if m[2] == "시간" {
			unit = "h"
		}
		return &ParsedSchedule{Expr: fmt.Sprintf("@every %d%s", n, unit)}, nil
	}
	if m := englishEveryRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return nil, fmt.Errorf("invalid interval in %q", text)
		}
		unit := "m"
		if strings.HasPrefix(strings.ToLower(m[2]), "h") {
			unit = "h"
		}
		return &ParsedSchedule{Expr: fmt.Sprintf("@every %d%s", n, unit)}, nil
	}
	if strings.Contains(text, "매시간") || containsWordFold(text, "every hour") || containsWordFold(text, "hourly") {
		return &ParsedSchedule{Expr: "0 * * * *"}, nil
	}

	// Absolute one-shots take precedence over recurring day selectors.
	if at, ok := parseAbsolute(text, now, loc); ok {
		if !at.After(now) {
			return nil, fmt.Errorf("time %q is in the past", text)
		}
		return &ParsedSchedule{OneShot: true, At: at}, nil
	}

	// Recurring: day selector + clock time.
	dow, hasDow := parseDaySelector(text)
	hour, minute, hasClock := parseClock(text)
	if hasDow {
		if !hasClock {
			return nil, fmt.Errorf("schedule %q needs a time of day", text)
		}
		return &ParsedSchedule{Expr: fmt.Sprintf("%d %d * * %s", minute, hour, dow)}, nil
	}

	return nil, fmt.Errorf("unrecognized schedule: %q", text)
}

// containsWordFold reports whether s contains word, ignoring case.
func containsWordFold(s, word string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(word))
}

// isCronExpr reports whether text is a plain five-field cron expression.
func isCronExpr(text string) bool {
	fields := strings.Fields(text)
	if len(fields) != 5 {
		return false
	}
	for _, f := range fields {
		if !cronFieldRe.MatchString(f) {
			return false
		}
	}
	return true
}

// parseDaySelector maps day phrases to a cron day-of-week field.
func parseDaySelector(text string) (string, bool) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "평일") || strings.Contains(lower, "weekday"):
		return "1-5", true
	case strings.Contains(text, "주말") || strings.Contains(lower, "weekend"):
		return "0,6", true
	case strings.Contains(text, "매일") || strings.Contains(lower, "every day") ||
		strings.Contains(lower, "daily") || strings.Contains(lower, "everyday"):
		return "*", true
	}
	return "", false
}

// parseClock extracts an hour and minute from a Korean or English phrase.
func parseClock(text string) (hour, minute int, ok bool) {
	if m := koreanClockRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[2])
		if hour > 23 {
			return 0, 0, false
		}
		switch m[3] {
		case "반":
			minute = 30
		case "":
		default:
			minute, _ = strconv.Atoi(m[4])
		}
		hour = applyMeridiem(hour, m[1])
		return hour, minute, minute < 60
	}

	if m := englishClockRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch strings.ToLower(m[3]) {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		case "":
			// A bare "9" is ambiguous; require a colon or meridiem.
			if m[2] == "" {
				return 0, 0, false
			}
		}
		return hour, minute, hour < 24 && minute < 60
	}
	return 0, 0, false
}

// applyMeridiem adjusts an hour for Korean day-part words. 아침/오전/새벽 are
// morning; 오후/저녁/밤 shift to the afternoon or evening.
func applyMeridiem(hour int, part string) int {
	switch part {
	case "오후", "저녁", "밤":
		if hour < 12 {
			hour += 12
		}
	case "오전", "아침", "새벽":
		if hour == 12 {
			hour = 0
		}
	}
	return hour
}

// parseAbsolute recognises one-shot datetimes: explicit dates, Korean dates
// ("8월 30일 오후 2시") and relative day words ("오늘", "내일", "모레",
// "today", "tomorrow").
func parseAbsolute(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	// "2026-08-30 14:00" or "2026-08-30".
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		hour, minute, hasClock := parseClock(strings.Replace(text, m[0], "", 1))
		if !hasClock {
			hour, minute = 9, 0
		}
		return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc), true
	}

	// "8월 30일 [오후 2시]".
	if m := koreanDateRe.FindStringSubmatch(text); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		hour, minute, hasClock := parseClock(strings.Replace(text, m[0], "", 1))
		if !hasClock {
			hour, minute = 9, 0
		}
		at := time.Date(now.Year(), time.Month(month), day, hour, minute, 0, 0, loc)
		if at.Before(now) {
			at = at.AddDate(1, 0, 0)
		}
		return at, true
	}

	// Relative day words.
	dayOffset := -1
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "모레"):
		dayOffset = 2
	case strings.Contains(text, "내일") || strings.Contains(lower, "tomorrow"):
		dayOffset = 1
	case strings.Contains(text, "오늘") || strings.Contains(lower, "today"):
		dayOffset = 0
	}
	if dayOffset < 0 {
		return time.Time{}, false
	}

	hour, minute, hasClock := parseClock(text)
	if !hasClock {
		return time.Time{}, false
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc).
		AddDate(0, 0, dayOffset)
	return at, true
}
