package events

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var hhmmPattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// parseWhen interprets value in the given IANA timezone. Accepted forms:
// "HH:MM" (next occurrence, rolling to tomorrow if already past),
// "today HH:MM" / "tomorrow HH:MM", and "YYYY-MM-DD HH:MM". now is the
// current instant, resolved into the configured timezone.
func parseWhen(value string, tzName string, now time.Time) (time.Time, error) {
	if tzName == "" {
		return time.Time{}, fmt.Errorf("timezone required; set DEFAULT_TIMEZONE")
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q", tzName)
	}

	value = strings.TrimSpace(value)
	lowered := strings.ToLower(value)
	localNow := now.In(loc)

	if hhmmPattern.MatchString(value) {
		timePart, err := time.ParseInLocation("15:04", value, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time (use HH:MM)")
		}
		sendAt := combineDateAndTime(localNow, timePart, loc)
		if !sendAt.After(localNow) {
			sendAt = sendAt.AddDate(0, 0, 1)
		}
		return sendAt, nil
	}

	if strings.HasPrefix(lowered, "today") || strings.HasPrefix(lowered, "tomorrow") {
		parts := strings.Fields(lowered)
		if len(parts) < 2 {
			return time.Time{}, fmt.Errorf("time required (use 'today HH:MM' or 'tomorrow HH:MM')")
		}
		timePart, err := time.ParseInLocation("15:04", parts[1], loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time (use HH:MM)")
		}
		base := localNow
		if parts[0] == "tomorrow" {
			base = base.AddDate(0, 0, 1)
		}
		return combineDateAndTime(base, timePart, loc), nil
	}

	sendAt, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid 'at' format (use YYYY-MM-DD HH:MM)")
	}
	return sendAt, nil
}

func combineDateAndTime(date time.Time, clock time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
}

// formatWhenPrompt builds the "*When?*" prompt shown for the "when" flow
// step.
func formatWhenPrompt(tzName string) string {
	if tzName == "" {
		tzName = "UTC"
	}
	return "*When?*\n" +
		"Use YYYY-MM-DD HH:MM\n" +
		"Or use HH:MM / 'today HH:MM' / 'tomorrow HH:MM'.\n" +
		"For example: today 18:30\n" +
		"(Current time zone: " + tzName + ")"
}

// formatDateTime renders an instant in the configured timezone for
// display in confirmation/list replies.
func formatDateTime(value time.Time, tzName string) string {
	if tzName != "" {
		if loc, err := time.LoadLocation(tzName); err == nil {
			value = value.In(loc)
		}
	}
	return value.Format("2006-01-02 15:04")
}
