package focus

import "time"

// HabitWindow is the trailing window counted by HabitDays.
const HabitWindow = 14 * 24 * time.Hour

// HabitDays counts the distinct calendar days, in now's location, on which
// a session timestamp (unix milliseconds) falls within the trailing window
// ending at now.
func HabitDays(timestamps []int64, now time.Time) int {
	cutoff := now.Add(-HabitWindow).UnixMilli()
	loc := now.Location()
	days := make(map[string]struct{})
	for _, ts := range timestamps {
		if ts < cutoff {
			continue
		}
		days[time.UnixMilli(ts).In(loc).Format(time.DateOnly)] = struct{}{}
	}
	return len(days)
}

// HabitDaysAt is HabitDays with now given in unix milliseconds and days
// bucketed in the process's local time zone.
func HabitDaysAt(timestamps []int64, nowMillis int64) int {
	return HabitDays(timestamps, time.UnixMilli(nowMillis).In(time.Local))
}
