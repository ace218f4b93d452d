package scheduler

import (
	"time"

	"dealerscan/config"
)

// DailyAnchorHour is the local clock hour daily and weekly scans run at.
const DailyAnchorHour = 8

// NextRunTime computes when the next scan should start. Manual frequency has
// no next run. Daily and weekly runs are anchored to 08:00 in now's location.
func NextRunTime(freq config.Frequency, now time.Time) (time.Time, bool) {
	switch freq {
	case config.Hourly:
		return now.Add(time.Hour), true
	case config.Daily:
		return anchored(now, 1), true
	case config.Weekly:
		return anchored(now, 7), true
	default:
		return time.Time{}, false
	}
}

func anchored(now time.Time, days int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+days, DailyAnchorHour, 0, 0, 0, now.Location())
}

// FrequencySchedule adapts a Frequency to cron.Schedule.
type FrequencySchedule struct {
	Frequency config.Frequency
}

// Next returns the zero time for manual, which cron treats as never.
func (s FrequencySchedule) Next(t time.Time) time.Time {
	next, _ := NextRunTime(s.Frequency, t)
	return next
}
