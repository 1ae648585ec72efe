package queue

import (
	"fmt"
	"time"
)

// Schedule determines when a periodic task should run next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// EveryInterval runs a task at a fixed interval.
func EveryInterval(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// Hourly runs a task at the given minute of every hour.
func Hourly(minute int) Schedule {
	return hourlySchedule{minute: minute}
}

// DailyAt runs a task once a day at hour:minute in the location of the reference time.
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time { return from.Add(s.every) }
func (s intervalSchedule) String() string                { return fmt.Sprintf("every %v", s.every) }

type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := from.Truncate(time.Hour).Add(time.Duration(s.minute) * time.Minute)
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string { return fmt.Sprintf("hourly at :%02d", s.minute) }

type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}
