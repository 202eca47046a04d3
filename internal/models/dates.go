package models

import "time"

// DateLayout is the calendar-day format used in ids, keys and JSON payloads.
const DateLayout = "2006-01-02"

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// AddMonthsClamped moves anchor forward by months, keeping the anchor's day of
// month and clamping it to the last day of shorter months (31 Jan + 1 = 28/29 Feb).
func AddMonthsClamped(anchor time.Time, months int) time.Time {
	anchor = DateOf(anchor)
	y, m, d := anchor.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
