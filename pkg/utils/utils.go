package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// DayStart truncates t to midnight in its own location
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysInMonth returns the number of days of the given month
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ScheduledDate returns the collection date of a mandate day in a month.
// Days past the end of the month are clamped to its last day (31 -> Feb 28/29).
func ScheduledDate(year int, month time.Month, scheduledDay int, loc *time.Location) time.Time {
	d := scheduledDay
	if last := DaysInMonth(year, month); d > last {
		d = last
	}
	if d < 1 {
		d = 1
	}
	return time.Date(year, month, d, 0, 0, 0, 0, loc)
}

// ScheduledDatesBetween lists every collection date of a mandate day within [from, to]
func ScheduledDatesBetween(from, to time.Time, scheduledDay int) []time.Time {
	from, to = DayStart(from), DayStart(to)
	var dates []time.Time
	cursor := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location())
	for !cursor.After(to) {
		due := ScheduledDate(cursor.Year(), cursor.Month(), scheduledDay, from.Location())
		if !due.Before(from) && !due.After(to) {
			dates = append(dates, due)
		}
		cursor = cursor.AddDate(0, 1, 0)
	}
	return dates
}

// DaysBetween counts whole calendar days from a to b (negative when b is earlier)
func DaysBetween(a, b time.Time) int {
	a, b = DayStart(a), DayStart(b)
	return int(b.Sub(a).Round(day) / day)
}

// AgeInDays is the fractional age of t relative to asOf, never negative
func AgeInDays(t, asOf time.Time) float64 {
	age := asOf.Sub(t).Hours() / 24
	if age < 0 {
		return 0
	}
	return age
}

// Clamp01 bounds a probability-like value to [0,1]
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Annualize converts a monthly amount scaled by a probability delta into a yearly figure.
// Formula: amount * delta * 12, rounded to minor units.
func Annualize(monthly decimal.Decimal, delta float64) decimal.Decimal {
	return monthly.Mul(DecimalFromFloat(delta)).Mul(decimal.NewFromInt(12)).Round(2)
}

// DecimalFromFloat converts a rate or probability to decimal.Decimal, rounded
// to six places so binary float noise does not leak into money.
func DecimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(6)
}
