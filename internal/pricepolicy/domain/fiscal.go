package domain

import "time"

// FiscalYearEnd returns the last day of the fiscal year containing d, for a
// fiscal year that begins on the first of startMonth.
func FiscalYearEnd(d time.Time, startMonth time.Month) time.Time {
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.January
	}
	day := DateOf(d)
	year := day.Year()
	if day.Month() >= startMonth {
		year++
	}
	return time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
