package util

import (
	"fmt"
	"time"
)

// StampLayout names snapshot directories, e.g. 20230915_143000.
const StampLayout = "20060102_150405"

// Stamp returns the snapshot label of t in local time.
func Stamp(t time.Time) string {
	return t.Local().Format(StampLayout)
}

// ParseStamp parses a snapshot label.
func ParseStamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(StampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q must look like yyyymmdd_hhmmss: %w", s, err)
	}
	return t, nil
}

// FromMillis converts an exchange expiration timestamp in milliseconds to UTC.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Date truncates t to its calendar date in UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Thirty360 is the 30/360 US bond-basis day count.
type Thirty360 struct{}

// DayCount returns the 30/360 day count between the calendar dates of start and end.
func (Thirty360) DayCount(start, end time.Time) int {
	y1, m1, d1 := start.UTC().Date()
	y2, m2, d2 := end.UTC().Date()
	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 && d1 == 30 {
		d2 = 30
	}
	return 360*(y2-y1) + 30*(int(m2)-int(m1)) + (d2 - d1)
}

// YearFraction returns DayCount / 360.
func (dc Thirty360) YearFraction(start, end time.Time) float64 {
	return float64(dc.DayCount(start, end)) / 360
}
