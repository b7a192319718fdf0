package units

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// NightLayout is the YYYYMMDD form used for night identifiers.
const NightLayout = "20060102"

const day = 24 * time.Hour

// MJDEpoch is the zero point of the Modified Julian Date.
var MJDEpoch = time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)

// ParseNight validates a YYYYMMDD night identifier and returns its calendar date.
func ParseNight(night int) (time.Time, error) {
	s := strconv.Itoa(night)
	if len(s) != len(NightLayout) {
		return time.Time{}, fmt.Errorf("invalid night %d: expected YYYYMMDD", night)
	}
	date, err := time.Parse(NightLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid night %d: %w", night, err)
	}
	return date, nil
}

// FormatNight renders a date as a night identifier.
func FormatNight(t time.Time) int {
	n, _ := strconv.Atoi(t.Format(NightLayout))
	return n
}

// LocalNoon returns 12:00 in loc on the calendar date of night, in UTC.
func LocalNoon(night int, loc *time.Location) (time.Time, error) {
	date, err := ParseNight(night)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc).UTC(), nil
}

// NightWindow returns the half-open interval [start, end) covered by night:
// local noon on the night's date until local noon on the following date.
func NightWindow(night int, loc *time.Location) (start, end time.Time, err error) {
	start, err = LocalNoon(night, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	date, _ := ParseNight(night)
	end, err = LocalNoon(FormatNight(date.AddDate(0, 0, 1)), loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ToMJD converts a timestamp to a Modified Julian Date.
func ToMJD(t time.Time) float64 {
	secs := t.Unix() - MJDEpoch.Unix()
	return (float64(secs) + float64(t.Nanosecond())/1e9) / day.Seconds()
}

// FromMJD converts a Modified Julian Date to a UTC timestamp, rounded to the
// millisecond. float64 MJDs near the present carry about a microsecond of
// resolution so finer digits are noise.
func FromMJD(mjd float64) time.Time {
	whole := math.Floor(mjd)
	frac := mjd - whole
	t := MJDEpoch.AddDate(0, 0, int(whole)).Add(time.Duration(frac * float64(day)))
	return t.Round(time.Millisecond)
}
