package units

import (
	"fmt"
	"time"

	// Observatory hosts are not guaranteed to ship a tz database.
	_ "time/tzdata"
)

// DefaultTimezone is the observatory's civil timezone. Arizona does not
// observe daylight saving, so local noon is always 19:00 UTC.
const DefaultTimezone = "America/Phoenix"

// IsTimezoneValid checks if the given timezone is valid by attempting to load it from the tz database
// This validates against the actual system tz database rather than a hardcoded list
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// LoadLocation loads tz, falling back to DefaultTimezone when tz is empty.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}

// ConvertTime converts a UTC time to the specified timezone
// Telemetry timestamps are stored in UTC, this function converts them for display
func ConvertTime(utcTime time.Time, targetTimezone string) (time.Time, error) {
	if targetTimezone == "UTC" {
		return utcTime, nil // No conversion needed
	}

	loc, err := LoadLocation(targetTimezone)
	if err != nil {
		return utcTime, err
	}
	return utcTime.In(loc), nil
}
