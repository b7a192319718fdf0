// Package units provides shared constants, night bookkeeping and time
// coordinate conversions for calibrated images and telemetry.
package units

// Unit labels attached to calibrated frames.
const (
	ADU        = "ADU"
	ElecPerSec = "elec/s"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{ADU, ElecPerSec}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "ADU, elec/s"
}
