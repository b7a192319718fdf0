// Package calib converts raw CI camera counts to physical units in up to
// three cumulative stages: bias subtraction, dark subtraction and gain
// correction.
package calib

import (
	"fmt"

	"github.com/banshee-data/ci.report/internal/units"
)

// Stage is the last calibration step applied to a frame set.
type Stage int

const (
	Raw Stage = iota
	BiasSubtracted
	DarkSubtracted
	GainCorrected
)

// Label returns the human-readable name of the stage.
func (s Stage) Label() string {
	switch s {
	case Raw:
		return "Raw Data"
	case BiasSubtracted:
		return "Bias Subtracted"
	case DarkSubtracted:
		return "Dark Subtracted"
	case GainCorrected:
		return "Gain Corrected"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Unit returns the pixel unit after the stage.
func (s Stage) Unit() string {
	if s >= GainCorrected {
		return units.ElecPerSec
	}
	return units.ADU
}

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	return s >= Raw && s <= GainCorrected
}

func (s Stage) String() string { return s.Label() }
