package calib

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// CameraCoefficients is the fixed calibration model of one camera.
type CameraCoefficients struct {
	Bias float64 `yaml:"bias"` // ADU
	D0   float64 `yaml:"D0"`   // dark current scale, ADU
	T0   float64 `yaml:"T0"`   // dark current activation temperature, K
	Gain float64 `yaml:"gain"` // elec/ADU
}

// Dark returns the dark level D0 * exp(-T0 / T) at CCD temperature T.
func (c CameraCoefficients) Dark(T float64) float64 {
	return c.D0 * math.Exp(-c.T0/T)
}

// Coefficients maps camera name to its calibration model.
type Coefficients map[string]CameraCoefficients

// LoadCoefficients reads a calibration YAML file of the form
//
//	CIN: {bias: 1000.0, D0: 1.0e9, T0: 7000.0, gain: 1.64}
func LoadCoefficients(path string) (Coefficients, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	return ParseCoefficients(data)
}

// ParseCoefficients decodes calibration YAML.
func ParseCoefficients(data []byte) (Coefficients, error) {
	var c Coefficients
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse calibration YAML: %w", err)
	}
	if len(c) == 0 {
		return nil, fmt.Errorf("calibration file lists no cameras")
	}
	return c, nil
}
