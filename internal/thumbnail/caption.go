package thumbnail

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/ci.report/internal/camera"
	"github.com/banshee-data/ci.report/internal/units"
)

const maxProgram = 25

// Caption returns the metadata lines drawn over a thumbnail: exposure id,
// night, local start time and exposure time; flavor and program; pointing;
// mount hour angle, elevation and azimuth.
func Caption(hdr camera.Header, loc *time.Location) ([]string, error) {
	ints := map[string]int64{}
	for _, k := range []string{"EXPID", "NIGHT"} {
		v, ok := hdr.Int(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s", camera.ErrMissingHeaderField, k)
		}
		ints[k] = v
	}
	nums := map[string]float64{}
	for _, k := range []string{"MJD-OBS", "EXPTIME", "SKYRA", "SKYDEC", "MOUNTHA", "MOUNTEL", "MOUNTAZ"} {
		v, ok := hdr.Float(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s", camera.ErrMissingHeaderField, k)
		}
		nums[k] = v
	}
	strs := map[string]string{}
	for _, k := range []string{"FLAVOR", "PROGRAM"} {
		v, ok := hdr.String(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s", camera.ErrMissingHeaderField, k)
		}
		strs[k] = v
	}
	if loc == nil {
		var err error
		if loc, err = units.LoadLocation(""); err != nil {
			return nil, err
		}
	}

	local := units.FromMJD(nums["MJD-OBS"]).In(loc)
	program := []rune(strings.TrimSpace(strs["PROGRAM"]))
	if len(program) > maxProgram {
		program = program[:maxProgram]
	}
	return []string{
		fmt.Sprintf("#%d %d %s+%.0fs", ints["EXPID"], ints["NIGHT"], local.Format("15:04:05"), nums["EXPTIME"]),
		fmt.Sprintf("%s:%s", strings.TrimSpace(strs["FLAVOR"]), string(program)),
		fmt.Sprintf("RA %9.5f DEC %9.5f", nums["SKYRA"], nums["SKYDEC"]),
		fmt.Sprintf("HA %6.2f EL %5.1f AZ %5.1f", nums["MOUNTHA"], nums["MOUNTEL"], nums["MOUNTAZ"]),
	}, nil
}
