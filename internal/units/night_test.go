package units

import (
	"math"
	"testing"
	"time"
)

func TestParseNight(t *testing.T) {
	tests := []struct {
		night   int
		wantErr bool
	}{
		{20190401, false},
		{20190229, true},
		{2019041, true},
		{201904011, true},
	}
	for _, tt := range tests {
		_, err := ParseNight(tt.night)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseNight(%d) err = %v, wantErr %v", tt.night, err, tt.wantErr)
		}
	}
}

func TestNightWindow(t *testing.T) {
	loc, err := LoadLocation(DefaultTimezone)
	if err != nil {
		t.Fatal(err)
	}
	start, end, err := NightWindow(20190331, loc)
	if err != nil {
		t.Fatalf("NightWindow: %v", err)
	}
	wantStart := time.Date(2019, 3, 31, 19, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2019, 4, 1, 19, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) || !end.Equal(wantEnd) {
		t.Fatalf("NightWindow = [%v, %v), want [%v, %v)", start, end, wantStart, wantEnd)
	}
}

func TestToMJD_FarFromEpoch(t *testing.T) {
	tests := []struct {
		at   time.Time
		want float64
	}{
		{MJDEpoch, 0},
		{time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC), 124593},
		{time.Date(2200, 1, 1, 12, 0, 0, 0, time.UTC), 124593.5},
		{time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC), -131077},
	}
	for _, tt := range tests {
		if got := ToMJD(tt.at); got != tt.want {
			t.Errorf("ToMJD(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestMJDRoundTrip(t *testing.T) {
	if got := ToMJD(time.Date(2019, 4, 1, 0, 0, 0, 0, time.UTC)); got != 58574 {
		t.Fatalf("ToMJD(2019-04-01) = %v, want 58574", got)
	}

	noon := time.Date(2019, 4, 1, 19, 0, 0, 0, time.UTC)
	mjd := ToMJD(noon)
	if math.Abs(mjd-(58574+19.0/24)) > 1e-9 {
		t.Fatalf("ToMJD(noon) = %v", mjd)
	}
	if back := FromMJD(mjd); !back.Equal(noon) {
		t.Fatalf("FromMJD(ToMJD(noon)) = %v, want %v", back, noon)
	}
}
