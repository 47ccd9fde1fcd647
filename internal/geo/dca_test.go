package geo

import (
	"math"
	"strings"
	"testing"
)

func TestDCARadialRangeAtBullseye(t *testing.T) {
	rr := DCARadialRange(DCALat, DCALon)
	if rr.RangeNM != 0 {
		t.Errorf("range at bullseye = %v, want 0", rr.RangeNM)
	}
	if !strings.HasSuffix(rr.RadialRange, "000") {
		t.Errorf("compact form = %q, want 000 range", rr.RadialRange)
	}
}

func TestDCARadialRangeDueNorth(t *testing.T) {
	// One degree of latitude due north of the field is ~60 NM on the 360.
	rr := DCARadialRange(DCALat+1.0, DCALon)
	if rr.Bearing != 0 {
		t.Errorf("bearing = %d, want 0", rr.Bearing)
	}
	if rr.RangeNM < 59 || rr.RangeNM > 61 {
		t.Errorf("range = %v NM, want ~60", rr.RangeNM)
	}
	if rr.RadialRange != "DCA000060" {
		t.Errorf("compact form = %q, want DCA000060", rr.RadialRange)
	}
}

func TestDCARadialRangeQuadrants(t *testing.T) {
	cases := []struct {
		name         string
		dLat, dLon   float64
		bearingLow   int
		bearingHigh  int
	}{
		{"northeast", 0.5, 0.5, 1, 89},
		{"southeast", -0.5, 0.5, 91, 179},
		{"southwest", -0.5, -0.5, 181, 269},
		{"northwest", 0.5, -0.5, 271, 359},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := DCARadialRange(DCALat+tc.dLat, DCALon+tc.dLon)
			if rr.Bearing < tc.bearingLow || rr.Bearing > tc.bearingHigh {
				t.Errorf("bearing = %d, want in [%d, %d]", rr.Bearing, tc.bearingLow, tc.bearingHigh)
			}
		})
	}
}

func TestBearingStableUnderLongitudeWrap(t *testing.T) {
	lat, lon := 39.2, -76.5
	b1, r1 := BearingRangeNM(DCALat, DCALon, lat, lon)
	b2, r2 := BearingRangeNM(DCALat, DCALon, lat, lon+360)
	if b1 != b2 {
		t.Errorf("bearing differs under wrap: %v vs %v", b1, b2)
	}
	if r1 != r2 {
		t.Errorf("range differs under wrap: %v vs %v", r1, r2)
	}
}

func TestDCARangeNMMatchesRadialRange(t *testing.T) {
	lat, lon := 38.95, -77.45
	d := DCARangeNM(lat, lon)
	rr := DCARadialRange(lat, lon)
	if math.Abs(d-rr.RangeNM) > 0.06 {
		t.Errorf("DCARangeNM = %v, RadialRange.RangeNM = %v", d, rr.RangeNM)
	}
}

func TestCompactFormZeroPadding(t *testing.T) {
	// A point a handful of miles east should pad both fields to three digits.
	rr := DCARadialRange(DCALat, DCALon+0.1)
	if len(rr.RadialRange) != len("DCA")+6 {
		t.Errorf("compact form %q has wrong width", rr.RadialRange)
	}
}
