package geo

import (
	"fmt"
	"math"
)

// DCA bullseye: the fixed reference point for radial/range annotations.
const (
	DCALat = 38.8514403
	DCALon = -77.0377214
)

const (
	earthRadiusKm     = 6371.0
	kmPerNauticalMile = 1.852
)

// RadialRange is a bearing/distance annotation relative to the DCA bullseye.
// The compact form reads like a pilot report: DCA280010 is the 280 radial at
// 10 nautical miles.
type RadialRange struct {
	RadialRange string  `json:"radial_range"`
	Bearing     int     `json:"bearing"`
	RangeNM     float64 `json:"range_nm"`
}

// normalizeLon folds a longitude into [-180, 180) so wrapped inputs produce
// bit-identical results.
func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// BearingRangeNM returns the initial great-circle bearing (degrees true) and
// haversine distance (nautical miles) from (lat1,lon1) to (lat2,lon2).
func BearingRangeNM(lat1, lon1, lat2, lon2 float64) (bearing, rangeNM float64) {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := normalizeLon(lon1) * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := normalizeLon(lon2) * math.Pi / 180

	dlon := rlon2 - rlon1

	x := math.Sin(dlon) * math.Cos(rlat2)
	y := math.Cos(rlat1)*math.Sin(rlat2) - math.Sin(rlat1)*math.Cos(rlat2)*math.Cos(dlon)
	bearing = math.Atan2(x, y) * 180 / math.Pi
	bearing = math.Mod(bearing+360, 360)

	a := math.Pow(math.Sin((rlat2-rlat1)/2), 2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(math.Max(0, 1-a)))
	rangeNM = earthRadiusKm * c / kmPerNauticalMile
	return bearing, rangeNM
}

// DCARadialRange annotates a position with its bearing and range from the
// DCA bullseye.
func DCARadialRange(lat, lon float64) RadialRange {
	bearing, rangeNM := BearingRangeNM(DCALat, DCALon, lat, lon)

	bearingInt := int(math.Round(bearing)) % 360
	rangeInt := int(math.Round(rangeNM))
	return RadialRange{
		RadialRange: fmt.Sprintf("DCA%03d%03d", bearingInt, rangeInt),
		Bearing:     bearingInt,
		RangeNM:     math.Round(rangeNM*10) / 10,
	}
}

// DCARangeNM returns only the distance from the bullseye, used by the trim
// radius filter on every aircraft each tick.
func DCARangeNM(lat, lon float64) float64 {
	_, rangeNM := BearingRangeNM(DCALat, DCALon, lat, lon)
	return rangeNM
}
