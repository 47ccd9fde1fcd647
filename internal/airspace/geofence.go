package airspace

import (
	"github.com/paulmach/orb"

	"github.com/potomac-data/airspace.report/internal/feed"
	"github.com/potomac-data/airspace.report/internal/geo"
)

// AltitudeCeilingFt is the classification ceiling for SFRA, FRZ, and P-56.
// Exact equality passes; a missing altitude is excluded.
const AltitudeCeilingFt = 17999.0

// GeofenceMatch pairs a matched observation with the feature it hit and its
// DCA radial/range annotation.
type GeofenceMatch struct {
	Aircraft     feed.Pilot             `json:"aircraft"`
	MatchedProps map[string]interface{} `json:"matched_props"`
	DCA          geo.RadialRange        `json:"dca"`
}

// Geofence classifies aircraft against a polygon set. maxAltitudeFt, when
// non-nil, excludes observations with a missing altitude or one strictly
// above the ceiling. Each aircraft matches at most once, in the set's load
// order; the R-tree narrows candidates when the set carries one.
func Geofence(aircraft []feed.Pilot, set *geo.Set, maxAltitudeFt *float64) []GeofenceMatch {
	if set.Len() == 0 {
		return nil
	}

	features := set.Features()
	var matches []GeofenceMatch
	for _, a := range aircraft {
		if !a.HasPosition() {
			continue
		}
		if maxAltitudeFt != nil {
			if !a.Altitude.OK || a.Altitude.Val > *maxAltitudeFt {
				continue
			}
		}

		pt := orb.Point{a.Longitude.Val, a.Latitude.Val}
		for _, i := range set.Candidates(pt) {
			f := features[i]
			if !f.Contains(pt) {
				continue
			}
			matches = append(matches, GeofenceMatch{
				Aircraft:     a,
				MatchedProps: f.Props,
				DCA:          geo.DCARadialRange(a.Latitude.Val, a.Longitude.Val),
			})
			break
		}
	}
	return matches
}
