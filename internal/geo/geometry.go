package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// DefaultLineTolerance is the match distance, in degrees, for line features
// that do not declare their own tolerance property.
const DefaultLineTolerance = 0.001

// cross returns the z component of (q-p) x (r-p). Zero means collinear.
func cross(p, q, r orb.Point) float64 {
	return (q[0]-p[0])*(r[1]-p[1]) - (q[1]-p[1])*(r[0]-p[0])
}

// onSegment reports whether collinear point r lies on segment pq.
func onSegment(p, q, r orb.Point) bool {
	return math.Min(p[0], q[0]) <= r[0] && r[0] <= math.Max(p[0], q[0]) &&
		math.Min(p[1], q[1]) <= r[1] && r[1] <= math.Max(p[1], q[1])
}

// segmentsIntersect reports whether segments ab and cd share any point,
// including endpoint touches and collinear overlap. A segment tangent to a
// polygon edge therefore counts as intersecting.
func segmentsIntersect(a, b, c, d orb.Point) bool {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(c, d, a) {
		return true
	}
	if d2 == 0 && onSegment(c, d, b) {
		return true
	}
	if d3 == 0 && onSegment(a, b, c) {
		return true
	}
	if d4 == 0 && onSegment(a, b, d) {
		return true
	}
	return false
}

// pointSegmentDistance returns the planar distance from p to segment ab,
// in the same (degree) units as the coordinates.
func pointSegmentDistance(p, a, b orb.Point) float64 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p[0]-(a[0]+t*dx), p[1]-(a[1]+t*dy))
}

// pointOnRing reports whether p lies exactly on one of the ring's edges.
func pointOnRing(ring orb.Ring, p orb.Point) bool {
	for i := 1; i < len(ring); i++ {
		a, b := ring[i-1], ring[i]
		if cross(a, b, p) == 0 && onSegment(a, b, p) {
			return true
		}
	}
	return false
}

func polygonContains(poly orb.Polygon, p orb.Point) bool {
	// Contains-or-touches: a point exactly on any ring boundary is inside,
	// even when it sits on a hole edge.
	for _, ring := range poly {
		if pointOnRing(ring, p) {
			return true
		}
	}
	return planar.PolygonContains(poly, p)
}

// GeometryContains reports whether the point is inside or on the geometry.
// Line and point geometries match within tolerance degrees.
func GeometryContains(g orb.Geometry, p orb.Point, tolerance float64) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return polygonContains(geom, p)
	case orb.MultiPolygon:
		for _, poly := range geom {
			if polygonContains(poly, p) {
				return true
			}
		}
		return false
	case orb.LineString:
		for i := 1; i < len(geom); i++ {
			if pointSegmentDistance(p, geom[i-1], geom[i]) <= tolerance {
				return true
			}
		}
		return false
	case orb.MultiLineString:
		for _, ls := range geom {
			if GeometryContains(ls, p, tolerance) {
				return true
			}
		}
		return false
	case orb.Point:
		return math.Hypot(geom[0]-p[0], geom[1]-p[1]) <= tolerance
	case orb.Ring:
		return polygonContains(orb.Polygon{geom}, p)
	default:
		return false
	}
}

func ringIntersectsSegment(ring orb.Ring, a, b orb.Point) bool {
	for i := 1; i < len(ring); i++ {
		if segmentsIntersect(a, b, ring[i-1], ring[i]) {
			return true
		}
	}
	return false
}

func polygonIntersectsSegment(poly orb.Polygon, a, b orb.Point) bool {
	// A segment fully inside the polygon never touches an edge, so test an
	// endpoint for containment as well.
	if polygonContains(poly, a) || polygonContains(poly, b) {
		return true
	}
	for _, ring := range poly {
		if ringIntersectsSegment(ring, a, b) {
			return true
		}
	}
	return false
}

// GeometryIntersectsSegment reports whether the straight segment ab touches
// the geometry anywhere. Used by the intrusion detector to catch an aircraft
// that clipped a zone between two snapshots.
func GeometryIntersectsSegment(g orb.Geometry, a, b orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return polygonIntersectsSegment(geom, a, b)
	case orb.MultiPolygon:
		for _, poly := range geom {
			if polygonIntersectsSegment(poly, a, b) {
				return true
			}
		}
		return false
	case orb.LineString:
		for i := 1; i < len(geom); i++ {
			if segmentsIntersect(a, b, geom[i-1], geom[i]) {
				return true
			}
		}
		return false
	case orb.MultiLineString:
		for _, ls := range geom {
			if GeometryIntersectsSegment(ls, a, b) {
				return true
			}
		}
		return false
	case orb.Point:
		return cross(a, b, geom) == 0 && onSegment(a, b, geom)
	case orb.Ring:
		return polygonIntersectsSegment(orb.Polygon{geom}, a, b)
	default:
		return false
	}
}

// ringSelfIntersects reports whether any two non-adjacent edges of the ring
// cross. Shared endpoints between adjacent edges are expected and ignored.
func ringSelfIntersects(ring orb.Ring) bool {
	n := len(ring) - 1 // edges
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			// The last edge is adjacent to the first.
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

func validatePolygon(poly orb.Polygon) error {
	for _, ring := range poly {
		if len(ring) < 4 {
			return fmt.Errorf("ring has %d points, need at least 4", len(ring))
		}
		if ring[0] != ring[len(ring)-1] {
			return fmt.Errorf("ring is not closed")
		}
		if ringSelfIntersects(ring) {
			return fmt.Errorf("ring self-intersects")
		}
	}
	return nil
}

// ValidateGeometry checks polygon geometries for the invalidity classes the
// loader repairs: open rings, degenerate rings, self-intersections.
func ValidateGeometry(g orb.Geometry) error {
	switch geom := g.(type) {
	case orb.Polygon:
		return validatePolygon(geom)
	case orb.MultiPolygon:
		for _, poly := range geom {
			if err := validatePolygon(poly); err != nil {
				return err
			}
		}
		return nil
	default:
		// Line and point features carry no ring constraints.
		return nil
	}
}

func repairRing(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(ring))
	for _, p := range ring {
		if len(out) > 0 && out[len(out)-1] == p {
			continue // drop duplicate consecutive vertices
		}
		out = append(out, p)
	}
	if len(out) > 0 && out[0] != out[len(out)-1] {
		out = append(out, out[0])
	}
	return out
}

// RepairGeometry attempts a conservative repair of an invalid polygon:
// duplicate-vertex removal and ring closing. It returns an error when the
// result still fails validation, in which case the caller drops the feature.
func RepairGeometry(g orb.Geometry) (orb.Geometry, error) {
	switch geom := g.(type) {
	case orb.Polygon:
		repaired := make(orb.Polygon, len(geom))
		for i, ring := range geom {
			repaired[i] = repairRing(ring)
		}
		if err := validatePolygon(repaired); err != nil {
			return nil, err
		}
		return repaired, nil
	case orb.MultiPolygon:
		repaired := make(orb.MultiPolygon, len(geom))
		for i, poly := range geom {
			fixed, err := RepairGeometry(poly)
			if err != nil {
				return nil, err
			}
			repaired[i] = fixed.(orb.Polygon)
		}
		return repaired, nil
	default:
		return g, nil
	}
}
