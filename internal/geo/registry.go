// Package geo loads the special-use airspace polygon sets and answers the
// point and segment queries the classification engine runs every tick.
package geo

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tidwall/rtree"

	"github.com/potomac-data/airspace.report/internal/monitoring"
)

// Feature is one loaded geometry plus its GeoJSON property bag.
type Feature struct {
	Geom      orb.Geometry
	Props     map[string]interface{}
	Tolerance float64 // match distance in degrees for line geometries
}

// Name returns the feature's display name: the "name" property, then "id",
// then "unnamed".
func (f *Feature) Name() string {
	for _, key := range []string{"name", "id"} {
		if v, ok := f.Props[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return "unnamed"
}

// Contains reports whether the point is inside or on the feature.
func (f *Feature) Contains(p orb.Point) bool {
	return GeometryContains(f.Geom, p, f.Tolerance)
}

// IntersectsSegment reports whether the straight segment ab touches the
// feature.
func (f *Feature) IntersectsSegment(a, b orb.Point) bool {
	return GeometryIntersectsSegment(f.Geom, a, b)
}

// Set is an ordered collection of features sharing a registry key, with an
// R-tree over feature envelopes for candidate narrowing. Single-feature sets
// skip the index; the exact test is just as fast.
type Set struct {
	features []*Feature
	index    *rtree.RTreeG[int]
}

func newSet(features []*Feature) *Set {
	s := &Set{features: features}
	if len(features) > 1 {
		tr := &rtree.RTreeG[int]{}
		for i, f := range features {
			bound := f.Geom.Bound()
			pad := f.Tolerance
			tr.Insert(
				[2]float64{bound.Min[0] - pad, bound.Min[1] - pad},
				[2]float64{bound.Max[0] + pad, bound.Max[1] + pad},
				i,
			)
		}
		s.index = tr
	}
	return s
}

// Features returns the set's features in load order.
func (s *Set) Features() []*Feature {
	if s == nil {
		return nil
	}
	return s.features
}

// Len returns the number of features in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.features)
}

// Candidates returns, in load order, the indices of features whose envelope
// contains the point. Without an index every feature is a candidate.
func (s *Set) Candidates(p orb.Point) []int {
	return s.searchEnvelope([2]float64{p[0], p[1]}, [2]float64{p[0], p[1]})
}

// SegmentCandidates returns, in load order, the indices of features whose
// envelope overlaps the segment's bounding box.
func (s *Set) SegmentCandidates(a, b orb.Point) []int {
	min := [2]float64{math.Min(a[0], b[0]), math.Min(a[1], b[1])}
	max := [2]float64{math.Max(a[0], b[0]), math.Max(a[1], b[1])}
	return s.searchEnvelope(min, max)
}

func (s *Set) searchEnvelope(min, max [2]float64) []int {
	if s == nil || len(s.features) == 0 {
		return nil
	}
	if s.index == nil {
		out := make([]int, len(s.features))
		for i := range s.features {
			out[i] = i
		}
		return out
	}
	var out []int
	s.index.Search(min, max, func(_, _ [2]float64, i int) bool {
		out = append(out, i)
		return true
	})
	// R-tree traversal order is not load order; matches must be.
	sort.Ints(out)
	return out
}

// Registry holds every polygon set loaded from the geo directory, keyed by
// lowercased filename stem. It is immutable after LoadRegistry returns.
type Registry struct {
	keys []string // load order
	sets map[string][]*Feature
}

// LoadRegistry reads every .geojson and .json file in dir. Unreadable or
// malformed files are skipped with a warning; invalid geometries are repaired
// once or dropped.
func LoadRegistry(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read geo directory %s: %w", dir, err)
	}

	r := &Registry{sets: make(map[string][]*Feature)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".geojson" && ext != ".json" {
			continue
		}
		key := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
		path := filepath.Join(dir, name)

		features, err := loadFeatureFile(path)
		if err != nil {
			monitoring.Logf("geo: skipping %s: %v", name, err)
			continue
		}
		if _, seen := r.sets[key]; !seen {
			r.keys = append(r.keys, key)
		}
		r.sets[key] = append(r.sets[key], features...)
	}
	return r, nil
}

func loadFeatureFile(path string) ([]*Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rawFeatures []*geojson.Feature
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		rawFeatures = fc.Features
	} else if g, err := geojson.UnmarshalGeometry(data); err == nil {
		// Bare geometry file with no properties.
		rawFeatures = []*geojson.Feature{geojson.NewFeature(g.Geometry())}
	} else {
		return nil, fmt.Errorf("not a feature collection or geometry: %w", err)
	}

	features := make([]*Feature, 0, len(rawFeatures))
	for _, rf := range rawFeatures {
		if rf.Geometry == nil {
			continue
		}
		geom := rf.Geometry
		if err := ValidateGeometry(geom); err != nil {
			repaired, repairErr := RepairGeometry(geom)
			if repairErr != nil {
				monitoring.Logf("geo: dropping invalid feature in %s: %v (repair: %v)",
					filepath.Base(path), err, repairErr)
				continue
			}
			monitoring.Logf("geo: repaired invalid geometry in %s (%v)", filepath.Base(path), err)
			geom = repaired
		}

		props := map[string]interface{}(rf.Properties)
		if props == nil {
			props = map[string]interface{}{}
		}
		f := &Feature{Geom: geom, Props: props, Tolerance: DefaultLineTolerance}
		if tol, ok := props["tolerance"]; ok {
			if v, ok := tol.(float64); ok && v > 0 {
				f.Tolerance = v
			}
		}
		features = append(features, f)
	}
	return features, nil
}

// Find returns the union of every feature set whose key contains the keyword
// (case-insensitive), preserving load order. The second return distinguishes
// "no such keyword" from a matching but empty set.
func (r *Registry) Find(keyword string) (*Set, bool) {
	k := strings.ToLower(keyword)
	var features []*Feature
	found := false
	for _, key := range r.keys {
		if strings.Contains(key, k) {
			found = true
			features = append(features, r.sets[key]...)
		}
	}
	if !found {
		return nil, false
	}
	return newSet(features), true
}

// Keys returns the loaded registry keys in load order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}
