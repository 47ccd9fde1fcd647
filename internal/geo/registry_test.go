package geo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/potomac-data/airspace.report/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func writeGeoFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const squareFeature = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"name": "P-56A"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-77.05, 38.88], [-77.02, 38.88], [-77.02, 38.90], [-77.05, 38.90], [-77.05, 38.88]]]
      }
    },
    {
      "type": "Feature",
      "properties": {"name": "P-56B"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-77.08, 38.92], [-77.06, 38.92], [-77.06, 38.93], [-77.08, 38.93], [-77.08, 38.92]]]
      }
    }
  ]
}`

func TestLoadRegistryAndFind(t *testing.T) {
	dir := t.TempDir()
	writeGeoFile(t, dir, "P56.geojson", squareFeature)
	writeGeoFile(t, dir, "sfra.geojson", `{
	  "type": "FeatureCollection",
	  "features": [{
	    "type": "Feature",
	    "properties": {"name": "DC SFRA"},
	    "geometry": {"type": "Polygon", "coordinates": [[[-78, 38], [-76, 38], [-76, 40], [-78, 40], [-78, 38]]]}
	  }]
	}`)

	reg, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	set, ok := reg.Find("p56")
	if !ok {
		t.Fatal("expected p56 keyword to resolve")
	}
	if set.Len() != 2 {
		t.Fatalf("p56 set has %d features, want 2", set.Len())
	}
	if set.Features()[0].Name() != "P-56A" || set.Features()[1].Name() != "P-56B" {
		t.Errorf("feature order not preserved: %s, %s",
			set.Features()[0].Name(), set.Features()[1].Name())
	}

	if _, ok := reg.Find("frz"); ok {
		t.Error("unknown keyword should be a distinguished miss")
	}
}

func TestFindIsCaseInsensitiveSubstring(t *testing.T) {
	dir := t.TempDir()
	writeGeoFile(t, dir, "DC_SFRA_ring.geojson", `{
	  "type": "FeatureCollection",
	  "features": [{
	    "type": "Feature",
	    "properties": {},
	    "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}
	  }]
	}`)

	reg, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if _, ok := reg.Find("SFRA"); !ok {
		t.Error("keyword match should be case-insensitive and substring-based")
	}
}

func TestLoadRegistrySkipsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeGeoFile(t, dir, "broken.geojson", `{not json`)
	writeGeoFile(t, dir, "p56.geojson", squareFeature)

	reg, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if got := len(reg.Keys()); got != 1 {
		t.Errorf("registry has %d keys, want 1 (broken file skipped)", got)
	}
}

func TestLoadRegistryRepairsInvalidRing(t *testing.T) {
	dir := t.TempDir()
	// Open ring with a duplicate vertex; repairable by closing.
	writeGeoFile(t, dir, "frz.geojson", `{
	  "type": "FeatureCollection",
	  "features": [{
	    "type": "Feature",
	    "properties": {"name": "FRZ"},
	    "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,0],[2,2],[0,2]]]}
	  }]
	}`)

	reg, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	set, ok := reg.Find("frz")
	if !ok || set.Len() != 1 {
		t.Fatal("repaired feature should be present")
	}
	if !set.Features()[0].Contains(orb.Point{1, 1}) {
		t.Error("repaired polygon lost its interior")
	}
}

func TestLoadRegistryDropsUnrepairableFeature(t *testing.T) {
	dir := t.TempDir()
	writeGeoFile(t, dir, "bad_zone.geojson", `{
	  "type": "FeatureCollection",
	  "features": [{
	    "type": "Feature",
	    "properties": {"name": "bowtie"},
	    "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,1],[1,0],[0,1],[0,0]]]}
	  }]
	}`)

	reg, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	set, ok := reg.Find("bad_zone")
	if !ok {
		t.Fatal("key should exist even when all features dropped")
	}
	if set.Len() != 0 {
		t.Errorf("unrepairable feature retained: %d features", set.Len())
	}
}

func TestFindUnionPreservesLoadOrder(t *testing.T) {
	dir := t.TempDir()
	writeGeoFile(t, dir, "p56_inner.geojson", squareFeature)
	writeGeoFile(t, dir, "p56_outer.geojson", `{
	  "type": "FeatureCollection",
	  "features": [{
	    "type": "Feature",
	    "properties": {"name": "P-56 buffer"},
	    "geometry": {"type": "Polygon", "coordinates": [[[-77.1, 38.85], [-77.0, 38.85], [-77.0, 38.95], [-77.1, 38.95], [-77.1, 38.85]]]}
	  }]
	}`)

	reg, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	set, ok := reg.Find("p56")
	if !ok {
		t.Fatal("expected union match")
	}
	if set.Len() != 3 {
		t.Fatalf("union has %d features, want 3", set.Len())
	}
}

func TestSetCandidatesNarrowing(t *testing.T) {
	dir := t.TempDir()
	writeGeoFile(t, dir, "p56.geojson", squareFeature)
	reg, err := LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	set, _ := reg.Find("p56")

	// Inside P-56A's envelope only.
	cands := set.Candidates(orb.Point{-77.03, 38.89})
	if len(cands) != 1 || cands[0] != 0 {
		t.Errorf("candidates = %v, want [0]", cands)
	}

	// Far from both envelopes.
	if cands := set.Candidates(orb.Point{-70, 45}); len(cands) != 0 {
		t.Errorf("candidates = %v, want none", cands)
	}

	// A segment spanning both features.
	cands = set.SegmentCandidates(orb.Point{-77.09, 38.87}, orb.Point{-77.01, 38.94})
	if len(cands) != 2 {
		t.Errorf("segment candidates = %v, want both features", cands)
	}
}
