package airspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/potomac-data/airspace.report/internal/feed"
	"github.com/potomac-data/airspace.report/internal/geo"
	"github.com/potomac-data/airspace.report/internal/monitoring"
	"github.com/potomac-data/airspace.report/internal/store"
)

func init() {
	monitoring.SetLogger(nil)
}

// Test zones: P-56A covers the National Mall test box, P-56B a disjoint box
// to the northwest. SFRA and FRZ are concentric boxes around DCA.
const p56GeoJSON = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {"name": "P-56A"},
			"geometry": {"type": "Polygon", "coordinates": [[
				[-77.06, 38.85], [-77.01, 38.85], [-77.01, 38.92], [-77.06, 38.92], [-77.06, 38.85]
			]]}
		},
		{
			"type": "Feature",
			"properties": {"name": "P-56B"},
			"geometry": {"type": "Polygon", "coordinates": [[
				[-77.10, 38.92], [-77.08, 38.92], [-77.08, 38.94], [-77.10, 38.94], [-77.10, 38.92]
			]]}
		}
	]
}`

const sfraGeoJSON = `{
	"type": "FeatureCollection",
	"features": [{
		"type": "Feature",
		"properties": {"name": "DC SFRA"},
		"geometry": {"type": "Polygon", "coordinates": [[
			[-78.0, 38.0], [-76.0, 38.0], [-76.0, 40.0], [-78.0, 40.0], [-78.0, 38.0]
		]]}
	}]
}`

const frzGeoJSON = `{
	"type": "FeatureCollection",
	"features": [{
		"type": "Feature",
		"properties": {"name": "DC FRZ"},
		"geometry": {"type": "Polygon", "coordinates": [[
			[-77.5, 38.6], [-76.8, 38.6], [-76.8, 39.1], [-77.5, 39.1], [-77.5, 38.6]
		]]}
	}]
}`

func newTestRegistry(t *testing.T) *geo.Registry {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"p56.geojson":  p56GeoJSON,
		"sfra.geojson": sfraGeoJSON,
		"frz.geojson":  frzGeoJSON,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	r, err := geo.LoadRegistry(dir)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	return r
}

func findSet(t *testing.T, r *geo.Registry, keyword string) *geo.Set {
	t.Helper()
	set, ok := r.Find(keyword)
	if !ok {
		t.Fatalf("registry has no %q set", keyword)
	}
	return set
}

func mkPilot(cid int64, callsign string, lat, lon, alt float64) feed.Pilot {
	return feed.Pilot{
		CID:       feed.OptInt{Val: cid, OK: cid != 0},
		Callsign:  callsign,
		Latitude:  feed.OptFloat{Val: lat, OK: true},
		Longitude: feed.OptFloat{Val: lon, OK: true},
		Altitude:  feed.OptFloat{Val: alt, OK: true},
	}
}

func mkPilotNoAlt(cid int64, callsign string, lat, lon float64) feed.Pilot {
	p := mkPilot(cid, callsign, lat, lon, 0)
	p.Altitude = feed.OptFloat{}
	return p
}

// incidentLog is an in-memory IncidentWriter for tracker tests.
type incidentLog struct {
	rows []*store.Incident
	fail bool
}

func (l *incidentLog) AppendIncident(inc *store.Incident) (int64, error) {
	if l.fail {
		return 0, os.ErrPermission
	}
	l.rows = append(l.rows, inc)
	return int64(len(l.rows)), nil
}
