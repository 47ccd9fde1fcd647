package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func point(ts float64, callsign string) TrackPoint {
	return TrackPoint{TS: ts, Lat: 38.8, Lon: -77.0, Callsign: callsign}
}

func TestUpdateBatchAppendsAndEvicts(t *testing.T) {
	ts, err := OpenTrackStore(filepath.Join(t.TempDir(), "aircraft_history.json"), 10)
	if err != nil {
		t.Fatalf("OpenTrackStore: %v", err)
	}

	allowed := map[string]bool{"100": true, "200": true}
	ts.UpdateBatch(map[string]TrackPoint{
		"100": point(1, "A"),
		"200": point(1, "B"),
	}, allowed)
	if ts.Len() != 2 {
		t.Fatalf("tracked CIDs = %d, want 2", ts.Len())
	}

	// CID 200 left the in-range set: evicted even without an update for it
	allowed = map[string]bool{"100": true}
	ts.UpdateBatch(map[string]TrackPoint{"100": point(2, "A")}, allowed)
	if got := ts.Get("200", 0); len(got) != 0 {
		t.Errorf("evicted CID still has %d points", len(got))
	}
	if got := ts.Get("100", 0); len(got) != 2 || got[0].TS != 1 || got[1].TS != 2 {
		t.Errorf("ring for 100 = %+v, want ts 1 then 2", got)
	}

	// an update for a CID outside the allowed set is dropped
	ts.UpdateBatch(map[string]TrackPoint{"999": point(3, "X")}, allowed)
	if got := ts.Get("999", 0); len(got) != 0 {
		t.Errorf("disallowed CID was stored")
	}
}

func TestRingCapDisplacesOldest(t *testing.T) {
	ts, err := OpenTrackStore(filepath.Join(t.TempDir(), "h.json"), 3)
	if err != nil {
		t.Fatalf("OpenTrackStore: %v", err)
	}
	allowed := map[string]bool{"1": true}
	for i := 1; i <= 5; i++ {
		ts.UpdateBatch(map[string]TrackPoint{"1": point(float64(i), "A")}, allowed)
	}
	got := ts.Get("1", 0)
	if len(got) != 3 {
		t.Fatalf("ring length = %d, want 3", len(got))
	}
	if got[0].TS != 3 || got[2].TS != 5 {
		t.Errorf("ring = %+v, want ts 3..5 oldest first", got)
	}

	if limited := ts.Get("1", 2); len(limited) != 2 || limited[0].TS != 4 {
		t.Errorf("limited get = %+v, want newest 2", limited)
	}
}

func TestFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	ts, err := OpenTrackStore(path, 10)
	if err != nil {
		t.Fatalf("OpenTrackStore: %v", err)
	}

	// nothing dirty: no file written
	if err := ts.Flush(); err != nil {
		t.Fatalf("clean flush: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("clean flush created a file")
	}

	allowed := map[string]bool{"42": true}
	ts.UpdateBatch(map[string]TrackPoint{"42": point(7, "N42")}, allowed)
	if err := ts.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	reloaded, err := OpenTrackStore(path, 10)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if diff := cmp.Diff(ts.GetAll(), reloaded.GetAll()); diff != "" {
		t.Errorf("reloaded history mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenTrackStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.json")
	if err := os.WriteFile(path, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts, err := OpenTrackStore(path, 10)
	if err != nil {
		t.Fatalf("OpenTrackStore on corrupt file: %v", err)
	}
	if ts.Len() != 0 {
		t.Errorf("corrupt file produced %d tracks", ts.Len())
	}
}

func TestGetAllIsDeepCopy(t *testing.T) {
	ts, err := OpenTrackStore(filepath.Join(t.TempDir(), "h.json"), 10)
	if err != nil {
		t.Fatal(err)
	}
	allowed := map[string]bool{"1": true}
	ts.UpdateBatch(map[string]TrackPoint{"1": point(1, "A")}, allowed)

	snap := ts.GetAll()
	snap["1"][0].Callsign = "MUTATED"
	if got := ts.Get("1", 0); got[0].Callsign != "A" {
		t.Error("GetAll leaked internal state")
	}
}
