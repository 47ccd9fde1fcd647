package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/potomac-data/airspace.report/internal/monitoring"
)

// TrackPoint is one entry in an aircraft's recent-position ring.
type TrackPoint struct {
	TS          float64  `json:"ts"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Alt         *float64 `json:"alt"`
	Groundspeed *float64 `json:"gs"`
	Heading     *float64 `json:"heading"`
	Callsign    string   `json:"callsign"`
}

// trackFile is the on-disk shape of aircraft_history.json.
type trackFile struct {
	History map[string][]TrackPoint `json:"history"`
}

// TrackStore holds a bounded recent-position ring per aircraft, scoped to
// the in-range set. The file is loaded once at startup and mutated in
// memory; Flush coalesces all mutations since the last flush into a single
// tmp-and-rename write.
type TrackStore struct {
	mu       sync.RWMutex
	path     string
	ringSize int
	history  map[string][]TrackPoint
	dirty    bool
}

// OpenTrackStore loads the ring file at path, tolerating a missing or
// corrupt file by starting empty. ringSize <= 0 defaults to 10.
func OpenTrackStore(path string, ringSize int) (*TrackStore, error) {
	if ringSize <= 0 {
		ringSize = 10
	}
	t := &TrackStore{
		path:     path,
		ringSize: ringSize,
		history:  make(map[string][]TrackPoint),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read track history %s: %w", path, err)
	}
	var file trackFile
	if err := json.Unmarshal(data, &file); err != nil {
		monitoring.Logf("store: track history %s unreadable, starting empty: %v", path, err)
		return t, nil
	}
	if file.History != nil {
		t.history = file.History
	}
	return t, nil
}

// UpdateBatch atomically evicts every CID absent from allowed and appends the
// provided point to each listed CID's ring, oldest point displaced when the
// ring is full.
func (t *TrackStore) UpdateBatch(updates map[string]TrackPoint, allowed map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for cid := range t.history {
		if !allowed[cid] {
			delete(t.history, cid)
			t.dirty = true
		}
	}

	for cid, point := range updates {
		if !allowed[cid] {
			continue
		}
		ring := append(t.history[cid], point)
		if len(ring) > t.ringSize {
			ring = ring[len(ring)-t.ringSize:]
		}
		t.history[cid] = ring
		t.dirty = true
	}
}

// Get returns the most recent limit points for a CID, oldest first.
// limit <= 0 returns the whole ring.
func (t *TrackStore) Get(cid string, limit int) []TrackPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ring := t.history[cid]
	if limit > 0 && len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	out := make([]TrackPoint, len(ring))
	copy(out, ring)
	return out
}

// GetAll returns a deep copy of every ring, oldest first per CID.
func (t *TrackStore) GetAll() map[string][]TrackPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]TrackPoint, len(t.history))
	for cid, ring := range t.history {
		points := make([]TrackPoint, len(ring))
		copy(points, ring)
		out[cid] = points
	}
	return out
}

// Len returns the number of tracked CIDs.
func (t *TrackStore) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history)
}

// Flush writes the rings to disk when anything changed since the last flush.
// The write is tmp-file-and-rename so readers of the file never observe a
// partial document.
func (t *TrackStore) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return nil
	}
	data, err := json.MarshalIndent(trackFile{History: t.history}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal track history: %w", err)
	}
	if err := AtomicWriteFile(t.path, data); err != nil {
		return fmt.Errorf("write track history: %w", err)
	}
	t.dirty = false
	return nil
}

// AtomicWriteFile writes data to path via a temp file in the same directory
// followed by a rename.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
