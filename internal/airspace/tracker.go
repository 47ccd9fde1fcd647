package airspace

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/potomac-data/airspace.report/internal/feed"
	"github.com/potomac-data/airspace.report/internal/geo"
	"github.com/potomac-data/airspace.report/internal/metrics"
	"github.com/potomac-data/airspace.report/internal/monitoring"
	"github.com/potomac-data/airspace.report/internal/store"
)

// Tracker caps.
const (
	// IntrusionTrackCap bounds an event's continuous position track.
	IntrusionTrackCap = 200
	// PrePositionCap bounds the approach track captured at detection.
	PrePositionCap = 7
	// PostExitCap bounds the positions appended after the aircraft leaves.
	PostExitCap = 5
	// minTrackSpacingSec rejects stuck updates: consecutive captured points
	// must be at least this far apart.
	minTrackSpacingSec = 1.0
)

// Position is a lat/lon pair in the durable history format.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// InsideState is the per-aircraft lifecycle flag kept alongside the event
// log in current_inside.
type InsideState struct {
	Inside         bool      `json:"inside"`
	P56Buster      bool      `json:"p56_buster"`
	OutsideCount   int       `json:"outside_count"`
	LastSeen       float64   `json:"last_seen"`
	LastPosition   *Position `json:"last_position,omitempty"`
	PostExitPoints int       `json:"post_exit_points,omitempty"`
	LastSyncTS     float64   `json:"last_sync_ts,omitempty"`
}

// IntrusionEvent is one durable P-56 intrusion record, uniquely keyed by
// (cid, recorded_at).
type IntrusionEvent struct {
	CID        string           `json:"cid"`
	Callsign   string           `json:"callsign"`
	Name       string           `json:"name,omitempty"`
	FlightPlan *feed.FlightPlan `json:"flight_plan,omitempty"`

	RecordedAt      float64  `json:"recorded_at"`
	LatestTS        float64  `json:"latest_ts"`
	ExitDetectedAt  *float64 `json:"exit_detected_at,omitempty"`
	ExitConfirmedAt *float64 `json:"exit_confirmed_at,omitempty"`

	Zones          []string   `json:"zones"`
	PrevPosition   *Position  `json:"prev_position,omitempty"`
	LatestPosition *Position  `json:"latest_position,omitempty"`
	EvidenceLine   []Position `json:"evidence_line,omitempty"`

	PrePositions       []store.TrackPoint `json:"pre_positions,omitempty"`
	IntrusionPositions []store.TrackPoint `json:"intrusion_positions"`

	Altitude    *float64 `json:"altitude,omitempty"`
	Groundspeed *float64 `json:"groundspeed,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
}

// History is the durable P-56 intrusion log: p56_history.json on disk.
type History struct {
	Events        []*IntrusionEvent       `json:"events"`
	CurrentInside map[string]*InsideState `json:"current_inside"`
}

func emptyHistory() *History {
	return &History{Events: []*IntrusionEvent{}, CurrentInside: map[string]*InsideState{}}
}

// EventKey addresses one event for selective purge.
type EventKey struct {
	CID        string  `json:"cid"`
	RecordedAt float64 `json:"recorded_at"`
}

// TickSnapshot is one snapshot's parsed aircraft list with its ingest time.
type TickSnapshot struct {
	FetchedAt float64
	Pilots    []feed.Pilot
}

// Breach is one per-tick detection, published in the p56 cache payload.
type Breach struct {
	Identifier     string      `json:"identifier"`
	Callsign       string      `json:"callsign"`
	CID            feed.OptInt `json:"cid"`
	PrevPosition   *Position   `json:"prev_position,omitempty"`
	LatestPosition Position    `json:"latest_position"`
	LatestTS       float64     `json:"latest_ts"`
	Zones          []string    `json:"zones"`
	EvidenceLine   []Position  `json:"evidence_line,omitempty"`
}

// IncidentWriter is the slice of the snapshot store the tracker appends
// detection rows to.
type IncidentWriter interface {
	AppendIncident(inc *store.Incident) (int64, error)
}

// evidence is the JSON blob stored with each incident row.
type evidence struct {
	Line     [][2]float64 `json:"line,omitempty"`
	PrevTS   *float64     `json:"prev_ts,omitempty"`
	LatestTS float64      `json:"latest_ts"`
	Zones    []string     `json:"zones"`
	RunID    string       `json:"run_id,omitempty"`
}

// Tracker turns per-snapshot P-56 geometry into a deduplicated event log
// with a continuous position track from pre-entry through confirmed exit.
// All writes arrive from the pipeline; the mutex serializes them against
// API reads and the admin purge.
type Tracker struct {
	path      string
	zones     *geo.Set
	tracks    *store.TrackStore
	incidents IncidentWriter
	metrics   *metrics.Metrics

	dedupWindowSec   float64
	exitConfirmTicks int

	mu             sync.Mutex
	history        *History
	lastIncidentAt map[string]float64
	dirty          bool
}

// NewTracker loads the event log at path, starting empty when the file is
// missing or unreadable.
func NewTracker(path string, zones *geo.Set, tracks *store.TrackStore, incidents IncidentWriter,
	m *metrics.Metrics, dedupWindowSec float64, exitConfirmTicks int) (*Tracker, error) {
	if exitConfirmTicks < 1 {
		exitConfirmTicks = 10
	}
	t := &Tracker{
		path:             path,
		zones:            zones,
		tracks:           tracks,
		incidents:        incidents,
		metrics:          m,
		dedupWindowSec:   dedupWindowSec,
		exitConfirmTicks: exitConfirmTicks,
		history:          emptyHistory(),
		lastIncidentAt:   make(map[string]float64),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read p56 history %s: %w", path, err)
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		monitoring.Logf("airspace: p56 history %s unreadable, starting empty: %v", path, err)
		return t, nil
	}
	if h.Events == nil {
		h.Events = []*IntrusionEvent{}
	}
	if h.CurrentInside == nil {
		h.CurrentInside = map[string]*InsideState{}
	}
	t.history = &h
	return t, nil
}

// eligible is one observation that passed the altitude and position filters.
type eligible struct {
	pilot feed.Pilot
	pt    orb.Point
}

// eligibleMap filters a snapshot to observations with a usable position and
// an altitude at or below the ceiling, keyed by identifier.
func eligibleMap(snap *TickSnapshot) map[string]eligible {
	out := make(map[string]eligible)
	if snap == nil {
		return out
	}
	for _, p := range snap.Pilots {
		id := p.Identifier()
		if id == "" || !p.HasPosition() {
			continue
		}
		if !p.Altitude.OK || p.Altitude.Val > AltitudeCeilingFt {
			continue
		}
		out[id] = eligible{pilot: p, pt: orb.Point{p.Longitude.Val, p.Latitude.Val}}
	}
	return out
}

// zonesContaining returns the names of zones whose shape contains or touches
// the point, in load order.
func (t *Tracker) zonesContaining(pt orb.Point) []string {
	var names []string
	features := t.zones.Features()
	for _, i := range t.zones.Candidates(pt) {
		if features[i].Contains(pt) {
			names = append(names, features[i].Name())
		}
	}
	return names
}

// zonesCrossing returns the names of zones whose shape intersects the
// straight segment ab, in load order. Tangent contact counts.
func (t *Tracker) zonesCrossing(a, b orb.Point) []string {
	var names []string
	features := t.zones.Features()
	for _, i := range t.zones.SegmentCandidates(a, b) {
		if features[i].IntersectsSegment(a, b) {
			names = append(names, features[i].Name())
		}
	}
	return names
}

// Process runs one tick: detection over (prev, latest) followed by the
// continuous-track sync over every open event. prev may be nil (first tick);
// sync still runs. runID correlates the tick's incident rows with the
// pipeline logs.
func (t *Tracker) Process(prev, latest *TickSnapshot, runID string) []Breach {
	if latest == nil || t.zones.Len() == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := latest.FetchedAt
	latestElig := eligibleMap(latest)
	prevElig := eligibleMap(prev)
	var prevTS *float64
	if prev != nil {
		prevTS = &prev.FetchedAt
	}

	breaches := t.detect(prevElig, latest, prevTS, now, runID)
	t.sync(latestElig, now)
	return breaches
}

// detect walks the latest snapshot looking for segment crossings and
// connect-inside entries, writing the event log for each hit.
func (t *Tracker) detect(prevElig map[string]eligible, latest *TickSnapshot, prevTS *float64, now float64, runID string) []Breach {
	var breaches []Breach
	for _, p := range latest.Pilots {
		if !p.HasPosition() {
			continue
		}
		if !p.Altitude.OK || p.Altitude.Val > AltitudeCeilingFt {
			continue
		}
		id := p.Identifier()
		pt := orb.Point{p.Longitude.Val, p.Latitude.Val}

		prevObs, hasPrev := eligible{}, false
		if id != "" {
			prevObs, hasPrev = prevElig[id]
		}

		var zones []string
		var line []Position
		if hasPrev {
			zones = t.zonesCrossing(prevObs.pt, pt)
			if len(zones) > 0 {
				line = []Position{
					{Lat: prevObs.pt[1], Lon: prevObs.pt[0]},
					{Lat: pt[1], Lon: pt[0]},
				}
			}
		}
		if len(zones) == 0 {
			// connect-inside: the point is in a zone now and either has no
			// previous observation or was outside every zone before
			zonesNow := t.zonesContaining(pt)
			if len(zonesNow) > 0 && (!hasPrev || len(t.zonesContaining(prevObs.pt)) == 0) {
				zones = zonesNow
			}
		}
		if len(zones) == 0 {
			continue
		}

		breach := Breach{
			Identifier:     id,
			Callsign:       p.Callsign,
			CID:            p.CID,
			LatestPosition: Position{Lat: pt[1], Lon: pt[0]},
			LatestTS:       now,
			Zones:          zones,
			EvidenceLine:   line,
		}
		if hasPrev {
			breach.PrevPosition = &Position{Lat: prevObs.pt[1], Lon: prevObs.pt[0]}
		}
		breaches = append(breaches, breach)

		t.recordPenetration(id, p, pt, prevObs, hasPrev, zones, line, prevTS, now, runID)
	}
	return breaches
}

// recordPenetration applies the event write path for one detection: suppress
// when an open event is already tracking the aircraft, merge into a recent
// unconfirmed event, or create a new one. Every unsuppressed write also
// appends an incident row.
func (t *Tracker) recordPenetration(id string, p feed.Pilot, pt orb.Point, prevObs eligible, hasPrev bool,
	zones []string, line []Position, prevTS *float64, now float64, runID string) {

	if id == "" {
		// no cid and no callsign: synthesize a best-effort identity
		id = fmt.Sprintf("NOCID-%d", int64(now))
	}

	state := t.history.CurrentInside[id]
	if state != nil && state.Inside {
		// open event is already tracking this aircraft
		return
	}

	pos := Position{Lat: pt[1], Lon: pt[0]}
	ev := t.newestEventFor(id)
	merge := ev != nil && ev.ExitConfirmedAt == nil &&
		((state != nil && state.P56Buster) || now-ev.RecordedAt <= t.dedupWindowSec)

	if merge {
		if now > ev.LatestTS {
			ev.LatestTS = now
		}
		if len(ev.PrePositions) == 0 {
			ev.PrePositions = t.prePositions(id, ev.RecordedAt)
		}
		ev.LatestPosition = &pos
		if hasPrev {
			ev.PrevPosition = &Position{Lat: prevObs.pt[1], Lon: prevObs.pt[0]}
		}
		if len(line) > 0 {
			ev.EvidenceLine = line
		}
		for _, z := range zones {
			if !containsString(ev.Zones, z) {
				ev.Zones = append(ev.Zones, z)
			}
		}
	} else {
		ev = &IntrusionEvent{
			CID:                id,
			Callsign:           p.Callsign,
			Name:               p.Name,
			FlightPlan:         p.FlightPlan,
			RecordedAt:         now,
			LatestTS:           now,
			Zones:              zones,
			LatestPosition:     &pos,
			EvidenceLine:       line,
			PrePositions:       t.prePositions(id, now),
			IntrusionPositions: []store.TrackPoint{},
		}
		if hasPrev {
			ev.PrevPosition = &Position{Lat: prevObs.pt[1], Lon: prevObs.pt[0]}
		}
		if p.Altitude.OK {
			alt := p.Altitude.Val
			ev.Altitude = &alt
		}
		if p.Groundspeed.OK {
			gs := p.Groundspeed.Val
			ev.Groundspeed = &gs
		}
		if p.Heading.OK {
			hdg := p.Heading.Val
			ev.Heading = &hdg
		}
		t.history.Events = append(t.history.Events, ev)
		monitoring.Logf("airspace: new P-56 intrusion %s (%s) zones=%v", id, p.Callsign, zones)
	}

	t.history.CurrentInside[id] = &InsideState{
		Inside:       true,
		P56Buster:    true,
		OutsideCount: 0,
		LastSeen:     now,
		LastPosition: &pos,
	}
	t.dirty = true

	t.appendIncidentRow(id, p, pt, line, zones, prevTS, now, runID)
}

// appendIncidentRow writes one incident to the durable log, skipping an
// identical wall-time duplicate for the same aircraft. A write failure is
// logged and recovered; the in-memory event stands.
func (t *Tracker) appendIncidentRow(id string, p feed.Pilot, pt orb.Point,
	line []Position, zones []string, prevTS *float64, now float64, runID string) {
	if t.incidents == nil {
		return
	}
	if last, ok := t.lastIncidentAt[id]; ok && last == now {
		return
	}

	ev := evidence{PrevTS: prevTS, LatestTS: now, Zones: zones, RunID: runID}
	for _, pos := range line {
		ev.Line = append(ev.Line, [2]float64{pos.Lon, pos.Lat})
	}
	evJSON, err := json.Marshal(ev)
	if err != nil {
		evJSON = []byte("{}")
	}

	inc := &store.Incident{
		DetectedAt: now,
		Callsign:   p.Callsign,
		Name:       p.Name,
		Lat:        pt[1],
		Lon:        pt[0],
		Zone:       strings.Join(zones, ","),
		Evidence:   string(evJSON),
	}
	if p.CID.OK {
		cid := p.CID.Val
		inc.CID = &cid
	}
	if p.Altitude.OK {
		alt := p.Altitude.Val
		inc.Altitude = &alt
	}

	if _, err := t.incidents.AppendIncident(inc); err != nil {
		monitoring.Logf("airspace: incident write failed for %s: %v", id, err)
		t.metrics.RecordWriteError()
		return
	}
	t.lastIncidentAt[id] = now
}

// prePositions walks the aircraft's track history newest to oldest,
// collecting points strictly before the cutoff and strictly outside every
// zone, stopping at the first inside point. Result is oldest first, at most
// PrePositionCap points.
func (t *Tracker) prePositions(id string, before float64) []store.TrackPoint {
	if t.tracks == nil {
		return nil
	}
	ring := t.tracks.Get(id, 0)
	var collected []store.TrackPoint
	for i := len(ring) - 1; i >= 0 && len(collected) < PrePositionCap; i-- {
		p := ring[i]
		if p.TS >= before {
			continue
		}
		if len(t.zonesContaining(orb.Point{p.Lon, p.Lat})) > 0 {
			break
		}
		collected = append(collected, p)
	}
	// reverse to oldest first
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected
}

// sync advances every open event one tick: capture the latest position,
// maintain the inside/outside counters, and confirm exits.
func (t *Tracker) sync(latestElig map[string]eligible, now float64) {
	for id, state := range t.history.CurrentInside {
		if !state.P56Buster {
			continue
		}
		if now <= state.LastSyncTS {
			// replayed tick: never advance counters twice
			continue
		}
		state.LastSyncTS = now
		t.dirty = true

		ev := t.newestEventFor(id)
		obs, present := latestElig[id]
		inside := present && len(t.zonesContaining(obs.pt)) > 0

		if inside {
			t.appendIntrusionPoint(ev, obs, now, false, state)
			state.Inside = true
			state.OutsideCount = 0
			state.PostExitPoints = 0
			state.LastSeen = now
			state.LastPosition = &Position{Lat: obs.pt[1], Lon: obs.pt[0]}
			if ev != nil {
				if now > ev.LatestTS {
					ev.LatestTS = now
				}
				ev.ExitDetectedAt = nil
			}
			continue
		}

		if present {
			t.appendIntrusionPoint(ev, obs, now, true, state)
			state.LastPosition = &Position{Lat: obs.pt[1], Lon: obs.pt[0]}
		}
		state.Inside = false
		state.OutsideCount++
		state.LastSeen = now
		if state.OutsideCount == 1 && ev != nil {
			exitAt := now
			ev.ExitDetectedAt = &exitAt
		}
		if state.OutsideCount >= t.exitConfirmTicks {
			if ev != nil && ev.ExitConfirmedAt == nil {
				confirmedAt := now
				ev.ExitConfirmedAt = &confirmedAt
			}
			state.P56Buster = false
			monitoring.Logf("airspace: P-56 exit confirmed for %s after %d outside ticks", id, state.OutsideCount)
		}
	}
}

// appendIntrusionPoint adds one captured position to the event's continuous
// track: at least minTrackSpacingSec after the previous point, FIFO-capped
// at IntrusionTrackCap, and at most PostExitCap points after exit.
func (t *Tracker) appendIntrusionPoint(ev *IntrusionEvent, obs eligible, now float64, postExit bool, state *InsideState) {
	if ev == nil {
		return
	}
	if postExit && state.PostExitPoints >= PostExitCap {
		return
	}
	if n := len(ev.IntrusionPositions); n > 0 && now-ev.IntrusionPositions[n-1].TS < minTrackSpacingSec {
		return
	}

	p := obs.pilot
	point := store.TrackPoint{
		TS:       now,
		Lat:      obs.pt[1],
		Lon:      obs.pt[0],
		Callsign: p.Callsign,
	}
	if p.Altitude.OK {
		alt := p.Altitude.Val
		point.Alt = &alt
	}
	if p.Groundspeed.OK {
		gs := p.Groundspeed.Val
		point.Groundspeed = &gs
	}
	if p.Heading.OK {
		hdg := p.Heading.Val
		point.Heading = &hdg
	}

	ev.IntrusionPositions = append(ev.IntrusionPositions, point)
	if len(ev.IntrusionPositions) > IntrusionTrackCap {
		ev.IntrusionPositions = ev.IntrusionPositions[len(ev.IntrusionPositions)-IntrusionTrackCap:]
	}
	if postExit {
		state.PostExitPoints++
	}
}

// newestEventFor returns the most recent event keyed to id, or nil.
func (t *Tracker) newestEventFor(id string) *IntrusionEvent {
	for i := len(t.history.Events) - 1; i >= 0; i-- {
		if t.history.Events[i].CID == id {
			return t.history.Events[i]
		}
	}
	return nil
}

// HistorySnapshot returns a deep copy of the event log for readers.
func (t *Tracker) HistorySnapshot() *History {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyHistoryLocked()
}

func (t *Tracker) copyHistoryLocked() *History {
	data, err := json.Marshal(t.history)
	if err != nil {
		return emptyHistory()
	}
	out := emptyHistory()
	if err := json.Unmarshal(data, out); err != nil {
		return emptyHistory()
	}
	return out
}

// Flush writes the event log to disk when anything changed since the last
// flush, via tmp-file-and-rename.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *Tracker) flushLocked() error {
	if !t.dirty {
		return nil
	}
	data, err := json.MarshalIndent(t.history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal p56 history: %w", err)
	}
	if err := store.AtomicWriteFile(t.path, data); err != nil {
		return fmt.Errorf("write p56 history: %w", err)
	}
	t.dirty = false
	return nil
}

// PurgeAll replaces the event log with an empty one.
func (t *Tracker) PurgeAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = emptyHistory()
	t.lastIncidentAt = make(map[string]float64)
	t.dirty = true
	t.metrics.RecordPurge()
	return t.flushLocked()
}

// PurgeEvents removes the events addressed by keys, dropping each aircraft's
// inside state when none of its events remain. It returns how many events
// were removed.
func (t *Tracker) PurgeEvents(keys []EventKey) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doomed := make(map[EventKey]bool, len(keys))
	for _, k := range keys {
		doomed[k] = true
	}

	kept := t.history.Events[:0]
	removed := 0
	for _, ev := range t.history.Events {
		if doomed[EventKey{CID: ev.CID, RecordedAt: ev.RecordedAt}] {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	t.history.Events = kept

	for cid := range t.history.CurrentInside {
		if t.newestEventFor(cid) == nil {
			delete(t.history.CurrentInside, cid)
		}
	}

	if removed > 0 {
		t.dirty = true
		t.metrics.RecordPurge()
	}
	return removed, t.flushLocked()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
