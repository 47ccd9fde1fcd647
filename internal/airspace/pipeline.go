package airspace

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/potomac-data/airspace.report/internal/feed"
	"github.com/potomac-data/airspace.report/internal/geo"
	"github.com/potomac-data/airspace.report/internal/metrics"
	"github.com/potomac-data/airspace.report/internal/monitoring"
	"github.com/potomac-data/airspace.report/internal/store"
)

// Surge thresholds: above these upstream aircraft counts the effective trim
// radius drops so precompute stays bounded on modest hardware.
const (
	surgeHighCount    = 500
	surgeHighRadiusNM = 80.0
	surgeMidCount     = 300
	surgeMidRadiusNM  = 150.0
)

// EffectiveRadius applies the surge policy to the configured base radius.
// surge is true whenever the effective radius is below the base.
func EffectiveRadius(totalAircraft int, baseNM float64) (effectiveNM float64, surge bool) {
	effectiveNM = baseNM
	switch {
	case totalAircraft > surgeHighCount:
		if surgeHighRadiusNM < effectiveNM {
			effectiveNM = surgeHighRadiusNM
		}
	case totalAircraft > surgeMidCount:
		if surgeMidRadiusNM < effectiveNM {
			effectiveNM = surgeMidRadiusNM
		}
	}
	return effectiveNM, effectiveNM < baseNM
}

// AircraftListPayload is the trimmed per-tick aircraft list.
type AircraftListPayload struct {
	Aircraft              []feed.Pilot `json:"aircraft"`
	ComputedAt            float64      `json:"computed_at"`
	TotalCount            int          `json:"total_count"`
	TrimRadiusNM          float64      `json:"trim_radius_nm"`
	VatsimUpdateTimestamp string       `json:"vatsim_update_timestamp,omitempty"`
}

// GeofencePayload is the per-tick SFRA or FRZ classification.
type GeofencePayload struct {
	Aircraft      []GeofenceMatch `json:"aircraft"`
	ComputedAt    float64         `json:"computed_at"`
	AircraftCount int             `json:"aircraft_count"`
}

// P56Payload is the per-tick breach list plus the durable intrusion log.
type P56Payload struct {
	Aircraft   []Breach `json:"aircraft"`
	History    *History `json:"history"`
	ComputedAt float64  `json:"computed_at"`
}

// SystemStatusPayload reports the surge policy's per-tick decision.
type SystemStatusPayload struct {
	SurgeMode           bool    `json:"surge_mode"`
	TotalAircraftVatsim int     `json:"total_aircraft_vatsim"`
	ProcessedAircraft   int     `json:"processed_aircraft"`
	ConfiguredRadiusNM  float64 `json:"configured_radius_nm"`
	EffectiveRadiusNM   float64 `json:"effective_radius_nm"`
	FeedDelayP50        float64 `json:"feed_delay_p50_seconds,omitempty"`
	FeedDelayP95        float64 `json:"feed_delay_p95_seconds,omitempty"`
	ComputedAt          float64 `json:"computed_at"`
}

// Pipeline orchestrates one tick of precompute: snapshot append, radius
// trim, track-history update, geofence classification, intrusion tracking,
// and the atomic bundle publish. It subscribes to the Fetcher and offloads
// everything past the snapshot append to a worker goroutine; a tick that
// arrives while the worker is busy is skipped, never queued.
type Pipeline struct {
	store   *store.Store
	tracks  *store.TrackStore
	tracker *Tracker
	cache   *ReadCache
	metrics *metrics.Metrics

	sfra *geo.Set
	frz  *geo.Set

	baseRadiusNM   float64
	trackPositions bool

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewPipeline wires a pipeline. sfra and frz may be empty sets when the geo
// directory lacks those files; classification then yields no matches.
func NewPipeline(s *store.Store, tracks *store.TrackStore, tracker *Tracker, cache *ReadCache,
	m *metrics.Metrics, sfra, frz *geo.Set, baseRadiusNM float64, trackPositions bool) *Pipeline {
	return &Pipeline{
		store:          s,
		tracks:         tracks,
		tracker:        tracker,
		cache:          cache,
		metrics:        m,
		sfra:           sfra,
		frz:            frz,
		baseRadiusNM:   baseRadiusNM,
		trackPositions: trackPositions,
	}
}

// OnFetch is the Fetcher subscriber. The snapshot append stays on the
// fetch path so snapshot order matches fetch order; the rest runs on a
// worker so the next fetch never waits on precompute.
func (p *Pipeline) OnFetch(doc *feed.Document, fetchedAt time.Time, upstreamTS time.Time) {
	ts := float64(fetchedAt.UnixNano()) / 1e9

	if _, err := p.store.AppendSnapshot(doc.Raw, ts); err != nil {
		monitoring.Logf("pipeline: snapshot write failed: %v", err)
		p.metrics.RecordWriteError()
	}

	if !p.running.CompareAndSwap(false, true) {
		monitoring.Logf("pipeline: precompute still running, skipping tick at %.0f", ts)
		p.metrics.RecordOverrunSkip()
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		p.precompute(doc, ts)
	}()
}

// Drain waits for any in-flight precompute to finish. Called at shutdown.
func (p *Pipeline) Drain() {
	p.wg.Wait()
}

// precompute runs steps 2-7 for one tick.
func (p *Pipeline) precompute(doc *feed.Document, ts float64) {
	start := time.Now()
	runID := uuid.NewString()

	total := len(doc.Pilots)
	effectiveNM, surge := EffectiveRadius(total, p.baseRadiusNM)
	if surge {
		monitoring.Logf("pipeline[%s]: surge mode, %d aircraft upstream, radius %.0fnm", runID, total, effectiveNM)
	}

	trimmed := make([]feed.Pilot, 0, total)
	for _, a := range doc.Pilots {
		if !a.HasPosition() {
			continue
		}
		if geo.DCARangeNM(a.Latitude.Val, a.Longitude.Val) <= effectiveNM {
			trimmed = append(trimmed, a)
		}
	}

	p.updateTracks(trimmed, ts)

	ceiling := AltitudeCeilingFt
	sfraMatches := Geofence(trimmed, p.sfra, &ceiling)
	frzMatches := Geofence(trimmed, p.frz, &ceiling)

	prev, latest := p.tickSnapshots(doc, ts)
	breaches := p.tracker.Process(prev, latest, runID)

	if err := p.tracker.Flush(); err != nil {
		monitoring.Logf("pipeline[%s]: p56 history flush failed: %v", runID, err)
		p.metrics.RecordWriteError()
	}
	if err := p.tracks.Flush(); err != nil {
		monitoring.Logf("pipeline[%s]: track history flush failed: %v", runID, err)
		p.metrics.RecordWriteError()
	}

	status := SystemStatusPayload{
		SurgeMode:           surge,
		TotalAircraftVatsim: total,
		ProcessedAircraft:   len(trimmed),
		ConfiguredRadiusNM:  p.baseRadiusNM,
		EffectiveRadiusNM:   effectiveNM,
		ComputedAt:          ts,
	}
	if p50, p95, ok := p.metrics.DelayQuantiles(); ok {
		status.FeedDelayP50 = p50
		status.FeedDelayP95 = p95
	}

	p.cache.Publish(map[string]interface{}{
		KeyAircraftList: AircraftListPayload{
			Aircraft:              trimmed,
			ComputedAt:            ts,
			TotalCount:            len(trimmed),
			TrimRadiusNM:          p.baseRadiusNM,
			VatsimUpdateTimestamp: doc.General.UpdateTimestamp,
		},
		KeySFRA: GeofencePayload{Aircraft: sfraMatches, ComputedAt: ts, AircraftCount: len(trimmed)},
		KeyFRZ:  GeofencePayload{Aircraft: frzMatches, ComputedAt: ts, AircraftCount: len(trimmed)},
		KeyP56: P56Payload{
			Aircraft:   breaches,
			History:    p.tracker.HistorySnapshot(),
			ComputedAt: ts,
		},
		KeySystemStatus: status,
	}, ts)

	elapsed := time.Since(start)
	p.metrics.RecordPrecompute(elapsed)
	monitoring.Logf("pipeline[%s]: precomputed in %v: sfra=%d frz=%d p56=%d (processed=%d/%d radius=%.0fnm)",
		runID, elapsed, len(sfraMatches), len(frzMatches), len(breaches), len(trimmed), total, effectiveNM)
}

// updateTracks writes the tick's points into the track-history ring with the
// trimmed set as the allowed CIDs, and mirrors them to sqlite when opted in.
func (p *Pipeline) updateTracks(trimmed []feed.Pilot, ts float64) {
	allowed := make(map[string]bool, len(trimmed))
	updates := make(map[string]store.TrackPoint, len(trimmed))
	var positions []store.AircraftPosition

	for _, a := range trimmed {
		id := a.Identifier()
		if id == "" {
			continue
		}
		allowed[id] = true

		point := store.TrackPoint{TS: ts, Lat: a.Latitude.Val, Lon: a.Longitude.Val, Callsign: a.Callsign}
		if a.Altitude.OK {
			alt := a.Altitude.Val
			point.Alt = &alt
		}
		if a.Groundspeed.OK {
			gs := a.Groundspeed.Val
			point.Groundspeed = &gs
		}
		if a.Heading.OK {
			hdg := a.Heading.Val
			point.Heading = &hdg
		}
		updates[id] = point

		if p.trackPositions && a.CID.OK {
			cid := a.CID.Val
			positions = append(positions, store.AircraftPosition{
				CID:         &cid,
				Callsign:    a.Callsign,
				Timestamp:   ts,
				Latitude:    a.Latitude.Val,
				Longitude:   a.Longitude.Val,
				Altitude:    point.Alt,
				Groundspeed: point.Groundspeed,
				Heading:     point.Heading,
			})
		}
	}

	p.tracks.UpdateBatch(updates, allowed)

	if p.trackPositions && len(positions) > 0 {
		if err := p.store.SaveAircraftPositions(positions); err != nil {
			monitoring.Logf("pipeline: aircraft position write failed: %v", err)
			p.metrics.RecordWriteError()
		}
	}
}

// tickSnapshots resolves the (prev, latest) pair for the detector. The
// current document is authoritative for latest; prev is the newest stored
// snapshot strictly older than this tick, so a failed snapshot write only
// costs the segment test, not the whole detection.
func (p *Pipeline) tickSnapshots(doc *feed.Document, ts float64) (prev, latest *TickSnapshot) {
	latest = &TickSnapshot{FetchedAt: ts, Pilots: doc.Pilots}

	snaps, err := p.store.LatestSnapshots(2)
	if err != nil {
		monitoring.Logf("pipeline: snapshot read failed: %v", err)
		return nil, latest
	}
	for _, snap := range snaps {
		if snap.FetchedAt >= ts {
			continue
		}
		prevDoc, err := feed.ParseDocument(snap.Raw)
		if err != nil {
			monitoring.Logf("pipeline: stored snapshot %d unparseable: %v", snap.ID, err)
			return nil, latest
		}
		return &TickSnapshot{FetchedAt: snap.FetchedAt, Pilots: prevDoc.Pilots}, latest
	}
	return nil, latest
}
