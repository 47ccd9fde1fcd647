package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/potomac-data/airspace.report/internal/httputil"
	"github.com/potomac-data/airspace.report/internal/metrics"
	"github.com/potomac-data/airspace.report/internal/monitoring"
	"github.com/potomac-data/airspace.report/internal/timeutil"
)

// The upstream publishes on a nominal 15-second cycle. The fetcher aims to
// arrive a small offset after each update and walks that offset through the
// cycle so it never settles at an extreme.
const (
	nominalCycle = 15 * time.Second
	minSleep     = 5 * time.Second
	maxSleep     = 20 * time.Second

	// fetches per offset step
	offsetStepEvery = 20
)

var offsetSteps = []time.Duration{
	500 * time.Millisecond,
	1000 * time.Millisecond,
	1500 * time.Millisecond,
	2000 * time.Millisecond,
	2500 * time.Millisecond,
}

// defaultOffsetIdx starts the pattern at the 1.0 s offset.
const defaultOffsetIdx = 1

// Subscriber is invoked synchronously after each successful fetch. Keep it
// fast; slow work belongs on a worker (the pipeline offloads its own).
// upstreamTS is the zero time when the feed's timestamp was unparseable.
type Subscriber func(doc *Document, fetchedAt time.Time, upstreamTS time.Time)

// Fetcher polls the upstream feed on an adaptive cadence and dispatches each
// parsed snapshot to its subscribers. One Fetcher runs as a single long-lived
// goroutine; Subscribe is not safe to call after Run starts.
type Fetcher struct {
	url      string
	interval time.Duration
	client   httputil.Client
	clock    timeutil.Clock
	metrics  *metrics.Metrics
	subs     []Subscriber

	fetchCount int
	offsetIdx  int

	mu              sync.Mutex
	latest          *Document
	latestFetchedAt time.Time
	latestUpstream  time.Time
}

// NewFetcher creates a Fetcher. interval is the fallback cadence used until
// an upstream timestamp is known.
func NewFetcher(url string, interval time.Duration, client httputil.Client, clock timeutil.Clock, m *metrics.Metrics) *Fetcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Fetcher{
		url:       url,
		interval:  interval,
		client:    client,
		clock:     clock,
		metrics:   m,
		offsetIdx: defaultOffsetIdx,
	}
}

// Subscribe registers a subscriber. Call before Run.
func (f *Fetcher) Subscribe(s Subscriber) {
	f.subs = append(f.subs, s)
}

// Latest returns the most recent successfully fetched document and its wall
// timestamp. ok is false before the first success.
func (f *Fetcher) Latest() (doc *Document, fetchedAt time.Time, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.latestFetchedAt, f.latest != nil
}

// Run polls until the context is cancelled. Fetch errors are logged and the
// loop continues; only cancellation ends it.
func (f *Fetcher) Run(ctx context.Context) error {
	for {
		upstreamTS, err := f.fetchOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("feed: fetch error: %v", err)
			f.metrics.RecordFetchError()
		}
		f.fetchCount++
		if f.fetchCount%offsetStepEvery == 0 {
			f.offsetIdx = (f.offsetIdx + 1) % len(offsetSteps)
		}

		sleep := f.nextSleep(f.clock.Now(), upstreamTS)
		timer := f.clock.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
}

// nextSleep schedules the next fetch so it lands offset after the next
// expected upstream update. Without a known upstream timestamp it falls back
// to the configured interval. The result is clamped to [minSleep, maxSleep].
func (f *Fetcher) nextSleep(now, upstreamTS time.Time) time.Duration {
	sleep := f.interval
	if !upstreamTS.IsZero() {
		offset := offsetSteps[f.offsetIdx]
		next := upstreamTS.Add(nominalCycle)
		for !next.Add(offset).After(now) {
			next = next.Add(nominalCycle)
		}
		sleep = next.Add(offset).Sub(now)
	}
	if sleep < minSleep {
		sleep = minSleep
	}
	if sleep > maxSleep {
		sleep = maxSleep
	}
	return sleep
}

// fetchOnce performs one fetch-parse-dispatch cycle and returns the parsed
// upstream timestamp when available.
func (f *Fetcher) fetchOnce(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch %s: %w", f.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return time.Time{}, fmt.Errorf("fetch %s: status %d", f.url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return time.Time{}, fmt.Errorf("read body: %w", err)
	}
	doc, err := ParseDocument(body)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse feed: %w", err)
	}

	fetchedAt := f.clock.Now()
	upstreamTS, hasUpstream := ParseUpstreamTimestamp(doc.General.UpdateTimestamp)

	f.mu.Lock()
	f.latest = doc
	f.latestFetchedAt = fetchedAt
	f.latestUpstream = upstreamTS
	f.mu.Unlock()

	dataAge := time.Duration(-1)
	if hasUpstream {
		dataAge = fetchedAt.Sub(upstreamTS)
	}
	f.metrics.RecordFetchSuccess(dataAge)
	monitoring.Logf("feed: fetched %d aircraft (data age %v)", len(doc.Pilots), dataAge)

	for _, sub := range f.subs {
		sub(doc, fetchedAt, upstreamTS)
	}
	return upstreamTS, nil
}
