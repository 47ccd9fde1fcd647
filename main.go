package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/potomac-data/airspace.report/internal/airspace"
	"github.com/potomac-data/airspace.report/internal/api"
	"github.com/potomac-data/airspace.report/internal/config"
	"github.com/potomac-data/airspace.report/internal/feed"
	"github.com/potomac-data/airspace.report/internal/geo"
	"github.com/potomac-data/airspace.report/internal/httputil"
	"github.com/potomac-data/airspace.report/internal/metrics"
	"github.com/potomac-data/airspace.report/internal/store"
	"github.com/potomac-data/airspace.report/internal/timeutil"
)

var (
	devMode     = flag.Bool("dev", false, "Poll a local fixture file instead of the live feed")
	listen      = flag.String("listen", ":8080", "Listen address")
	configPath  = flag.String("config", "", "Config file (.json, .yaml, or .yml)")
	dataDir     = flag.String("data", "data", "Directory for the database and history files")
	geoDir      = flag.String("geo", "geojson", "Directory of airspace GeoJSON files")
	fixturePath = flag.String("fixtures", "fixtures.json", "Feed payload served on every poll in dev mode")
)

const (
	dbFile           = "airspace.db"
	trackHistoryFile = "aircraft_history.json"
	p56HistoryFile   = "p56_history.json"
)

// service owns every long-lived component so main stays a wiring exercise.
type service struct {
	cfg      *config.Config
	store    *store.Store
	tracks   *store.TrackStore
	tracker  *airspace.Tracker
	cache    *airspace.ReadCache
	pipeline *airspace.Pipeline
	fetcher  *feed.Fetcher
	metrics  *metrics.Metrics
	api      *api.Server
}

func buildService() (*service, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return nil, err
	}
	s, err := store.Open(filepath.Join(*dataDir, dbFile), cfg.GetSnapshotRetain())
	if err != nil {
		return nil, err
	}

	tracks, err := store.OpenTrackStore(filepath.Join(*dataDir, trackHistoryFile), cfg.GetTrackRingSize())
	if err != nil {
		return nil, err
	}

	registry, err := geo.LoadRegistry(*geoDir)
	if err != nil {
		return nil, err
	}
	sfra, ok := registry.Find("sfra")
	if !ok {
		log.Printf("geo: no SFRA polygons in %s, SFRA classification disabled", *geoDir)
	}
	frz, ok := registry.Find("frz")
	if !ok {
		log.Printf("geo: no FRZ polygons in %s, FRZ classification disabled", *geoDir)
	}
	p56, ok := registry.Find("p56")
	if !ok {
		log.Printf("geo: no P-56 polygons in %s, intrusion tracking disabled", *geoDir)
	}

	m := metrics.New()

	tracker, err := airspace.NewTracker(filepath.Join(*dataDir, p56HistoryFile),
		p56, tracks, s, m, float64(cfg.GetDedupWindowSeconds()), cfg.GetExitConfirmTicks())
	if err != nil {
		return nil, err
	}

	cache := airspace.NewReadCache()
	pipeline := airspace.NewPipeline(s, tracks, tracker, cache, m,
		sfra, frz, cfg.GetTrimRadiusNM(), cfg.GetTrackPositionsDB())

	var client httputil.Client
	if *devMode {
		data, err := os.ReadFile(*fixturePath)
		if err != nil {
			return nil, err
		}
		// MockClient repeats its last response, so one fixture feeds the
		// whole poll loop
		client = httputil.NewMockClient().AddResponse(http.StatusOK, string(data))
	} else {
		client = httputil.NewStandardClient(&http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			},
		})
	}

	fetcher := feed.NewFetcher(cfg.GetUpstreamURL(),
		time.Duration(cfg.GetPollIntervalSeconds())*time.Second, client, timeutil.RealClock{}, m)
	fetcher.Subscribe(pipeline.OnFetch)

	return &service{
		cfg:      cfg,
		store:    s,
		tracks:   tracks,
		tracker:  tracker,
		cache:    cache,
		pipeline: pipeline,
		fetcher:  fetcher,
		metrics:  m,
		api:      api.NewServer(cache, tracks, tracker, s, config.AdminPassword()),
	}, nil
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	svc, err := buildService()
	if err != nil {
		log.Fatalf("failed to build service: %v", err)
	}
	defer svc.store.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// poll loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.fetcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("fetcher terminated: %v", err)
		}
		log.Print("fetcher routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := svc.api.ServeMux()
		mux.Handle("/metrics", svc.metrics.Handler())

		srv := &http.Server{
			Addr:    *listen,
			Handler: api.LogRequests(mux),
		}

		go func() {
			log.Printf("starting HTTP server on %s", *listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Print("HTTP server routine terminated")
	}()

	wg.Wait()

	// let an in-flight precompute finish, then write everything out
	svc.pipeline.Drain()
	if err := svc.tracker.Flush(); err != nil {
		log.Printf("final p56 history flush failed: %v", err)
	}
	if err := svc.tracks.Flush(); err != nil {
		log.Printf("final track history flush failed: %v", err)
	}
	log.Print("shutdown complete")
}
