// Package api serves the read-only HTTP surface over the precompute read
// cache, plus the admin purge endpoint. Handlers never touch the upstream
// feed; everything they return was computed by the pipeline.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/potomac-data/airspace.report/internal/airspace"
	"github.com/potomac-data/airspace.report/internal/httputil"
	"github.com/potomac-data/airspace.report/internal/monitoring"
	"github.com/potomac-data/airspace.report/internal/store"
)

const defaultIncidentLimit = 100

// Server owns the HTTP handlers. adminPassword comes from the environment at
// construction; an empty value disables the admin surface entirely.
type Server struct {
	cache         *airspace.ReadCache
	tracks        *store.TrackStore
	tracker       *airspace.Tracker
	store         *store.Store
	adminPassword string
}

// NewServer wires the handlers to the read cache and the durable stores.
func NewServer(cache *airspace.ReadCache, tracks *store.TrackStore, tracker *airspace.Tracker,
	s *store.Store, adminPassword string) *Server {
	return &Server{
		cache:         cache,
		tracks:        tracks,
		tracker:       tracker,
		store:         s,
		adminPassword: adminPassword,
	}
}

// ServeMux returns the route table. The caller mounts it and adds the
// process-level endpoints (/metrics) itself.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/aircraft/list", s.cachedHandler(airspace.KeyAircraftList))
	mux.HandleFunc("/api/v1/sfra", s.cachedHandler(airspace.KeySFRA))
	mux.HandleFunc("/api/v1/frz", s.cachedHandler(airspace.KeyFRZ))
	mux.HandleFunc("/api/v1/p56", s.cachedHandler(airspace.KeyP56))
	mux.HandleFunc("/api/v1/status", s.cachedHandler(airspace.KeySystemStatus))
	mux.HandleFunc("/api/v1/aircraft/history", s.handleAircraftHistory)
	mux.HandleFunc("/api/v1/p56/history", s.handleP56History)
	mux.HandleFunc("/api/v1/incidents", s.handleIncidents)
	mux.HandleFunc("/api/v1/admin/p56/purge", s.handlePurge)
	mux.HandleFunc("/api/debug/last_snapshot", s.handleLastSnapshot)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// cachedHandler serves one read-cache key. Before the first publish the
// payload is a stub so clients can distinguish cold start from empty sky.
func (s *Server) cachedHandler(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		entry, ok := s.cache.Get(key)
		if !ok {
			httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"status": "initializing",
			})
			return
		}
		httputil.WriteJSONOK(w, entry.Payload)
	}
}

// handleAircraftHistory returns track rings: every tracked aircraft, or one
// ring with ?cid=. limit bounds the points per ring, newest kept.
func (s *Server) handleAircraftHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	if cid := r.URL.Query().Get("cid"); cid != "" {
		ring := s.tracks.Get(cid, limit)
		httputil.WriteJSONOK(w, map[string]interface{}{cid: ring})
		return
	}
	httputil.WriteJSONOK(w, s.tracks.GetAll())
}

func (s *Server) handleP56History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.tracker.HistorySnapshot())
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := defaultIncidentLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	incidents, err := s.store.ListIncidents(limit)
	if err != nil {
		monitoring.Logf("api: incident list failed: %v", err)
		httputil.InternalServerError(w, "incident lookup failed")
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// purgeRequest selects events to remove. An empty selection purges the whole
// log.
type purgeRequest struct {
	Events []airspace.EventKey `json:"events,omitempty"`
}

// handlePurge removes intrusion events from the durable log. Authorization is
// a shared secret in X-Admin-Password; when no password is configured every
// request is forbidden, with the same response either way.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.authorized(r) {
		httputil.Forbidden(w)
		return
	}

	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid purge request body")
		return
	}

	if len(req.Events) == 0 {
		if err := s.tracker.PurgeAll(); err != nil {
			monitoring.Logf("api: full purge flush failed: %v", err)
			httputil.InternalServerError(w, "purge failed")
			return
		}
		monitoring.Logf("api: p56 history purged (full)")
		httputil.WriteJSONOK(w, map[string]interface{}{"purged": "all"})
		return
	}

	removed, err := s.tracker.PurgeEvents(req.Events)
	if err != nil {
		monitoring.Logf("api: selective purge flush failed: %v", err)
		httputil.InternalServerError(w, "purge failed")
		return
	}
	monitoring.Logf("api: p56 history purged (%d of %d requested)", removed, len(req.Events))
	httputil.WriteJSONOK(w, map[string]interface{}{"purged": removed})
}

// authorized checks the shared secret in constant time. An unset password
// never authorizes.
func (s *Server) authorized(r *http.Request) bool {
	if s.adminPassword == "" {
		return false
	}
	provided := r.Header.Get("X-Admin-Password")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminPassword)) == 1
}

// handleLastSnapshot returns the newest stored upstream payload verbatim,
// for feed debugging.
func (s *Server) handleLastSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, err := s.store.LatestSnapshot()
	if err != nil {
		monitoring.Logf("api: last snapshot lookup failed: %v", err)
		httputil.InternalServerError(w, "snapshot lookup failed")
		return
	}
	if snap == nil {
		httputil.NotFound(w, "no snapshots stored yet")
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"id":         snap.ID,
		"fetched_at": snap.FetchedAt,
		"data":       snap.Raw,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "airspace",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
