package api

import (
	"net/http"
	"time"

	"github.com/potomac-data/airspace.report/internal/monitoring"
)

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LogRequests logs method, path, status, and duration for every request.
// Error statuses are highlighted so they stand out in a scrolling journal.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		switch {
		case rec.status >= 500:
			monitoring.Logf("\033[91m%s %s -> %d (%v)\033[0m", r.Method, r.URL.Path, rec.status, time.Since(start))
		case rec.status >= 400:
			monitoring.Logf("\033[93m%s %s -> %d (%v)\033[0m", r.Method, r.URL.Path, rec.status, time.Since(start))
		default:
			monitoring.Logf("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start))
		}
	})
}
