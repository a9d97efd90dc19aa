package httpapi

import (
	"net/http"
	"time"

	"github.com/AgentGrid-Network/hosting_layer/pkg/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// WithRequestLogging wraps a handler with per-request structured logging.
func WithRequestLogging(next http.Handler, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", rec.status).
			WithField("duration_ms", time.Since(started).Milliseconds()).
			Debug("request served")
	})
}
