package rest

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

const (
	// APITokenHeader is the header name for the API authentication token.
	APITokenHeader = "X-Api-Token"
)

// withAuth validates the API token on every request. An empty configured
// token disables authentication.
func withAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(APITokenHeader) != token {
			writeError(w, http.StatusUnauthorized, "invalid or missing api token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withAccessLog tags each request with an ID and logs method, path, status
// and duration on completion.
func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		zlog.Info().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
