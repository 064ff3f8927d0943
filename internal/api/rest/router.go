package rest

import (
	"net/http"

	"github.com/yonagi/tsbox/internal/app/player"
)

// NewRouter builds the API routing table with logging and token auth
// applied. The health endpoint bypasses authentication.
func NewRouter(token string, coord *player.Coordinator, resolver player.Resolver, pinger Pinger) http.Handler {
	h := NewHandler(coord, resolver, pinger)

	api := http.NewServeMux()
	api.HandleFunc("GET /voice/status", h.GetStatus)
	api.HandleFunc("PUT /voice/volume", h.SetVolume)
	api.HandleFunc("GET /voice/fx", h.GetAudioFx)
	api.HandleFunc("PUT /voice/fx", h.SetAudioFx)
	api.HandleFunc("POST /voice/play", h.Play)
	api.HandleFunc("POST /voice/pause", h.Pause)
	api.HandleFunc("POST /voice/resume", h.Resume)
	api.HandleFunc("POST /voice/stop", h.Stop)
	api.HandleFunc("POST /voice/next", h.Next)
	api.HandleFunc("POST /voice/skip", h.Skip)
	api.HandleFunc("POST /voice/previous", h.Previous)
	api.HandleFunc("POST /voice/shuffle", h.SetShuffle)
	api.HandleFunc("POST /voice/repeat", h.SetRepeat)
	api.HandleFunc("GET /queue", h.ListQueue)
	api.HandleFunc("POST /queue", h.AddToQueue)
	api.HandleFunc("DELETE /queue/{id}", h.RemoveFromQueue)
	api.HandleFunc("POST /queue/{id}/play", h.PlayQueueItem)
	api.HandleFunc("GET /search", h.Search)
	api.HandleFunc("GET /history", h.ListHistory)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", h.Healthz)
	root.Handle("/", withAuth(token, api))

	return withAccessLog(root)
}
