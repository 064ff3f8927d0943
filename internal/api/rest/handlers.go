// Package rest exposes the playback coordinator over a JSON HTTP API.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yonagi/tsbox/internal/app/player"
	"github.com/yonagi/tsbox/internal/domain/track"
	"github.com/yonagi/tsbox/internal/infra/netease"
	"github.com/yonagi/tsbox/internal/infra/store"
	"github.com/yonagi/tsbox/internal/infra/voice"
)

// Pinger reports whether the voice service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP API backed by the coordinator.
type Handler struct {
	coord    *player.Coordinator
	resolver player.Resolver
	pinger   Pinger // optional
}

// NewHandler creates the API handler.
func NewHandler(coord *player.Coordinator, resolver player.Resolver, pinger Pinger) *Handler {
	return &Handler{coord: coord, resolver: resolver, pinger: pinger}
}

// Wire DTOs. Domain types stay tag-free; the HTTP shape is fixed here.

type trackJSON struct {
	SourceRef  string `json:"source_ref"`
	Title      string `json:"title"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	ArtworkURL string `json:"artwork_url,omitempty"`
}

type queueItemJSON struct {
	ID          int64     `json:"id"`
	Track       trackJSON `json:"track"`
	RequestedBy string    `json:"requested_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type historyRecordJSON struct {
	ID          int64     `json:"id"`
	Track       trackJSON `json:"track"`
	RequestedBy string    `json:"requested_by,omitempty"`
	PlayedAt    time.Time `json:"played_at"`
}

type statusJSON struct {
	OK            bool      `json:"ok"`
	State         string    `json:"state"`
	ItemID        int64     `json:"item_id,omitempty"`
	Track         trackJSON `json:"track"`
	PositionMs    int64     `json:"position_ms"`
	DurationMs    int64     `json:"duration_ms"`
	Shuffle       bool      `json:"shuffle"`
	Repeat        string    `json:"repeat"`
	VolumePercent int       `json:"volume_percent"`
}

func toTrackJSON(t track.Track) trackJSON {
	return trackJSON{
		SourceRef:  t.SourceRef,
		Title:      t.Title,
		Artist:     t.Artist,
		Album:      t.Album,
		DurationMs: t.Duration.Milliseconds(),
		ArtworkURL: t.ArtworkURL,
	}
}

func toQueueItemJSON(item track.QueueItem) queueItemJSON {
	return queueItemJSON{
		ID:          item.ID,
		Track:       toTrackJSON(item.Track),
		RequestedBy: item.RequestedBy,
		CreatedAt:   item.CreatedAt,
	}
}

// GetStatus handles GET /voice/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.coord.Status(r.Context())
	writeJSON(w, http.StatusOK, statusJSON{
		OK:     true,
		State:  st.State,
		ItemID: st.ItemID,
		Track: trackJSON{
			SourceRef:  st.SourceRef,
			Title:      st.Title,
			Artist:     st.Artist,
			Album:      st.Album,
			DurationMs: st.Duration.Milliseconds(),
			ArtworkURL: st.ArtworkURL,
		},
		PositionMs:    st.Position.Milliseconds(),
		DurationMs:    st.Duration.Milliseconds(),
		Shuffle:       st.Shuffle,
		Repeat:        st.Repeat.String(),
		VolumePercent: st.VolumePercent,
	})
}

// SetVolume handles PUT /voice/volume.
func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VolumePercent int `json:"volume_percent"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	applied, err := h.coord.SetVolume(r.Context(), req.VolumePercent)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "volume_percent": applied})
}

// GetAudioFx handles GET /voice/fx.
func (h *Handler) GetAudioFx(w http.ResponseWriter, r *http.Request) {
	fx, err := h.coord.AudioFx(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		voice.AudioFx
	}{true, *fx})
}

// SetAudioFx handles PUT /voice/fx. Absent fields stay untouched.
func (h *Handler) SetAudioFx(w http.ResponseWriter, r *http.Request) {
	var req voice.AudioFxUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.coord.SetAudioFx(r.Context(), req); err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w)
}

// Play handles POST /voice/play. With an item ID it plays that entry,
// without one it starts (or resumes) scheduled playback.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          int64  `json:"id"`
		RequestedBy string `json:"requested_by"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	var err error
	if req.ID != 0 {
		err = h.coord.PlayItem(r.Context(), req.ID, req.RequestedBy)
	} else {
		err = h.coord.Start(r.Context(), req.RequestedBy)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w)
}

// Pause handles POST /voice/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.coord.Pause(r.Context()))
}

// Resume handles POST /voice/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.coord.Resume(r.Context()))
}

// Stop handles POST /voice/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.coord.Stop(r.Context()))
}

// Next handles POST /voice/next. The current item stays queued.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.coord.Next(r.Context(), ""))
}

// Skip handles POST /voice/skip. The current item is consumed.
func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.coord.Skip(r.Context(), ""))
}

// Previous handles POST /voice/previous.
func (h *Handler) Previous(w http.ResponseWriter, r *http.Request) {
	h.simple(w, h.coord.Previous(r.Context(), ""))
}

// SetShuffle handles POST /voice/shuffle.
func (h *Handler) SetShuffle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.simple(w, h.coord.SetShuffle(r.Context(), req.Enabled))
}

// SetRepeat handles POST /voice/repeat.
func (h *Handler) SetRepeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	mode, err := player.ParseRepeatMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.coord.SetRepeat(mode)
	writeOK(w)
}

// ListQueue handles GET /queue.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.coord.Queue(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := make([]queueItemJSON, len(items))
	for i, item := range items {
		out[i] = toQueueItemJSON(item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": out})
}

// AddToQueue handles POST /queue. The ref is a song ID, a direct URL, or
// free-text keywords resolved to the first search hit.
func (h *Handler) AddToQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref         string `json:"ref"`
		RequestedBy string `json:"requested_by"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}

	t, err := h.resolveRef(r, req.Ref)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "no results for "+req.Ref)
		return
	}

	id, err := h.coord.Enqueue(r.Context(), *t, req.RequestedBy)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id})
}

// resolveRef turns a user-supplied ref into track metadata.
func (h *Handler) resolveRef(r *http.Request, ref string) (*track.Track, error) {
	switch {
	case isNumeric(ref):
		return h.resolver.Detail(r.Context(), ref)
	case isURL(ref):
		return &track.Track{SourceRef: ref, Title: ref}, nil
	default:
		tracks, err := h.resolver.Search(r.Context(), ref, 1)
		if err != nil {
			return nil, err
		}
		if len(tracks) == 0 {
			return nil, nil
		}
		return &tracks[0], nil
	}
}

// RemoveFromQueue handles DELETE /queue/{id}.
func (h *Handler) RemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.simple(w, h.coord.RemoveItem(r.Context(), id))
}

// PlayQueueItem handles POST /queue/{id}/play.
func (h *Handler) PlayQueueItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.simple(w, h.coord.PlayItem(r.Context(), id, ""))
}

// Search handles GET /search?q=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := queryInt(r, "limit", 10)

	tracks, err := h.resolver.Search(r.Context(), query, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := make([]trackJSON, len(tracks))
	for i, t := range tracks {
		out[i] = toTrackJSON(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tracks": out})
}

// ListHistory handles GET /history?limit=.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}

	recs, err := h.coord.History(r.Context(), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := make([]historyRecordJSON, len(recs))
	for i, rec := range recs {
		out[i] = historyRecordJSON{
			ID:          rec.ID,
			Track:       toTrackJSON(rec.Track),
			RequestedBy: rec.RequestedBy,
			PlayedAt:    rec.PlayedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": out})
}

// Healthz handles GET /healthz. Voice reachability is reported but does
// not fail the check; the API is usable for queue edits either way.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"ok": true}
	if h.pinger != nil {
		out["voice"] = "up"
		if err := h.pinger.Ping(r.Context()); err != nil {
			out["voice"] = "down"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// simple acknowledges a bodyless command.
func (h *Handler) simple(w http.ResponseWriter, err error) {
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Msgf("rest: failed to encode response: %v", err)
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

// writeFailure maps domain errors to HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, netease.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, netease.ErrPaidContent):
		writeError(w, http.StatusUnprocessableEntity, "track requires a paid account")
	case errors.Is(err, netease.ErrRegionRestricted):
		writeError(w, http.StatusUnprocessableEntity, "track is region restricted")
	case errors.Is(err, netease.ErrTransient):
		writeError(w, http.StatusBadGateway, "upstream service unavailable")
	case errors.Is(err, player.ErrQueueExhausted):
		writeError(w, http.StatusConflict, "queue is empty")
	case errors.Is(err, player.ErrNothingPlaying):
		writeError(w, http.StatusConflict, "nothing is playing")
	default:
		zlog.Error().Msgf("rest: request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
