// Package player coordinates playback of the shared queue against the
// voice service: now-playing state, shuffle/repeat scheduling, and the
// debounced status announcer.
package player

import (
	"sync"
	"time"

	"github.com/yonagi/tsbox/internal/domain/track"
)

// Snapshot is an immutable copy of the playback state. Elapsed position is
// derived from the snapshot and the clock, never ticked by a timer.
type Snapshot struct {
	ItemID      int64 // 0 when idle
	SourceRef   string
	SourceURL   string // resolved URL handed to the voice service, used for event matching
	Title       string
	Artist      string
	Album       string
	ArtworkURL  string
	Duration    time.Duration // 0 = unknown
	StartedAt   time.Time
	PausedAt    time.Time // zero unless paused
	PausedTotal time.Duration
}

// Idle reports whether nothing is playing.
func (s Snapshot) Idle() bool { return s.ItemID == 0 }

// Paused reports whether playback is paused.
func (s Snapshot) Paused() bool { return !s.Idle() && !s.PausedAt.IsZero() }

// StateName returns "idle", "paused" or "playing".
func (s Snapshot) StateName() string {
	switch {
	case s.Idle():
		return "idle"
	case s.Paused():
		return "paused"
	default:
		return "playing"
	}
}

// Position returns the elapsed playback position at the given time,
// clamped to [0, Duration] when the duration is known.
func (s Snapshot) Position(now time.Time) time.Duration {
	if s.Idle() {
		return 0
	}

	end := now
	if s.Paused() {
		end = s.PausedAt
	}
	pos := end.Sub(s.StartedAt) - s.PausedTotal

	if pos < 0 {
		pos = 0
	}
	if s.Duration > 0 && pos > s.Duration {
		pos = s.Duration
	}
	return pos
}

// State is the single authoritative record of what is playing. All field
// changes go through its methods; the mutex is never held across RPC or
// store calls.
type State struct {
	mu  sync.Mutex
	cur Snapshot
}

// NewState creates an idle playback state.
func NewState() *State {
	return &State{}
}

// SetNowPlaying records a new current item. Passing nil clears the state.
// sourceURL is the resolved media URL handed to the voice service.
func (st *State) SetNowPlaying(item *track.QueueItem, sourceURL string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if item == nil {
		st.cur = Snapshot{}
		return
	}

	st.cur = Snapshot{
		ItemID:     item.ID,
		SourceRef:  item.Track.SourceRef,
		SourceURL:  sourceURL,
		Title:      item.Track.Title,
		Artist:     item.Track.Artist,
		Album:      item.Track.Album,
		ArtworkURL: item.Track.ArtworkURL,
		Duration:   item.Track.Duration,
		StartedAt:  time.Now(),
	}
}

// MarkPaused records the pause instant. No-op when idle or already paused.
func (st *State) MarkPaused() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cur.Idle() || st.cur.Paused() {
		return false
	}
	st.cur.PausedAt = time.Now()
	return true
}

// MarkResumed folds the pause interval into PausedTotal.
// No-op when idle or not paused.
func (st *State) MarkResumed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cur.Idle() || !st.cur.Paused() {
		return false
	}
	st.cur.PausedTotal += time.Since(st.cur.PausedAt)
	st.cur.PausedAt = time.Time{}
	return true
}

// TakeIfMatches clears the state and returns the item ID if the current
// item's source URL equals the argument. A non-matching ref leaves the
// state untouched: a stale "finished" event for a superseded track becomes
// a safe no-op.
func (st *State) TakeIfMatches(sourceURL string) (int64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cur.Idle() || st.cur.SourceURL != sourceURL {
		return 0, false
	}
	id := st.cur.ItemID
	st.cur = Snapshot{}
	return id, true
}

// Snapshot returns a copy of the current state.
func (st *State) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cur
}
