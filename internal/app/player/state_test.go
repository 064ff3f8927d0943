package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yonagi/tsbox/internal/domain/track"
)

func TestSnapshot_Position(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		snap     Snapshot
		now      time.Time
		expected time.Duration
	}{
		{
			name:     "Idle",
			snap:     Snapshot{},
			now:      start,
			expected: 0,
		},
		{
			name: "Playing",
			snap: Snapshot{
				ItemID:    1,
				Duration:  4 * time.Minute,
				StartedAt: start,
			},
			now:      start.Add(30 * time.Second),
			expected: 30 * time.Second,
		},
		{
			name: "Paused holds position",
			snap: Snapshot{
				ItemID:    1,
				Duration:  4 * time.Minute,
				StartedAt: start,
				PausedAt:  start.Add(45 * time.Second),
			},
			now:      start.Add(5 * time.Minute),
			expected: 45 * time.Second,
		},
		{
			name: "Resumed excludes paused time",
			snap: Snapshot{
				ItemID:      1,
				Duration:    4 * time.Minute,
				StartedAt:   start,
				PausedTotal: 20 * time.Second,
			},
			now:      start.Add(time.Minute),
			expected: 40 * time.Second,
		},
		{
			name: "Clamped to duration",
			snap: Snapshot{
				ItemID:    1,
				Duration:  time.Minute,
				StartedAt: start,
			},
			now:      start.Add(10 * time.Minute),
			expected: time.Minute,
		},
		{
			name: "Never negative",
			snap: Snapshot{
				ItemID:      1,
				Duration:    time.Minute,
				StartedAt:   start,
				PausedTotal: time.Minute,
			},
			now:      start.Add(10 * time.Second),
			expected: 0,
		},
		{
			name: "Unknown duration is not clamped",
			snap: Snapshot{
				ItemID:    1,
				StartedAt: start,
			},
			now:      start.Add(2 * time.Hour),
			expected: 2 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.snap.Position(tt.now))
		})
	}
}

func TestSnapshot_StateName(t *testing.T) {
	assert.Equal(t, "idle", Snapshot{}.StateName())
	assert.Equal(t, "playing", Snapshot{ItemID: 1}.StateName())
	assert.Equal(t, "paused", Snapshot{ItemID: 1, PausedAt: time.Now()}.StateName())
}

func TestState_PauseResume(t *testing.T) {
	st := NewState()

	// Pause and resume are no-ops while idle
	assert.False(t, st.MarkPaused())
	assert.False(t, st.MarkResumed())

	st.SetNowPlaying(&track.QueueItem{ID: 7, Track: track.Track{Title: "a"}}, "http://cdn/a")

	assert.True(t, st.MarkPaused())
	assert.False(t, st.MarkPaused()) // already paused
	assert.True(t, st.Snapshot().Paused())

	assert.True(t, st.MarkResumed())
	assert.False(t, st.MarkResumed()) // already playing
	assert.False(t, st.Snapshot().Paused())
}

func TestState_TakeIfMatches(t *testing.T) {
	st := NewState()
	st.SetNowPlaying(&track.QueueItem{ID: 3, Track: track.Track{Title: "a"}}, "http://cdn/a")

	// A stale event for another source leaves the state alone
	id, ok := st.TakeIfMatches("http://cdn/other")
	assert.False(t, ok)
	assert.Zero(t, id)
	assert.Equal(t, int64(3), st.Snapshot().ItemID)

	// The matching event consumes the state exactly once
	id, ok = st.TakeIfMatches("http://cdn/a")
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)

	_, ok = st.TakeIfMatches("http://cdn/a")
	assert.False(t, ok)
	assert.True(t, st.Snapshot().Idle())
}

func TestState_SetNowPlayingNilClears(t *testing.T) {
	st := NewState()
	st.SetNowPlaying(&track.QueueItem{ID: 1, Track: track.Track{Title: "a"}}, "http://cdn/a")
	st.SetNowPlaying(nil, "")
	assert.True(t, st.Snapshot().Idle())
}
