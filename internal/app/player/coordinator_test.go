package player

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yonagi/tsbox/internal/domain/track"
	"github.com/yonagi/tsbox/internal/infra/store"
	"github.com/yonagi/tsbox/internal/infra/voice"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	items   map[int64]track.QueueItem
	history []track.HistoryRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, items: map[int64]track.QueueItem{}}
}

func (f *fakeStore) Enqueue(_ context.Context, item track.QueueItem) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.nextID
	f.nextID++
	f.items[item.ID] = item
	return item.ID, nil
}

func (f *fakeStore) DeleteByID(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*track.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (f *fakeStore) sorted() []track.QueueItem {
	out := make([]track.QueueItem, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) ListAll(_ context.Context, ascending bool) ([]track.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sorted()
	if !ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (f *fakeStore) ListAfter(_ context.Context, id int64, limit int) ([]track.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []track.QueueItem
	for _, item := range f.sorted() {
		if item.ID > id {
			out = append(out, item)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListBefore(_ context.Context, id int64, limit int) ([]track.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := f.sorted()
	var out []track.QueueItem
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].ID < id {
			out = append(out, sorted[i])
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) First(_ context.Context) (*track.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := f.sorted()
	if len(sorted) == 0 {
		return nil, nil
	}
	return &sorted[0], nil
}

func (f *fakeStore) Last(_ context.Context) (*track.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := f.sorted()
	if len(sorted) == 0 {
		return nil, nil
	}
	return &sorted[len(sorted)-1], nil
}

func (f *fakeStore) AppendHistory(_ context.Context, rec track.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = int64(len(f.history) + 1)
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeStore) ListHistory(_ context.Context, limit int) ([]track.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []track.HistoryRecord
	for i := len(f.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.history[i])
	}
	return out, nil
}

// fakeVoice records commands sent to the voice service.
type fakeVoice struct {
	mu       sync.Mutex
	played   []voice.PlayRequest
	stops    int
	skips    int
	volume   int
	descText string
	notices  []string
	fx       voice.AudioFx
}

func (f *fakeVoice) Play(_ context.Context, req voice.PlayRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, req)
	return nil
}

func (f *fakeVoice) Pause(context.Context) error  { return nil }
func (f *fakeVoice) Resume(context.Context) error { return nil }

func (f *fakeVoice) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeVoice) Skip(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips++
	return nil
}

func (f *fakeVoice) SetVolume(_ context.Context, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = percent
	return nil
}

func (f *fakeVoice) GetStatus(context.Context) (*voice.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &voice.Status{VolumePercent: f.volume}, nil
}

func (f *fakeVoice) SetAudioFx(_ context.Context, fx voice.AudioFxUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fx.Pan != nil {
		f.fx.Pan = *fx.Pan
	}
	if fx.Width != nil {
		f.fx.Width = *fx.Width
	}
	if fx.SwapLR != nil {
		f.fx.SwapLR = *fx.SwapLR
	}
	if fx.BassDb != nil {
		f.fx.BassDb = *fx.BassDb
	}
	if fx.ReverbMix != nil {
		f.fx.ReverbMix = *fx.ReverbMix
	}
	return nil
}

func (f *fakeVoice) GetAudioFx(context.Context) (*voice.AudioFx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fx := f.fx
	return &fx, nil
}

func (f *fakeVoice) SendNotice(_ context.Context, text string, _ voice.TargetScope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
	return nil
}

func (f *fakeVoice) SetClientDescription(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descText = text
	return nil
}

func (f *fakeVoice) SubscribeEvents(context.Context, bool, bool) (EventStream, error) {
	return nil, assert.AnError
}

func (f *fakeVoice) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

func (f *fakeVoice) lastPlayed() voice.PlayRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.played[len(f.played)-1]
}

// fakeResolver serves canned tracks keyed by song ID.
type fakeResolver struct {
	tracks map[string]track.Track
}

func (f *fakeResolver) Search(_ context.Context, keywords string, limit int) ([]track.Track, error) {
	var out []track.Track
	for _, t := range f.tracks {
		if t.Title == keywords && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeResolver) Detail(_ context.Context, songID string) (*track.Track, error) {
	t, ok := f.tracks[songID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (f *fakeResolver) Resolve(ctx context.Context, songID string) (*track.Track, error) {
	return f.Detail(ctx, songID)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeStore, *fakeVoice) {
	t.Helper()
	st := newFakeStore()
	vc := &fakeVoice{volume: 100}
	resolver := &fakeResolver{tracks: map[string]track.Track{
		"100": {SourceRef: "netease:100", Title: "alpha", Artist: "x", SourceURL: "http://cdn/100"},
		"200": {SourceRef: "netease:200", Title: "beta", Artist: "y", SourceURL: "http://cdn/200"},
		"300": {SourceRef: "netease:300", Title: "gamma", Artist: "z", SourceURL: "http://cdn/300"},
	}}
	return NewCoordinator(Config{}, st, vc, resolver), st, vc
}

func enqueueThree(t *testing.T, c *Coordinator) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, 3)
	for _, ref := range []string{"netease:100", "netease:200", "netease:300"} {
		id, err := c.Enqueue(ctx, track.Track{SourceRef: ref}, "tester")
		assert.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestCoordinator_PlayThroughQueue(t *testing.T) {
	c, st, vc := newTestCoordinator(t)
	ctx := context.Background()
	ids := enqueueThree(t, c)

	// Start plays the first item with refreshed metadata
	assert.NoError(t, c.Start(ctx, "tester"))
	assert.Equal(t, 1, vc.playCount())
	assert.Equal(t, "http://cdn/100", vc.lastPlayed().SourceURL)
	assert.Equal(t, "alpha - x", vc.lastPlayed().Title)

	// A finished event consumes the item and advances
	c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: "http://cdn/100"})
	assert.Equal(t, 2, vc.playCount())
	assert.Equal(t, "http://cdn/200", vc.lastPlayed().SourceURL)
	_, err := st.GetByID(ctx, ids[0])
	assert.ErrorIs(t, err, store.ErrNotFound)

	// A stale finish event for the consumed track is ignored
	c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: "http://cdn/100"})
	assert.Equal(t, 2, vc.playCount())

	c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: "http://cdn/200"})
	assert.Equal(t, 3, vc.playCount())

	// Last track done: queue exhausted, player idle
	c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: "http://cdn/300"})
	assert.Equal(t, 3, vc.playCount())
	assert.Equal(t, "idle", c.Status(ctx).State)

	// Each play start was recorded in history
	hist, err := c.History(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, hist, 3)
	assert.Equal(t, "gamma", hist[0].Track.Title)
}

func TestCoordinator_ErroredTrackIsConsumed(t *testing.T) {
	c, st, vc := newTestCoordinator(t)
	ctx := context.Background()
	ids := enqueueThree(t, c)
	c.SetRepeat(RepeatAll)

	assert.NoError(t, c.Start(ctx, ""))
	c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackError, SourceURL: "http://cdn/100", Detail: "decode failed"})

	// Even under repeat-all the broken item is gone, playback moved on
	_, err := st.GetByID(ctx, ids[0])
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, "http://cdn/200", vc.lastPlayed().SourceURL)
}

func TestCoordinator_RepeatOneReplays(t *testing.T) {
	c, st, vc := newTestCoordinator(t)
	ctx := context.Background()
	ids := enqueueThree(t, c)
	c.SetRepeat(RepeatOne)

	assert.NoError(t, c.Start(ctx, ""))
	c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: "http://cdn/100"})

	// Same item again, still queued
	assert.Equal(t, 2, vc.playCount())
	assert.Equal(t, "http://cdn/100", vc.lastPlayed().SourceURL)
	_, err := st.GetByID(ctx, ids[0])
	assert.NoError(t, err)
}

func TestCoordinator_RepeatAllWraps(t *testing.T) {
	c, _, vc := newTestCoordinator(t)
	ctx := context.Background()
	enqueueThree(t, c)
	c.SetRepeat(RepeatAll)

	assert.NoError(t, c.Start(ctx, ""))
	for _, url := range []string{"http://cdn/100", "http://cdn/200", "http://cdn/300"} {
		c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: url})
	}

	// After the last item, playback wrapped to the first
	assert.Equal(t, 4, vc.playCount())
	assert.Equal(t, "http://cdn/100", vc.lastPlayed().SourceURL)
}

func TestCoordinator_SkipConsumesCurrent(t *testing.T) {
	c, st, vc := newTestCoordinator(t)
	ctx := context.Background()
	ids := enqueueThree(t, c)

	assert.ErrorIs(t, c.Skip(ctx, ""), ErrNothingPlaying)

	assert.NoError(t, c.Start(ctx, ""))
	assert.NoError(t, c.Skip(ctx, "tester"))

	_, err := st.GetByID(ctx, ids[0])
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, "http://cdn/200", vc.lastPlayed().SourceURL)

	// The skipped track's late finish event must not double-advance
	c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: "http://cdn/100"})
	assert.Equal(t, 2, vc.playCount())
}

func TestCoordinator_NextKeepsCurrent(t *testing.T) {
	c, st, vc := newTestCoordinator(t)
	ctx := context.Background()
	ids := enqueueThree(t, c)

	assert.NoError(t, c.Start(ctx, ""))
	assert.NoError(t, c.Next(ctx, ""))

	// The superseded item stays in the queue
	_, err := st.GetByID(ctx, ids[0])
	assert.NoError(t, err)
	assert.Equal(t, "http://cdn/200", vc.lastPlayed().SourceURL)
}

func TestCoordinator_NextOnExhaustedStops(t *testing.T) {
	c, _, vc := newTestCoordinator(t)
	ctx := context.Background()
	enqueueThree(t, c)

	assert.NoError(t, c.PlayItem(ctx, 3, ""))
	assert.ErrorIs(t, c.Next(ctx, ""), ErrQueueExhausted)
	assert.Equal(t, 1, vc.stops)
	assert.Equal(t, "idle", c.Status(ctx).State)
}

func TestCoordinator_PauseResume(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	enqueueThree(t, c)

	assert.ErrorIs(t, c.Pause(ctx), ErrNothingPlaying)
	assert.ErrorIs(t, c.Resume(ctx), ErrNothingPlaying)

	assert.NoError(t, c.Start(ctx, ""))
	assert.NoError(t, c.Pause(ctx))
	assert.Equal(t, "paused", c.Status(ctx).State)
	assert.NoError(t, c.Pause(ctx)) // idempotent

	// Start while paused resumes
	assert.NoError(t, c.Start(ctx, ""))
	assert.Equal(t, "playing", c.Status(ctx).State)
}

func TestCoordinator_SetVolumeClamps(t *testing.T) {
	c, _, vc := newTestCoordinator(t)
	ctx := context.Background()

	applied, err := c.SetVolume(ctx, 999)
	assert.NoError(t, err)
	assert.Equal(t, MaxVolume, applied)
	assert.Equal(t, MaxVolume, vc.volume)

	applied, err = c.SetVolume(ctx, -5)
	assert.NoError(t, err)
	assert.Equal(t, MinVolume, applied)
}

func TestCoordinator_SetAudioFxClamps(t *testing.T) {
	c, _, vc := newTestCoordinator(t)
	ctx := context.Background()

	pan := 5.0
	bass := -2.0
	assert.NoError(t, c.SetAudioFx(ctx, voice.AudioFxUpdate{Pan: &pan, BassDb: &bass}))
	assert.Equal(t, 1.0, vc.fx.Pan)
	assert.Equal(t, 0.0, vc.fx.BassDb)
}

func TestCoordinator_ShuffleCoversQueue(t *testing.T) {
	c, _, vc := newTestCoordinator(t)
	ctx := context.Background()
	enqueueThree(t, c)

	assert.NoError(t, c.SetShuffle(ctx, true))
	assert.True(t, c.Status(ctx).Shuffle)

	// Playing through shuffle visits every track exactly once
	assert.NoError(t, c.Start(ctx, ""))
	played := map[string]bool{vc.lastPlayed().SourceURL: true}
	for i := 0; i < 2; i++ {
		c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: vc.lastPlayed().SourceURL})
		played[vc.lastPlayed().SourceURL] = true
	}
	assert.Len(t, played, 3)

	c.handlePlaybackEvent(ctx, &voice.PlaybackEvent{Type: voice.PlaybackFinished, SourceURL: vc.lastPlayed().SourceURL})
	assert.Equal(t, 3, vc.playCount())

	assert.NoError(t, c.SetShuffle(ctx, false))
	assert.False(t, c.Status(ctx).Shuffle)
}

func TestCoordinator_UpNextSequential(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	enqueueThree(t, c)

	assert.NoError(t, c.Start(ctx, ""))
	items, err := c.UpNext(ctx, 10)
	assert.NoError(t, err)
	if assert.Len(t, items, 2) {
		assert.Equal(t, int64(2), items[0].ID)
		assert.Equal(t, int64(3), items[1].ID)
	}
}

func TestCoordinator_EnqueueDirectURL(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, track.Track{SourceRef: "http://example.com/a.mp3", Title: "raw"}, "")
	assert.NoError(t, err)

	item, err := st.GetByID(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, "http://example.com/a.mp3", item.Track.SourceURL)
}

func TestCoordinator_Previous(t *testing.T) {
	c, _, vc := newTestCoordinator(t)
	ctx := context.Background()
	enqueueThree(t, c)

	assert.NoError(t, c.PlayItem(ctx, 2, ""))
	assert.NoError(t, c.Previous(ctx, ""))
	assert.Equal(t, "http://cdn/100", vc.lastPlayed().SourceURL)

	// At the front without repeat-all there is nowhere to go
	assert.ErrorIs(t, c.Previous(ctx, ""), ErrQueueExhausted)

	c.SetRepeat(RepeatAll)
	assert.NoError(t, c.Previous(ctx, ""))
	assert.Equal(t, "http://cdn/300", vc.lastPlayed().SourceURL)
}

func TestCoordinator_StatusVolumeUnknown(t *testing.T) {
	st := newFakeStore()
	vc := &brokenStatusVoice{}
	c := NewCoordinator(Config{}, st, vc, &fakeResolver{})

	assert.Equal(t, -1, c.Status(context.Background()).VolumePercent)
}

// brokenStatusVoice fails GetStatus only.
type brokenStatusVoice struct {
	fakeVoice
}

func (b *brokenStatusVoice) GetStatus(context.Context) (*voice.Status, error) {
	return nil, assert.AnError
}
