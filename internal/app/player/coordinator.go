package player

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yonagi/tsbox/internal/domain/track"
	"github.com/yonagi/tsbox/internal/infra/voice"
)

// Errors
var (
	ErrQueueExhausted = errors.New("queue exhausted")
	ErrNothingPlaying = errors.New("nothing is playing")
)

// Volume bounds accepted by the coordinator.
const (
	MinVolume = 0
	MaxVolume = 200
)

// Config holds coordinator configuration.
type Config struct {
	ReconnectBackoff time.Duration // Delay before re-opening a dead event stream
	Debounce         time.Duration // Announcer quiet window
	MinPushInterval  time.Duration // Announcer minimum time between pushes
	QueuePreview     int           // Queue entries shown in the channel description
}

// Coordinator owns the playback state, the shuffle/repeat configuration and
// the announcer, and drives the voice service. One instance per process;
// every handler shares it by reference.
type Coordinator struct {
	state     *State
	store     Store
	voice     VoiceClient
	resolver  Resolver
	announcer *Announcer
	cfg       Config

	mu      sync.Mutex // guards shuffle and repeat
	shuffle *shuffler  // nil while shuffle is disabled
	repeat  RepeatMode
}

// Status is the combined playback status reported to callers.
type Status struct {
	State         string // idle, playing, paused
	ItemID        int64
	SourceRef     string
	Title         string
	Artist        string
	Album         string
	ArtworkURL    string
	Position      time.Duration
	Duration      time.Duration
	Shuffle       bool
	Repeat        RepeatMode
	VolumePercent int // -1 when the voice service is unreachable
}

// NewCoordinator creates a playback coordinator.
func NewCoordinator(cfg Config, store Store, voiceClient VoiceClient, resolver Resolver) *Coordinator {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 2 * time.Second
	}
	if cfg.QueuePreview <= 0 {
		cfg.QueuePreview = 5
	}

	c := &Coordinator{
		state:    NewState(),
		store:    store,
		voice:    voiceClient,
		resolver: resolver,
		cfg:      cfg,
		repeat:   RepeatNone,
	}
	c.announcer = NewAnnouncer(cfg.Debounce, cfg.MinPushInterval, c.pushStatus)
	return c
}

// Run drives the announcer and the event subscription loop until ctx ends.
// onChat receives relayed chat messages; it must not panic and must handle
// its own errors.
func (c *Coordinator) Run(ctx context.Context, onChat func(context.Context, *voice.ChatEvent)) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.announcer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.eventLoop(ctx, onChat)
	}()
	wg.Wait()
}

// eventLoop keeps the event subscription open, reconnecting with a backoff
// delay whenever the stream dies, until the context is cancelled.
func (c *Coordinator) eventLoop(ctx context.Context, onChat func(context.Context, *voice.ChatEvent)) {
	for {
		stream, err := c.voice.SubscribeEvents(ctx, true, true)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zlog.Warn().Msgf("player: event subscribe failed, retrying in %v: %v", c.cfg.ReconnectBackoff, err)
			if !sleep(ctx, c.cfg.ReconnectBackoff) {
				return
			}
			continue
		}

		zlog.Info().Msg("player: event stream connected")
		for stream.Receive() {
			ev := stream.Event()
			switch {
			case ev.Chat != nil:
				if onChat != nil {
					onChat(ctx, ev.Chat)
				}
			case ev.Playback != nil:
				c.handlePlaybackEvent(ctx, ev.Playback)
			}
		}
		_ = stream.Close()

		if ctx.Err() != nil {
			return
		}
		zlog.Warn().Msgf("player: event stream ended, reconnecting in %v: %v", c.cfg.ReconnectBackoff, stream.Err())
		if !sleep(ctx, c.cfg.ReconnectBackoff) {
			return
		}
	}
}

// handlePlaybackEvent reacts to a pushed playback notification. Errors are
// contained here; one bad event never takes the loop down.
func (c *Coordinator) handlePlaybackEvent(ctx context.Context, ev *voice.PlaybackEvent) {
	zlog.Debug().Msgf("player: playback event: type=%s source=%s", ev.Type, ev.SourceURL)

	switch ev.Type {
	case voice.PlaybackStarted:
		c.announcer.Notify()
	case voice.PlaybackFinished:
		c.onTrackDone(ctx, ev.SourceURL, false)
	case voice.PlaybackError:
		zlog.Warn().Msgf("player: track errored: source=%s detail=%s", ev.SourceURL, ev.Detail)
		c.onTrackDone(ctx, ev.SourceURL, true)
	}
}

// onTrackDone handles natural advance after a finish or error event.
func (c *Coordinator) onTrackDone(ctx context.Context, sourceURL string, failed bool) {
	id, ok := c.state.TakeIfMatches(sourceURL)
	if !ok {
		// Superseded track; a user action already moved playback on.
		zlog.Debug().Msgf("player: stale playback event ignored: source=%s", sourceURL)
		return
	}
	c.announcer.Notify()

	c.mu.Lock()
	repeat := c.repeat
	c.mu.Unlock()

	// Repeat-one replays the same item on natural advance only.
	if repeat == RepeatOne && !failed {
		if err := c.PlayItem(ctx, id, ""); err != nil {
			zlog.Error().Msgf("player: repeat-one replay failed: id=%d err=%v", id, err)
		}
		return
	}

	// Errored items are always consumed so a broken track cannot loop.
	// Finished items are consumed unless a repeat mode needs them for wrap.
	if failed || repeat == RepeatNone {
		c.removeFromQueue(ctx, id)
	}

	if err := c.advanceAfter(ctx, id, ""); err != nil {
		if errors.Is(err, ErrQueueExhausted) {
			zlog.Info().Msg("player: queue exhausted")
			return
		}
		zlog.Error().Msgf("player: auto-advance failed: %v", err)
	}
}

// PlayItem refreshes the item's source URL and starts playback.
func (c *Coordinator) PlayItem(ctx context.Context, id int64, requestedBy string) error {
	item, err := c.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	playable := *item
	// Refresh metadata and media URL right before playing; resolved CDN
	// URLs expire.
	if songID, ok := track.NeteaseID(item.Track.SourceRef); ok {
		resolved, err := c.resolver.Resolve(ctx, songID)
		if err != nil {
			return err
		}
		playable.Track = *resolved
	}
	if playable.Track.SourceURL == "" {
		playable.Track.SourceURL = playable.Track.SourceRef
	}

	requester := requestedBy
	if requester == "" {
		requester = item.RequestedBy
	}

	label := playable.Track.Label()
	err = c.voice.Play(ctx, voice.PlayRequest{
		SourceURL:   playable.Track.SourceURL,
		Title:       label,
		RequestedBy: requester,
		Notice:      "▶ " + label,
	})
	if err != nil {
		return errors.Wrap(err, "failed to start playback")
	}

	c.state.SetNowPlaying(&playable, playable.Track.SourceURL)

	c.mu.Lock()
	if c.shuffle != nil {
		c.shuffle.seek(id)
	}
	c.mu.Unlock()

	if err := c.store.AppendHistory(ctx, track.HistoryRecord{
		Track:       playable.Track,
		RequestedBy: requester,
	}); err != nil {
		zlog.Warn().Msgf("player: failed to append history: %v", err)
	}

	c.announcer.Notify()
	return nil
}

// Start begins playback: resumes when paused, no-ops when already playing,
// otherwise plays the first scheduled item.
func (c *Coordinator) Start(ctx context.Context, requestedBy string) error {
	snap := c.state.Snapshot()
	if snap.Paused() {
		return c.Resume(ctx)
	}
	if !snap.Idle() {
		return nil
	}
	return c.advanceAfter(ctx, 0, requestedBy)
}

// Pause pauses playback. Safe to call again while already paused.
func (c *Coordinator) Pause(ctx context.Context) error {
	snap := c.state.Snapshot()
	if snap.Idle() {
		return ErrNothingPlaying
	}
	if snap.Paused() {
		return nil
	}

	if err := c.voice.Pause(ctx); err != nil {
		return err
	}
	c.state.MarkPaused()
	c.announcer.Notify()
	return nil
}

// Resume resumes paused playback.
func (c *Coordinator) Resume(ctx context.Context) error {
	snap := c.state.Snapshot()
	if snap.Idle() {
		return ErrNothingPlaying
	}
	if !snap.Paused() {
		return nil
	}

	if err := c.voice.Resume(ctx); err != nil {
		return err
	}
	c.state.MarkResumed()
	c.announcer.Notify()
	return nil
}

// Stop stops playback and clears the now-playing state. The current item
// stays in the queue.
func (c *Coordinator) Stop(ctx context.Context) error {
	if err := c.voice.Stop(ctx); err != nil {
		return err
	}
	c.state.SetNowPlaying(nil, "")
	c.announcer.Notify()
	return nil
}

// Next advances to the next scheduled item without removing the current one
// from the queue. Starting the new track supersedes the old one on the
// voice service.
func (c *Coordinator) Next(ctx context.Context, requestedBy string) error {
	snap := c.state.Snapshot()
	c.state.SetNowPlaying(nil, "")

	err := c.advanceAfter(ctx, snap.ItemID, requestedBy)
	if errors.Is(err, ErrQueueExhausted) {
		_ = c.voice.Stop(ctx)
		c.announcer.Notify()
	}
	return err
}

// Skip removes the current item from the queue, aborts it on the voice
// service, and advances. The skipped item will not be replayed, even under
// repeat-one.
func (c *Coordinator) Skip(ctx context.Context, requestedBy string) error {
	snap := c.state.Snapshot()
	if snap.Idle() {
		return ErrNothingPlaying
	}

	c.state.SetNowPlaying(nil, "")
	c.removeFromQueue(ctx, snap.ItemID)

	if err := c.voice.Skip(ctx); err != nil {
		// Best effort: the next Play replaces the track anyway.
		zlog.Warn().Msgf("player: skip rpc failed: %v", err)
	}

	return c.advanceAfter(ctx, snap.ItemID, requestedBy)
}

// Previous steps back: in shuffle mode the cursor retreats (wrapping under
// repeat-all), in sequential mode the nearest smaller queue ID plays.
// Nothing is removed from the queue.
func (c *Coordinator) Previous(ctx context.Context, requestedBy string) error {
	c.mu.Lock()
	sh, repeat := c.shuffle, c.repeat
	if sh != nil {
		id, ok := sh.retreat(repeat)
		c.mu.Unlock()
		if !ok {
			return ErrQueueExhausted
		}
		return c.PlayItem(ctx, id, requestedBy)
	}
	c.mu.Unlock()

	snap := c.state.Snapshot()
	if snap.ItemID != 0 {
		items, err := c.store.ListBefore(ctx, snap.ItemID, 1)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			return c.PlayItem(ctx, items[0].ID, requestedBy)
		}
		if repeat != RepeatAll {
			return ErrQueueExhausted
		}
	}

	last, err := c.store.Last(ctx)
	if err != nil {
		return err
	}
	if last == nil {
		return ErrQueueExhausted
	}
	return c.PlayItem(ctx, last.ID, requestedBy)
}

// Enqueue appends a track to the queue.
func (c *Coordinator) Enqueue(ctx context.Context, t track.Track, requestedBy string) (int64, error) {
	if t.SourceURL == "" {
		if _, netease := track.NeteaseID(t.SourceRef); !netease {
			t.SourceURL = t.SourceRef
		}
	}

	id, err := c.store.Enqueue(ctx, track.QueueItem{Track: t, RequestedBy: requestedBy})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.shuffle != nil {
		c.shuffle.add(id)
	}
	c.mu.Unlock()

	c.announcer.Notify()
	return id, nil
}

// RemoveItem deletes a queued item. Removing the item that is currently
// playing does not interrupt it; its finish event becomes a no-op.
func (c *Coordinator) RemoveItem(ctx context.Context, id int64) error {
	c.removeFromQueue(ctx, id)
	c.announcer.Notify()
	return nil
}

// SetShuffle toggles shuffle mode. Enabling captures a fresh permutation of
// the current queue with the cursor at the playing item.
func (c *Coordinator) SetShuffle(ctx context.Context, enabled bool) error {
	if !enabled {
		c.mu.Lock()
		c.shuffle = nil
		c.mu.Unlock()
		c.announcer.Notify()
		return nil
	}

	items, err := c.store.ListAll(ctx, true)
	if err != nil {
		return err
	}
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	snap := c.state.Snapshot()

	c.mu.Lock()
	c.shuffle = newShuffler(ids, snap.ItemID)
	c.mu.Unlock()

	c.announcer.Notify()
	return nil
}

// SetRepeat sets the repeat mode.
func (c *Coordinator) SetRepeat(mode RepeatMode) {
	c.mu.Lock()
	c.repeat = mode
	c.mu.Unlock()
	c.announcer.Notify()
}

// SetVolume clamps and applies the output volume.
func (c *Coordinator) SetVolume(ctx context.Context, percent int) (int, error) {
	percent = clampInt(percent, MinVolume, MaxVolume)
	if err := c.voice.SetVolume(ctx, percent); err != nil {
		return 0, err
	}
	return percent, nil
}

// SetAudioFx clamps and applies a partial audio effect update.
func (c *Coordinator) SetAudioFx(ctx context.Context, fx voice.AudioFxUpdate) error {
	clampFloat(fx.Pan, -1, 1)
	clampFloat(fx.Width, 0, 3)
	clampFloat(fx.BassDb, 0, 18)
	clampFloat(fx.ReverbMix, 0, 1)
	return c.voice.SetAudioFx(ctx, fx)
}

// AudioFx returns the current audio effect state.
func (c *Coordinator) AudioFx(ctx context.Context) (*voice.AudioFx, error) {
	return c.voice.GetAudioFx(ctx)
}

// Notice sends a chat notice into the voice channel.
func (c *Coordinator) Notice(ctx context.Context, text string) error {
	return c.voice.SendNotice(ctx, text, voice.ScopeChannel)
}

// SetDescription overwrites the channel description. The next announcer
// push replaces it again.
func (c *Coordinator) SetDescription(ctx context.Context, text string) error {
	return c.voice.SetClientDescription(ctx, text)
}

// Status returns the combined playback status. The volume comes from the
// voice service; when it is unreachable the rest is still reported.
func (c *Coordinator) Status(ctx context.Context) Status {
	snap := c.state.Snapshot()
	c.mu.Lock()
	shuffleOn, repeat := c.shuffle != nil, c.repeat
	c.mu.Unlock()

	st := Status{
		State:         snap.StateName(),
		ItemID:        snap.ItemID,
		SourceRef:     snap.SourceRef,
		Title:         snap.Title,
		Artist:        snap.Artist,
		Album:         snap.Album,
		ArtworkURL:    snap.ArtworkURL,
		Position:      snap.Position(time.Now()),
		Duration:      snap.Duration,
		Shuffle:       shuffleOn,
		Repeat:        repeat,
		VolumePercent: -1,
	}

	if vs, err := c.voice.GetStatus(ctx); err == nil {
		st.VolumePercent = vs.VolumePercent
	} else {
		zlog.Debug().Msgf("player: voice status unavailable: %v", err)
	}
	return st
}

// Queue returns the full queue in play order (by ID).
func (c *Coordinator) Queue(ctx context.Context) ([]track.QueueItem, error) {
	return c.store.ListAll(ctx, true)
}

// History returns recent play history, newest first.
func (c *Coordinator) History(ctx context.Context, limit int) ([]track.HistoryRecord, error) {
	return c.store.ListHistory(ctx, limit)
}

// UpNext returns up to limit items scheduled after the current one.
func (c *Coordinator) UpNext(ctx context.Context, limit int) ([]track.QueueItem, error) {
	c.mu.Lock()
	sh := c.shuffle
	var ids []int64
	if sh != nil {
		ids = sh.upcoming(limit)
	}
	c.mu.Unlock()

	if sh != nil {
		items := make([]track.QueueItem, 0, len(ids))
		for _, id := range ids {
			item, err := c.store.GetByID(ctx, id)
			if err != nil {
				continue
			}
			items = append(items, *item)
		}
		return items, nil
	}

	snap := c.state.Snapshot()
	return c.store.ListAfter(ctx, snap.ItemID, limit)
}

// advanceAfter computes the next scheduled item after afterID and plays it.
func (c *Coordinator) advanceAfter(ctx context.Context, afterID int64, requestedBy string) error {
	id, ok, err := c.nextItemID(ctx, afterID)
	if err != nil {
		return err
	}
	if !ok {
		c.announcer.Notify()
		return ErrQueueExhausted
	}
	return c.PlayItem(ctx, id, requestedBy)
}

// nextItemID picks the next item: shuffle cursor advance when shuffle is
// on, otherwise the smallest queue ID after afterID (wrapping under
// repeat-all).
func (c *Coordinator) nextItemID(ctx context.Context, afterID int64) (int64, bool, error) {
	c.mu.Lock()
	if c.shuffle != nil {
		id, ok := c.shuffle.advance(c.repeat)
		c.mu.Unlock()
		return id, ok, nil
	}
	repeat := c.repeat
	c.mu.Unlock()

	items, err := c.store.ListAfter(ctx, afterID, 1)
	if err != nil {
		return 0, false, err
	}
	if len(items) > 0 {
		return items[0].ID, true, nil
	}

	if repeat == RepeatAll {
		first, err := c.store.First(ctx)
		if err != nil {
			return 0, false, err
		}
		if first != nil {
			return first.ID, true, nil
		}
	}
	return 0, false, nil
}

// removeFromQueue deletes an item from the store and the shuffle order.
func (c *Coordinator) removeFromQueue(ctx context.Context, id int64) {
	if err := c.store.DeleteByID(ctx, id); err != nil {
		zlog.Warn().Msgf("player: failed to delete queue item %d: %v", id, err)
	}
	c.mu.Lock()
	if c.shuffle != nil {
		c.shuffle.remove(id)
	}
	c.mu.Unlock()
}

// pushStatus renders the channel description and pushes it.
func (c *Coordinator) pushStatus(ctx context.Context) error {
	snap := c.state.Snapshot()
	c.mu.Lock()
	shuffleOn, repeat := c.shuffle != nil, c.repeat
	c.mu.Unlock()

	var b strings.Builder
	if snap.Idle() {
		b.WriteString("Nothing playing")
	} else {
		marker := "▶"
		if snap.Paused() {
			marker = "⏸"
		}
		label := snap.Title
		if snap.Artist != "" {
			label += " - " + snap.Artist
		}
		fmt.Fprintf(&b, "%s %s", marker, label)
		if snap.Duration > 0 {
			fmt.Fprintf(&b, " [%s/%s]", formatDuration(snap.Position(time.Now())), formatDuration(snap.Duration))
		}
	}

	var modes []string
	if shuffleOn {
		modes = append(modes, "shuffle")
	}
	if repeat != RepeatNone {
		modes = append(modes, "repeat "+repeat.String())
	}
	if len(modes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(modes, ", "))
	}

	upNext, err := c.UpNext(ctx, c.cfg.QueuePreview)
	if err != nil {
		zlog.Debug().Msgf("player: failed to list upcoming items: %v", err)
	}
	for i, item := range upNext {
		fmt.Fprintf(&b, "\n%d. %s", i+1, item.Track.Label())
	}

	return c.voice.SetClientDescription(ctx, b.String())
}

// Announce signals the announcer that external state changed.
func (c *Coordinator) Announce() {
	c.announcer.Notify()
}

// formatDuration renders mm:ss.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// sleep waits for d or until the context ends; false means cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampFloat clamps an optional field in place.
func clampFloat(v *float64, lo, hi float64) {
	if v == nil {
		return
	}
	if *v < lo {
		*v = lo
	}
	if *v > hi {
		*v = hi
	}
}
