package player

import (
	"context"

	"github.com/yonagi/tsbox/internal/domain/track"
	"github.com/yonagi/tsbox/internal/infra/voice"
)

// Store is the key-ordered queue/history persistence the coordinator
// drives. IDs are assigned by the store and increase monotonically.
type Store interface {
	Enqueue(ctx context.Context, item track.QueueItem) (int64, error)
	DeleteByID(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*track.QueueItem, error)
	ListAll(ctx context.Context, ascending bool) ([]track.QueueItem, error)
	ListAfter(ctx context.Context, id int64, limit int) ([]track.QueueItem, error)
	ListBefore(ctx context.Context, id int64, limit int) ([]track.QueueItem, error)
	First(ctx context.Context) (*track.QueueItem, error)
	Last(ctx context.Context) (*track.QueueItem, error)
	AppendHistory(ctx context.Context, rec track.HistoryRecord) error
	ListHistory(ctx context.Context, limit int) ([]track.HistoryRecord, error)
}

// VoiceClient is the capability surface of the remote voice service.
type VoiceClient interface {
	Play(ctx context.Context, req voice.PlayRequest) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Skip(ctx context.Context) error
	SetVolume(ctx context.Context, percent int) error
	GetStatus(ctx context.Context) (*voice.Status, error)
	SetAudioFx(ctx context.Context, fx voice.AudioFxUpdate) error
	GetAudioFx(ctx context.Context) (*voice.AudioFx, error)
	SendNotice(ctx context.Context, text string, scope voice.TargetScope) error
	SetClientDescription(ctx context.Context, text string) error
	SubscribeEvents(ctx context.Context, includeChat, includePlayback bool) (EventStream, error)
}

// EventStream is a server-pushed stream of voice events.
type EventStream interface {
	Receive() bool
	Event() *voice.Event
	Err() error
	Close() error
}

// Resolver turns source identifiers into playable track metadata and URLs.
type Resolver interface {
	Search(ctx context.Context, keywords string, limit int) ([]track.Track, error)
	Detail(ctx context.Context, songID string) (*track.Track, error)
	Resolve(ctx context.Context, songID string) (*track.Track, error)
}
