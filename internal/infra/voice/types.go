// Package voice provides a Connect RPC client for the voice playback service.
package voice

// TargetScope selects where a notice is delivered.
type TargetScope int

const (
	ScopeChannel TargetScope = iota // Current voice channel
	ScopeServer                     // Whole server
)

// PlaybackEventType classifies server-pushed playback events.
type PlaybackEventType int

const (
	PlaybackStarted  PlaybackEventType = 1
	PlaybackFinished PlaybackEventType = 2
	PlaybackError    PlaybackEventType = 3
)

// String returns the string representation of the event type.
func (t PlaybackEventType) String() string {
	switch t {
	case PlaybackStarted:
		return "started"
	case PlaybackFinished:
		return "finished"
	case PlaybackError:
		return "error"
	default:
		return "unknown"
	}
}

// Empty is the empty request/response message.
type Empty struct{}

// PlayRequest starts playback of a media URL.
type PlayRequest struct {
	SourceURL   string `json:"source_url"`
	Title       string `json:"title"`
	RequestedBy string `json:"requested_by"`
	Notice      string `json:"notice,omitempty"`
}

// CommandResponse is the generic command acknowledgement.
type CommandResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// SetVolumeRequest sets the output volume.
type SetVolumeRequest struct {
	VolumePercent int `json:"volume_percent"`
}

// Status is the player-side view of playback.
type Status struct {
	State               string `json:"state"` // idle, playing, paused, buffering, error
	NowPlayingTitle     string `json:"now_playing_title"`
	NowPlayingSourceURL string `json:"now_playing_source_url"`
	VolumePercent       int    `json:"volume_percent"`
}

// AudioFxUpdate carries partial audio effect changes; nil fields are untouched.
// The service clamps values to its own valid ranges.
type AudioFxUpdate struct {
	Pan       *float64 `json:"pan,omitempty"`        // [-1, 1]
	Width     *float64 `json:"width,omitempty"`      // [0, 3]
	SwapLR    *bool    `json:"swap_lr,omitempty"`    //
	BassDb    *float64 `json:"bass_db,omitempty"`    // [0, 18]
	ReverbMix *float64 `json:"reverb_mix,omitempty"` // [0, 1]
}

// AudioFx is the full audio effect state.
type AudioFx struct {
	Pan       float64 `json:"pan"`
	Width     float64 `json:"width"`
	SwapLR    bool    `json:"swap_lr"`
	BassDb    float64 `json:"bass_db"`
	ReverbMix float64 `json:"reverb_mix"`
}

// NoticeRequest sends a chat notice.
type NoticeRequest struct {
	Message     string      `json:"message"`
	TargetScope TargetScope `json:"target_scope"`
}

// SetClientDescriptionRequest updates the bot's channel description field.
type SetClientDescriptionRequest struct {
	Description string `json:"description"`
}

// SubscribeRequest opens the server event stream.
type SubscribeRequest struct {
	IncludeChat     bool `json:"include_chat"`
	IncludePlayback bool `json:"include_playback"`
}

// ChatEvent is an inbound chat message relayed from the voice channel.
type ChatEvent struct {
	InvokerName string      `json:"invoker_name"`
	Message     string      `json:"message"`
	TargetScope TargetScope `json:"target_scope"`
}

// PlaybackEvent is a playback lifecycle notification.
type PlaybackEvent struct {
	Type      PlaybackEventType `json:"type"`
	Title     string            `json:"title"`
	SourceURL string            `json:"source_url"`
	Detail    string            `json:"detail,omitempty"`
}

// Event is the tagged union carried on the subscription stream.
// Exactly one of Chat and Playback is set.
type Event struct {
	UnixMs   int64          `json:"unix_ms"`
	Chat     *ChatEvent     `json:"chat,omitempty"`
	Playback *PlaybackEvent `json:"playback,omitempty"`
}
