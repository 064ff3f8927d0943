package voice

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"golang.org/x/net/http2"
)

// Procedure paths exposed by the voice service.
const (
	procPing                 = "/voice.v1.VoiceService/Ping"
	procPlay                 = "/voice.v1.VoiceService/Play"
	procPause                = "/voice.v1.VoiceService/Pause"
	procResume               = "/voice.v1.VoiceService/Resume"
	procStop                 = "/voice.v1.VoiceService/Stop"
	procSkip                 = "/voice.v1.VoiceService/Skip"
	procSetVolume            = "/voice.v1.VoiceService/SetVolume"
	procGetStatus            = "/voice.v1.VoiceService/GetStatus"
	procSetAudioFx           = "/voice.v1.VoiceService/SetAudioFx"
	procGetAudioFx           = "/voice.v1.VoiceService/GetAudioFx"
	procSendNotice           = "/voice.v1.VoiceService/SendNotice"
	procSetClientDescription = "/voice.v1.VoiceService/SetClientDescription"
	procSubscribeEvents      = "/voice.v1.VoiceService/SubscribeEvents"
)

// jsonCodec marshals Connect messages as plain JSON. The voice service
// speaks Connect+JSON, so no generated protobuf types are needed.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

// Client is a voice service RPC client.
type Client struct {
	ping                 *connect.Client[Empty, CommandResponse]
	play                 *connect.Client[PlayRequest, CommandResponse]
	pause                *connect.Client[Empty, CommandResponse]
	resume               *connect.Client[Empty, CommandResponse]
	stop                 *connect.Client[Empty, CommandResponse]
	skip                 *connect.Client[Empty, CommandResponse]
	setVolume            *connect.Client[SetVolumeRequest, CommandResponse]
	getStatus            *connect.Client[Empty, Status]
	setAudioFx           *connect.Client[AudioFxUpdate, CommandResponse]
	getAudioFx           *connect.Client[Empty, AudioFx]
	sendNotice           *connect.Client[NoticeRequest, CommandResponse]
	setClientDescription *connect.Client[SetClientDescriptionRequest, CommandResponse]
	subscribe            *connect.Client[SubscribeRequest, Event]
}

// Config represents voice client configuration.
type Config struct {
	// Addr is the base URL of the voice service, e.g. "http://127.0.0.1:50051".
	Addr string
}

// New creates a new voice service client.
func New(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("voice service address is required")
	}
	base := strings.TrimRight(cfg.Addr, "/")

	httpClient := newHTTPClient(base)
	opts := []connect.ClientOption{connect.WithCodec(jsonCodec{})}

	return &Client{
		ping:                 connect.NewClient[Empty, CommandResponse](httpClient, base+procPing, opts...),
		play:                 connect.NewClient[PlayRequest, CommandResponse](httpClient, base+procPlay, opts...),
		pause:                connect.NewClient[Empty, CommandResponse](httpClient, base+procPause, opts...),
		resume:               connect.NewClient[Empty, CommandResponse](httpClient, base+procResume, opts...),
		stop:                 connect.NewClient[Empty, CommandResponse](httpClient, base+procStop, opts...),
		skip:                 connect.NewClient[Empty, CommandResponse](httpClient, base+procSkip, opts...),
		setVolume:            connect.NewClient[SetVolumeRequest, CommandResponse](httpClient, base+procSetVolume, opts...),
		getStatus:            connect.NewClient[Empty, Status](httpClient, base+procGetStatus, opts...),
		setAudioFx:           connect.NewClient[AudioFxUpdate, CommandResponse](httpClient, base+procSetAudioFx, opts...),
		getAudioFx:           connect.NewClient[Empty, AudioFx](httpClient, base+procGetAudioFx, opts...),
		sendNotice:           connect.NewClient[NoticeRequest, CommandResponse](httpClient, base+procSendNotice, opts...),
		setClientDescription: connect.NewClient[SetClientDescriptionRequest, CommandResponse](httpClient, base+procSetClientDescription, opts...),
		subscribe:            connect.NewClient[SubscribeRequest, Event](httpClient, base+procSubscribeEvents, opts...),
	}, nil
}

// newHTTPClient builds an HTTP client for the service base URL.
// Cleartext addresses use h2c so server streams work without TLS.
func newHTTPClient(base string) *http.Client {
	if strings.HasPrefix(base, "https://") {
		return &http.Client{}
	}
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
		},
	}
}

// Ping checks that the voice service is reachable and responsive.
func (c *Client) Ping(ctx context.Context) error {
	return command(ctx, c.ping, Empty{})
}

// Play starts playback of a resolved media URL.
func (c *Client) Play(ctx context.Context, req PlayRequest) error {
	return command(ctx, c.play, req)
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) error {
	return command(ctx, c.pause, Empty{})
}

// Resume resumes paused playback.
func (c *Client) Resume(ctx context.Context) error {
	return command(ctx, c.resume, Empty{})
}

// Stop stops playback.
func (c *Client) Stop(ctx context.Context) error {
	return command(ctx, c.stop, Empty{})
}

// Skip aborts the current track without starting another.
func (c *Client) Skip(ctx context.Context) error {
	return command(ctx, c.skip, Empty{})
}

// SetVolume sets the output volume percentage.
func (c *Client) SetVolume(ctx context.Context, percent int) error {
	return command(ctx, c.setVolume, SetVolumeRequest{VolumePercent: percent})
}

// GetStatus returns the player-side playback status.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return nil, errors.Wrap(err, "voice: get status failed")
	}
	return resp.Msg, nil
}

// SetAudioFx applies a partial audio effect update.
func (c *Client) SetAudioFx(ctx context.Context, fx AudioFxUpdate) error {
	return command(ctx, c.setAudioFx, fx)
}

// GetAudioFx returns the current audio effect state.
func (c *Client) GetAudioFx(ctx context.Context) (*AudioFx, error) {
	resp, err := c.getAudioFx.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return nil, errors.Wrap(err, "voice: get audio fx failed")
	}
	return resp.Msg, nil
}

// SendNotice sends a chat notice to the given scope.
func (c *Client) SendNotice(ctx context.Context, text string, scope TargetScope) error {
	return command(ctx, c.sendNotice, NoticeRequest{Message: text, TargetScope: scope})
}

// SetClientDescription updates the bot's channel description field.
func (c *Client) SetClientDescription(ctx context.Context, text string) error {
	return command(ctx, c.setClientDescription, SetClientDescriptionRequest{Description: text})
}

// SubscribeEvents opens the server-pushed event stream.
// The stream stays open until the context is cancelled or the server ends it.
func (c *Client) SubscribeEvents(ctx context.Context, includeChat, includePlayback bool) (*EventStream, error) {
	stream, err := c.subscribe.CallServerStream(ctx, connect.NewRequest(&SubscribeRequest{
		IncludeChat:     includeChat,
		IncludePlayback: includePlayback,
	}))
	if err != nil {
		return nil, errors.Wrap(err, "voice: subscribe failed")
	}
	return &EventStream{stream: stream}, nil
}

// EventStream wraps the server stream of voice events.
type EventStream struct {
	stream *connect.ServerStreamForClient[Event]
}

// Receive advances to the next event. It returns false when the stream ends;
// check Err to distinguish clean EOF from failure.
func (s *EventStream) Receive() bool {
	return s.stream.Receive()
}

// Event returns the event most recently received.
func (s *EventStream) Event() *Event {
	return s.stream.Msg()
}

// Err returns the terminal stream error, if any.
func (s *EventStream) Err() error {
	return s.stream.Err()
}

// Close closes the stream.
func (s *EventStream) Close() error {
	return s.stream.Close()
}

// command executes a unary call that returns a CommandResponse.
func command[Req any](ctx context.Context, client *connect.Client[Req, CommandResponse], req Req) error {
	resp, err := client.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return errors.Wrap(err, "voice: rpc failed")
	}
	if !resp.Msg.OK {
		return errors.Newf("voice: command rejected: %s", resp.Msg.Message)
	}
	return nil
}
