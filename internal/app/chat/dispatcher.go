// Package chat parses free-text channel messages into playback commands.
package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/yonagi/tsbox/internal/app/player"
	"github.com/yonagi/tsbox/internal/domain/track"
	"github.com/yonagi/tsbox/internal/infra/netease"
	"github.com/yonagi/tsbox/internal/infra/voice"
)

// Canonical command identifiers.
const (
	cmdHelp   = "help"
	cmdSearch = "search"
	cmdAdd    = "add"
	cmdPlay   = "play"
	cmdVol    = "vol"
	cmdNow    = "now"
	cmdQueue  = "queue"
	cmdPause  = "pause"
	cmdResume = "resume"
	cmdStop   = "stop"
	cmdSkip   = "skip"
	cmdNext   = "next"
	cmdFx     = "fx"
	cmdDesc   = "desc"
)

// aliases maps every accepted head token to its canonical command.
// Unknown heads are ordinary conversation and are ignored.
var aliases = map[string]string{
	"help": cmdHelp, "h": cmdHelp, "?": cmdHelp, "帮助": cmdHelp,
	"search": cmdSearch, "s": cmdSearch, "搜": cmdSearch, "搜索": cmdSearch, "找歌": cmdSearch,
	"add": cmdAdd, "a": cmdAdd, "点歌": cmdAdd, "点": cmdAdd, "加": cmdAdd,
	"play": cmdPlay, "p": cmdPlay, "播放": cmdPlay, "放": cmdPlay,
	"vol": cmdVol, "v": cmdVol, "volume": cmdVol, "音量": cmdVol,
	"now": cmdNow, "np": cmdNow, "正在播放": cmdNow, "正在": cmdNow,
	"queue": cmdQueue, "q": cmdQueue, "list": cmdQueue, "队列": cmdQueue, "列表": cmdQueue,
	"pause": cmdPause, "暂停": cmdPause,
	"resume": cmdResume, "continue": cmdResume, "继续": cmdResume,
	"stop": cmdStop, "停": cmdStop, "停止": cmdStop,
	"skip": cmdSkip, "切歌": cmdSkip, "切": cmdSkip,
	"next": cmdNext, "下一首": cmdNext,
	"fx": cmdFx, "音效": cmdFx,
	"desc": cmdDesc, "描述": cmdDesc,
}

const helpText = `commands:
play [id|keywords] - start playback, or queue and play a track
add <id|keywords>  - queue a track (first search hit for keywords)
search <keywords>  - list matching tracks
queue              - show upcoming tracks
now                - show the current track
pause / resume / stop / skip / next
vol <0-200>        - set volume
fx [pan|width|swap|bass|reverb <value>] - audio effects
desc <text>        - set the channel description`

// Config holds dispatcher configuration.
type Config struct {
	Prefix        string // optional command prefix, stripped when present
	MaxReplyRunes int    // replies longer than this are cut with an ellipsis
}

// Dispatcher turns chat messages into coordinator operations and replies
// through voice notices. It deliberately exposes the same command surface
// as the HTTP API.
type Dispatcher struct {
	coord    *player.Coordinator
	resolver player.Resolver
	cfg      Config
}

// NewDispatcher creates a chat command dispatcher.
func NewDispatcher(cfg Config, coord *player.Coordinator, resolver player.Resolver) *Dispatcher {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.MaxReplyRunes <= 0 {
		cfg.MaxReplyRunes = 700
	}
	return &Dispatcher{coord: coord, resolver: resolver, cfg: cfg}
}

// Handle processes one relayed chat message. It never returns an error;
// failures become replies (or are dropped for non-command chatter) so the
// event loop is never disturbed.
func (d *Dispatcher) Handle(ctx context.Context, ev *voice.ChatEvent) {
	cmd, arg, ok := d.parse(ev.Message)
	if !ok {
		return
	}

	zlog.Debug().Msgf("chat: command from %s: %s %q", ev.InvokerName, cmd, arg)

	if err := d.run(ctx, cmd, arg, ev.InvokerName); err != nil {
		d.reply(ctx, translateError(err))
	}
}

// parse normalizes a message into (command, argument). The third result is
// false for ordinary conversation.
func (d *Dispatcher) parse(message string) (string, string, bool) {
	text := strings.TrimSpace(message)
	text = strings.TrimPrefix(text, d.cfg.Prefix)
	text = strings.TrimPrefix(text, "！") // full-width prefix from CJK keyboards
	if text == "" {
		return "", "", false
	}

	head, arg := splitHead(text)
	cmd, ok := aliases[strings.ToLower(head)]
	if !ok {
		return "", "", false
	}
	return cmd, arg, true
}

// splitHead splits on the first whitespace, half- or full-width colon.
func splitHead(text string) (string, string) {
	idx := strings.IndexFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ':' || r == '：'
	})
	if idx < 0 {
		return text, ""
	}
	head := text[:idx]
	rest := strings.TrimLeft(text[idx:], " \t")
	rest = strings.TrimPrefix(rest, ":")
	rest = strings.TrimPrefix(rest, "：")
	return head, strings.TrimSpace(rest)
}

func (d *Dispatcher) run(ctx context.Context, cmd, arg, invoker string) error {
	switch cmd {
	case cmdHelp:
		d.reply(ctx, helpText)
	case cmdSearch:
		return d.search(ctx, arg)
	case cmdAdd:
		return d.add(ctx, arg, invoker, false)
	case cmdPlay:
		if arg == "" {
			return d.coord.Start(ctx, invoker)
		}
		return d.add(ctx, arg, invoker, true)
	case cmdVol:
		return d.volume(ctx, arg)
	case cmdNow:
		d.reply(ctx, d.nowPlayingLine(ctx))
	case cmdQueue:
		return d.showQueue(ctx)
	case cmdPause:
		return d.coord.Pause(ctx)
	case cmdResume:
		return d.coord.Resume(ctx)
	case cmdStop:
		return d.coord.Stop(ctx)
	case cmdSkip:
		return d.coord.Skip(ctx, invoker)
	case cmdNext:
		return d.coord.Next(ctx, invoker)
	case cmdFx:
		return d.audioFx(ctx, arg)
	case cmdDesc:
		return d.coord.SetDescription(ctx, arg)
	}
	return nil
}

// search lists the first few matches for a query.
func (d *Dispatcher) search(ctx context.Context, query string) error {
	if query == "" {
		d.reply(ctx, "usage: search <keywords>")
		return nil
	}

	tracks, err := d.resolver.Search(ctx, query, 5)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		d.reply(ctx, "no results for "+query)
		return nil
	}

	var b strings.Builder
	for i, t := range tracks {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s [%s]", i+1, t.Label(), displayRef(t.SourceRef))
	}
	d.reply(ctx, b.String())
	return nil
}

// add queues a track; a bare numeric argument is a direct track ID,
// anything else is a search query resolved to its first hit.
func (d *Dispatcher) add(ctx context.Context, arg, invoker string, playNow bool) error {
	if arg == "" {
		d.reply(ctx, "usage: add <id|keywords>")
		return nil
	}

	var t *track.Track
	var err error
	if isNumeric(arg) {
		t, err = d.resolver.Detail(ctx, arg)
	} else {
		t, err = d.firstHit(ctx, arg)
	}
	if err != nil {
		return err
	}
	if t == nil {
		d.reply(ctx, "no results for "+arg)
		return nil
	}

	id, err := d.coord.Enqueue(ctx, *t, invoker)
	if err != nil {
		return err
	}

	if playNow {
		return d.coord.PlayItem(ctx, id, invoker)
	}
	d.reply(ctx, fmt.Sprintf("queued #%d %s", id, t.Label()))
	return nil
}

func (d *Dispatcher) firstHit(ctx context.Context, query string) (*track.Track, error) {
	tracks, err := d.resolver.Search(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, nil
	}
	return &tracks[0], nil
}

func (d *Dispatcher) volume(ctx context.Context, arg string) error {
	if arg == "" {
		st := d.coord.Status(ctx)
		if st.VolumePercent < 0 {
			d.reply(ctx, "volume unknown (voice service unreachable)")
			return nil
		}
		d.reply(ctx, fmt.Sprintf("volume %d%%", st.VolumePercent))
		return nil
	}

	v, err := strconv.Atoi(arg)
	if err != nil {
		d.reply(ctx, "usage: vol <0-200>")
		return nil
	}

	applied, err := d.coord.SetVolume(ctx, v)
	if err != nil {
		return err
	}
	d.reply(ctx, fmt.Sprintf("volume %d%%", applied))
	return nil
}

func (d *Dispatcher) nowPlayingLine(ctx context.Context) string {
	st := d.coord.Status(ctx)
	if st.State == "idle" {
		return "nothing playing"
	}

	line := fmt.Sprintf("%s: %s", st.State, st.Title)
	if st.Artist != "" {
		line += " - " + st.Artist
	}
	if st.Duration > 0 {
		line += fmt.Sprintf(" [%s/%s]", formatClock(st.Position), formatClock(st.Duration))
	}
	return line
}

func (d *Dispatcher) showQueue(ctx context.Context) error {
	items, err := d.coord.UpNext(ctx, 10)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		d.reply(ctx, "queue is empty")
		return nil
	}

	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, item.Track.Label())
	}
	d.reply(ctx, b.String())
	return nil
}

// audioFx handles "fx", "fx <param> <value>" and "fx swap on|off".
func (d *Dispatcher) audioFx(ctx context.Context, arg string) error {
	if arg == "" {
		fx, err := d.coord.AudioFx(ctx)
		if err != nil {
			return err
		}
		d.reply(ctx, fmt.Sprintf("pan=%.2f width=%.2f swap=%t bass=%.1fdB reverb=%.2f",
			fx.Pan, fx.Width, fx.SwapLR, fx.BassDb, fx.ReverbMix))
		return nil
	}

	param, value := splitHead(arg)
	var update voice.AudioFxUpdate

	switch strings.ToLower(param) {
	case "swap":
		on := value == "on" || value == "1" || value == "true"
		update.SwapLR = &on
	case "pan", "width", "bass", "reverb":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			d.reply(ctx, "usage: fx pan|width|bass|reverb <number>, fx swap on|off")
			return nil
		}
		switch strings.ToLower(param) {
		case "pan":
			update.Pan = &f
		case "width":
			update.Width = &f
		case "bass":
			update.BassDb = &f
		case "reverb":
			update.ReverbMix = &f
		}
	default:
		d.reply(ctx, "usage: fx pan|width|bass|reverb <number>, fx swap on|off")
		return nil
	}

	if err := d.coord.SetAudioFx(ctx, update); err != nil {
		return err
	}
	d.reply(ctx, "fx updated")
	return nil
}

// reply sends a truncated notice; failures are logged and swallowed.
func (d *Dispatcher) reply(ctx context.Context, text string) {
	text = truncate(text, d.cfg.MaxReplyRunes)
	if err := d.coord.Notice(ctx, text); err != nil {
		zlog.Warn().Msgf("chat: failed to send reply: %v", err)
	}
}

// translateError maps failures to short user-facing replies. Raw errors
// never reach the channel.
func translateError(err error) string {
	switch {
	case errors.Is(err, netease.ErrNotFound):
		return "track not found"
	case errors.Is(err, netease.ErrPaidContent):
		return "that track needs a paid account"
	case errors.Is(err, netease.ErrRegionRestricted):
		return "that track is not available in this region"
	case errors.Is(err, netease.ErrTransient):
		return "the music service is busy, try again shortly"
	case errors.Is(err, player.ErrQueueExhausted):
		return "the queue is empty"
	case errors.Is(err, player.ErrNothingPlaying):
		return "nothing is playing"
	default:
		zlog.Error().Msgf("chat: command failed: %v", err)
		return "something went wrong, try again"
	}
}

// truncate cuts text to max runes, marking the cut with an ellipsis.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
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

// displayRef shows the bare song ID for catalog tracks, the raw ref
// otherwise.
func displayRef(sourceRef string) string {
	if id, ok := track.NeteaseID(sourceRef); ok {
		return id
	}
	return sourceRef
}

func formatClock(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
