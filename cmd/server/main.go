// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/yonagi/tsbox/internal/api/rest"
	"github.com/yonagi/tsbox/internal/app/chat"
	"github.com/yonagi/tsbox/internal/app/player"
	"github.com/yonagi/tsbox/internal/infra/config"
	"github.com/yonagi/tsbox/internal/infra/logger"
	"github.com/yonagi/tsbox/internal/infra/netease"
	"github.com/yonagi/tsbox/internal/infra/store"
	"github.com/yonagi/tsbox/internal/infra/voice"
)

var (
	app        = kingpin.New("tsbox-server", "tsbox voice channel music server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// voiceAdapter narrows the stream type to the coordinator's interface.
type voiceAdapter struct {
	*voice.Client
}

func (a voiceAdapter) SubscribeEvents(ctx context.Context, includeChat, includePlayback bool) (player.EventStream, error) {
	return a.Client.SubscribeEvents(ctx, includeChat, includePlayback)
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	if !cfg.IsSourceEnabled("netease") {
		return fmt.Errorf("the netease source must be enabled")
	}
	neteaseSettings, err := cfg.Netease()
	if err != nil {
		return fmt.Errorf("invalid netease settings: %w", err)
	}
	resolver, err := netease.New(netease.Config{
		APIBase: neteaseSettings.APIBase,
		Cookie:  neteaseSettings.Cookie,
		Timeout: time.Duration(neteaseSettings.TimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create netease client: %w", err)
	}

	voiceClient, err := voice.New(voice.Config{Addr: cfg.Voice.Addr})
	if err != nil {
		return fmt.Errorf("failed to create voice client: %w", err)
	}

	coord := player.NewCoordinator(player.Config{
		ReconnectBackoff: time.Duration(cfg.Voice.ReconnectBackoffMs) * time.Millisecond,
		Debounce:         time.Duration(cfg.Announcer.DebounceMs) * time.Millisecond,
		MinPushInterval:  time.Duration(cfg.Announcer.MinIntervalMs) * time.Millisecond,
		QueuePreview:     cfg.Announcer.QueuePreview,
	}, db, voiceAdapter{voiceClient}, resolver)

	var onChat func(context.Context, *voice.ChatEvent)
	if cfg.Chat.Enabled {
		dispatcher := chat.NewDispatcher(chat.Config{
			Prefix:        cfg.Chat.Prefix,
			MaxReplyRunes: cfg.Chat.MaxReplyRunes,
		}, coord, resolver)
		onChat = dispatcher.Handle
	}

	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		coord.Run(ctx, onChat)
	}()

	mux := rest.NewRouter(cfg.Server.Token, coord, resolver, voiceClient)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	<-coordDone

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}
