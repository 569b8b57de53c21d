package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/marcus-crane/billboard/config"
	"github.com/marcus-crane/billboard/couch"
	"github.com/marcus-crane/billboard/db"
	"github.com/marcus-crane/billboard/display"
	"github.com/marcus-crane/billboard/events"
	"github.com/marcus-crane/billboard/gc"
	"github.com/marcus-crane/billboard/jobs"
	"github.com/marcus-crane/billboard/media"
	"github.com/marcus-crane/billboard/migrations"
	"github.com/marcus-crane/billboard/notify"
	"github.com/marcus-crane/billboard/playback"
	"github.com/marcus-crane/billboard/player"
	"github.com/marcus-crane/billboard/resources"
	"github.com/marcus-crane/billboard/routes"
	"github.com/marcus-crane/billboard/slides"
	"github.com/marcus-crane/billboard/textrender"
	"github.com/marcus-crane/billboard/website"
)

const (
	previewWidth    = 480
	shutdownTimeout = 5 * time.Second
)

// services are the pieces shared by the player and the snapshot command.
type services struct {
	client    *couch.Client
	text      *textrender.Renderer
	websites  *website.Service
	processor *slides.Processor
}

func limits(cfg *config.Config) slides.Limits {
	return slides.Limits{
		DefaultDuration:   time.Duration(cfg.Playback.DefaultDurationSeconds * float64(time.Second)),
		MaxDuration:       time.Duration(cfg.Playback.MaxDurationSeconds * float64(time.Second)),
		DefaultTransition: time.Duration(cfg.Playback.DefaultTransitionMs) * time.Millisecond,
		MaxTransition:     time.Duration(cfg.Playback.MaxTransitionMs) * time.Millisecond,
	}
}

func newServices(cfg *config.Config, registry *resources.Registry) *services {
	client := couch.NewClient(cfg.Store.URL, cfg.Store.Database, cfg.RequestTimeout())
	client.DownloadTimeout = cfg.VideoTimeout()
	client.Heartbeat = cfg.Heartbeat()
	client.ReconnectDelay = cfg.ReconnectDelay()

	text := textrender.New(cfg.Text.Fonts, cfg.Text.CacheCapacity)

	capturer := &website.ChromeCapturer{
		Width:        cfg.Website.CaptureWidth,
		Height:       cfg.Website.CaptureHeight,
		LoadTimeout:  cfg.PageLoadTimeout(),
		ReadyTimeout: cfg.PageReadyTimeout(),
		ExecPath:     cfg.Website.ChromePath,
	}
	websites := website.NewService(capturer, client, website.Options{
		DocID:         cfg.PlaylistID(),
		TTL:           cfg.WebsiteTTL(),
		Capacity:      cfg.Website.Capacity,
		CaptureWidth:  cfg.Website.CaptureWidth,
		CaptureHeight: cfg.Website.CaptureHeight,
		ScreenWidth:   cfg.Display.Width,
		ScreenHeight:  cfg.Display.Height,
		UploadTimeout: cfg.VideoTimeout(),
	})

	processor := &slides.Processor{
		Store:    client,
		Text:     text,
		Websites: websites,
		Registry: registry,
		Open:     media.OpenGst,
		Width:    cfg.Display.Width,
		Height:   cfg.Display.Height,
		TempDir:  cfg.Player.TempDir,
		Limits:   limits(cfg),
	}

	return &services{client: client, text: text, websites: websites, processor: processor}
}

func openHistory(path string, stream playback.Publisher) (*playback.PlaybackSystem, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	database, err := db.OpenAndMigrate(path, migrations.GetMigrations())
	if err != nil {
		return nil, nil, err
	}
	return playback.NewPlaybackSystem(database, stream), func() { database.Close() }, nil
}

func openSink(cfg *config.Config, preview *display.Preview) (display.Sink, func(), error) {
	if cfg.Display.Framebuffer == "" {
		slog.Warn("No framebuffer configured, frames only reach the preview")
		return preview, func() {}, nil
	}
	format, err := display.ParsePixelFormat(cfg.Display.PixelFormat)
	if err != nil {
		return nil, nil, err
	}
	fb, err := display.OpenFramebuffer(cfg.Display.Framebuffer, format, cfg.Display.Width, cfg.Display.Height)
	if err != nil {
		return nil, nil, err
	}
	return display.Multi{fb, preview}, func() { fb.Close() }, nil
}

func runPlayer(ctx context.Context, cfg config.Config) error {
	lock := flock.New(cfg.Player.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another billboard player is already running on this device")
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := resources.NewRegistry()
	defer func() {
		if err := registry.ReleaseAll(); err != nil {
			slog.Warn("Some resources failed to release", slog.String("error", err.Error()))
		}
	}()

	svc := newServices(&cfg, registry)
	flag := &events.Flag{}
	broadcaster := events.NewBroadcaster()

	var (
		recorder player.HistoryRecorder
		history  routes.History
		pruner   jobs.HistoryPruner
	)
	ps, closeHistory, err := openHistory(cfg.Player.DbPath, broadcaster)
	if err != nil {
		slog.Warn("Playback history is disabled",
			slog.String("path", cfg.Player.DbPath),
			slog.String("error", err.Error()))
	} else {
		defer closeHistory()
		// a previous run may have died mid-slide
		if err := ps.StopAll(); err != nil {
			slog.Warn("Failed to close out previous playback", slog.String("error", err.Error()))
		}
		recorder, history, pruner = ps, ps, ps
	}

	preview := display.NewPreview(previewWidth, time.Second)
	sink, closeSink, err := openSink(&cfg, preview)
	if err != nil {
		return err
	}
	defer closeSink()

	collector := gc.New(svc.client, cfg.PlaylistID())
	collector.ImmediateBatch = cfg.Cleanup.ImmediateBatch
	collector.PeriodicBatch = cfg.Cleanup.PeriodicBatch

	publisher := player.NewPublisher(cfg.Player.DeviceID, svc.client, recorder, cfg.RequestTimeout())

	engine := player.New(player.Options{
		DocID:         cfg.PlaylistID(),
		ManagerURL:    cfg.Player.ManagerURL,
		Width:         cfg.Display.Width,
		Height:        cfg.Display.Height,
		FrameInterval: cfg.FrameInterval(),
		FadeSteps:     cfg.Playback.FadeSteps,
		ScrollSpeed:   cfg.Playback.ScrollSpeed,
		RetryInterval: cfg.RetryInterval(),
	}, svc.client, svc.processor, sink, flag)
	engine.Text = svc.text
	engine.Open = media.OpenGst
	engine.Registry = registry
	engine.Refresher = svc.processor
	engine.Prefetch = svc.websites
	engine.Sweeper = collector
	engine.Reporter = publisher
	if ps != nil {
		engine.OnState = append(engine.OnState, func(from, to player.State, reason player.Reason) {
			if to != player.StatePlaying {
				if err := ps.StopAll(); err != nil {
					slog.Warn("Failed to stop playback history", slog.String("error", err.Error()))
				}
			}
		})
	}
	if alerts := notify.NewPushover(cfg.Pushover, cfg.Player.DeviceID); alerts != nil {
		engine.OnState = append(engine.OnState, alerts.OnState)
		go alerts.Run(ctx)
	}

	go svc.client.Watch(ctx, cfg.PlaylistID(), flag.Set)
	go svc.websites.Run(ctx)
	go publisher.Run(ctx)

	scheduler, err := jobs.SetupInBackground(ctx, cfg, collector, svc.text, pruner)
	if err != nil {
		return fmt.Errorf("failed to schedule background jobs: %w", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			slog.Warn("Failed to stop background jobs", slog.String("error", err.Error()))
		}
	}()

	var server *http.Server
	if cfg.Status.Address != "" {
		server = &http.Server{
			Addr: cfg.Status.Address,
			Handler: routes.Register(http.NewServeMux(), &routes.Server{
				Player:  engine,
				History: history,
				Preview: preview,
				Refetch: flag,
				Events:  broadcaster,
				Options: routes.Options{
					DeviceID:       cfg.Player.DeviceID,
					WebhookSecret:  cfg.Status.WebhookSecret,
					AllowedOrigins: cfg.Status.AllowedOrigins,
				},
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("Status API listening", slog.String("address", cfg.Status.Address))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Status API stopped", slog.String("error", err.Error()))
			}
		}()
	}

	slog.Info("Billboard is starting",
		slog.String("device", cfg.Player.DeviceID),
		slog.String("store", cfg.Store.URL),
		slog.Int("width", cfg.Display.Width),
		slog.Int("height", cfg.Display.Height))

	err = engine.Run(ctx)

	slog.Info("Shutting down")
	// open event streams would otherwise hold up the server shutdown
	broadcaster.Close()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Status API did not shut down cleanly", slog.String("error", err.Error()))
		}
	}
	return err
}
