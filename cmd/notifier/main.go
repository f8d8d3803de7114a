package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/api"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/config"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/db"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/events"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/httpapi"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/kv"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/metrics"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/registry"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/state"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/tracker"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/webhook"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/websub"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/youtube"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/ytdlp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadNotifierConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := log.Init(cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting lifecycle notifier",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Port),
		zap.String("resolver", cfg.ResolverBackend),
		zap.String("state_backend", cfg.StateBackend),
		zap.Int("channels", len(cfg.Channels)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openStateBackend(ctx, cfg)
	if err != nil {
		log.Fatal("failed to open state backend", zap.Error(err))
	}
	defer backend.Close()

	m := metrics.New()
	resolver := youtube.NewRetryingResolver(newFetcher(cfg), youtube.DefaultBackoff(cfg.ResolveMaxAttempts))

	// Event sinks
	sinks := []events.Sink{events.LogSink{}}
	if cfg.EventWebhookURL != "" {
		sinks = append(sinks, webhook.NewSender(cfg.EventWebhookURL, cfg.WebhookSigningKey))
	}
	if cfg.NATSURL != "" {
		conn, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer conn.Drain()
		sinks = append(sinks, events.NewNATSSink(conn, cfg.NATSSubjectPrefix))
	}
	options := events.StaticOptions{
		events.TypePublished:          cfg.VideoDisabled,
		events.TypeBroadcastScheduled: cfg.ScheduleDisabled,
		events.TypeBroadcastReminder:  cfg.ReminderDisabled,
		events.TypeBroadcastLive:      cfg.LiveDisabled,
	}
	dispatcher := events.NewDispatcher(options, m, sinks...)

	// Channel registry
	reg := registry.New(backend)
	if err := reg.Load(ctx, cfg.Channels); err != nil {
		log.Fatal("failed to load channel registry", zap.Error(err))
	}

	// Tracking engine
	store := state.NewStore()
	trackerCfg := tracker.DefaultConfig()
	trackerCfg.PreRoll = cfg.PreRoll
	trackerCfg.LiveWindow = cfg.LiveWindow
	trackerCfg.MisfireGrace = cfg.ReminderMisfireGrace
	trackerCfg.Concurrency = cfg.ReconcileConcurrency
	tr := tracker.New(store, resolver, dispatcher, trackerCfg,
		tracker.WithSubjects(reg),
		tracker.WithRecorder(m),
	)
	pushes := tr.NewQueue(cfg.PushWorkers, cfg.PushQueueSize)

	// WebSub
	hub := websub.NewHub(websub.HubConfig{
		URL:          cfg.HubURL,
		CallbackURL:  cfg.CallbackURL(),
		LeaseSeconds: cfg.LeaseSeconds,
		Timeout:      cfg.ResolveTimeout,
		Backoff:      youtube.DefaultBackoff(cfg.ResolveMaxAttempts),
	}, m)
	manager := websub.NewManager(hub, store, tr.Reminders())
	reg.OnChange(func(ctx context.Context, c registry.Change) {
		if err := manager.Apply(context.WithoutCancel(ctx), c); err != nil {
			log.Warn("subscription update failed",
				zap.String("subject", c.Subject),
				zap.String("kind", string(c.Kind)),
				zap.Error(err),
			)
		}
	})

	// Channels must be active before the snapshot is restored
	for _, ch := range reg.Channels() {
		store.EnsureChannel(ch)
	}
	persister := state.NewPersister(store, backend, cfg.Location)
	snap, err := persister.Load(ctx)
	if err != nil {
		log.Error("failed to load state snapshot, starting empty", zap.Error(err))
	} else {
		tr.Restore(ctx, snap)
	}

	// Background loops
	go tr.Reminders().Run(ctx)
	go tr.RunPeriodic(ctx, cfg.TickInterval)
	go persister.RunPeriodic(ctx, cfg.SnapshotInterval)
	go manager.RunRenewal(ctx, cfg.RenewInterval)

	limiter := httpapi.NewRateLimiter(100, time.Minute)
	go limiter.Run(ctx)

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(tr, pushes, reg, backend, m, options)
	router := api.NewRouter(handler, api.RouterConfig{APIKey: cfg.APIKey, Limiter: limiter})

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// The callback must be reachable before the hub verifies intent
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Fatal("failed to listen", zap.Error(err))
	}
	go func() {
		log.Info("starting HTTP server", zap.Int("port", cfg.Port))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to serve", zap.Error(err))
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.InitialSubscribeDelay):
		}
		if err := manager.SubscribeAll(ctx, reg.Channels()); err != nil {
			log.Warn("initial subscription incomplete", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := pushes.Close(shutdownCtx); err != nil {
		log.Error("pending push notifications abandoned", zap.Error(err))
	}
	if err := persister.Save(shutdownCtx); err != nil {
		log.Error("failed to save final snapshot", zap.Error(err))
	}

	log.Info("notifier stopped")
}

// openStateBackend returns the configured blob store.
func openStateBackend(ctx context.Context, cfg *config.NotifierConfig) (kv.Store, error) {
	switch cfg.StateBackend {
	case config.StatePostgres:
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return db.NewStateRepository(database), nil
	case config.StateRedis:
		r, err := kv.NewRedis(ctx, kv.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		log.Warn("using in-memory state, nothing survives a restart")
		return kv.NewMemory(), nil
	}
}

func newFetcher(cfg *config.NotifierConfig) youtube.Fetcher {
	if cfg.ResolverBackend == config.ResolverYtDlp {
		return youtube.NewYtDlpFetcher(ytdlp.NewClient(cfg.YtDlpPath, cfg.HTTPProxy), cfg.Location)
	}
	return youtube.NewDataAPIClient(cfg.YouTubeAPIBaseURL, cfg.YouTubeAPIKeys, cfg.ResolveTimeout, cfg.Location)
}
