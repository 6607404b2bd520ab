package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/stackwatch/internal/compose"
	"github.com/MrSnakeDoc/stackwatch/internal/config"
	"github.com/MrSnakeDoc/stackwatch/internal/httpserver"
	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackwatch/internal/index"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
	"github.com/MrSnakeDoc/stackwatch/internal/metrics"
	"github.com/MrSnakeDoc/stackwatch/internal/orchestrator"
	"github.com/MrSnakeDoc/stackwatch/internal/redis"
	"github.com/MrSnakeDoc/stackwatch/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/stackwatch/internal/store/redis"
	"github.com/MrSnakeDoc/stackwatch/internal/utils"
	"github.com/MrSnakeDoc/stackwatch/internal/version"
	"github.com/MrSnakeDoc/stackwatch/internal/watcher"
)

// serverStopTimeout bounds the status server shutdown.
const serverStopTimeout = 5 * time.Second

type App struct {
	cfg    *config.Config
	logger logger.Logger

	watcher  *watcher.Watcher
	orch     *orchestrator.Orchestrator
	memIndex *index.MemoryIndex
	server   *httpserver.Server // nil when STACKWATCH_STATUS_ADDR is empty

	// Status publishing, all nil when STACKWATCH_REDIS_ADDR is empty or
	// redis was unreachable at startup.
	redisClient *goredis.Client
	store       *redisstore.Store
	publisher   *scheduler.StatusPublisher
	gc          *scheduler.GarbageCollector
}

// New wires every component. Only a base path that cannot be watched is an
// error (*domain.WatchSetupError); optional components degrade instead.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	w, err := watcher.New(cfg.BasePath, watcher.Options{
		IgnoreSuffixes: cfg.IgnoreSuffixes,
	}, loggerClient.Named("watcher"))
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(promRegistry)

	a := &App{
		cfg:      cfg,
		logger:   loggerClient,
		watcher:  w,
		memIndex: index.NewMemoryIndex(),
	}

	if cfg.RedisAddr != "" {
		a.initStatusPublishing(ctx, recorder)
	} else {
		loggerClient.Info("Redis address not configured, status publishing disabled")
	}

	var status orchestrator.StatusSink
	if a.publisher != nil {
		status = a.publisher
	}

	runner := compose.NewRunner(compose.Options{
		Binary:      cfg.ComposeBin,
		Timeout:     cfg.ComposeTimeout,
		FallbackDir: w.BasePath(),
	}, loggerClient.Named("compose"))

	a.orch = orchestrator.New(orchestrator.Options{
		BasePath:      w.BasePath(),
		Window:        cfg.Wait,
		Workers:       cfg.Workers,
		ShutdownGrace: cfg.ShutdownGrace,
		Runner:        runner,
		Source:        w,
		Index:         a.memIndex,
		Status:        status,
		Recorder:      recorder,
	}, loggerClient.Named("orchestrator"))

	if cfg.StatusAddr != "" {
		d := deps.Deps{
			Logger:       loggerClient.Named("http"),
			StartTime:    time.Now(),
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
			GoVersion:    version.GoVersion,
			AllowedCIDRS: cfg.AllowedCIDRS,
			TrustProxy:   cfg.TrustProxy,
			BasePath:     w.BasePath(),
			MemoryIndex:  a.memIndex,
			Ready:        a.orch.Ready(),
			InFlight:     a.orch.InFlight,
			Metrics:      metrics.HTTPHandler(promRegistry),
		}
		if a.store != nil {
			d.StatusStore = a.store
		}
		a.server = httpserver.New(cfg.StatusAddr, loggerClient.Named("http"), d)
	}

	return a, nil
}

// initStatusPublishing connects to redis and builds the publisher and the
// refresh job. A connection failure leaves publishing disabled.
func (a *App) initStatusPublishing(ctx context.Context, rec metrics.Recorder) {
	a.logger.Infof("Connecting to Redis at %s", a.cfg.RedisAddr)
	client, err := redis.New(ctx, redis.OptionsFromConfig(a.cfg), a.logger.Named("redis"))
	if err != nil {
		a.logger.Error("Redis unavailable, status publishing disabled", logger.Error(err))
		return
	}

	a.redisClient = client
	a.store = redisstore.NewStore(client, a.cfg.StatusTTL)
	a.publisher = scheduler.NewStatusPublisher(a.store, a.logger.Named("publisher"), rec, 0)
	a.gc = scheduler.NewGarbageCollector(a.store, a.memIndex, a.logger.Named("status-refresh"), a.cfg.StatusRefresh)

	syncer := scheduler.NewRedisSyncer(a.store, a.watcher.BasePath(), a.logger.Named("sync"))
	if removed, err := syncer.Sync(ctx); err != nil {
		a.logger.Warn("failed to sync published statuses on startup", logger.Error(err))
	} else if removed > 0 {
		a.logger.Info("removed stale published statuses", logger.Int("count", removed))
	}
}

// Run runs the daemon until ctx is done or the change detector
// stops on its own. In-flight compose actions are given the configured
// grace period before being aborted.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("🚀 Starting %s", version.String())
	a.logger.Info("Configuration",
		logger.String("base_path", a.watcher.BasePath()),
		logger.Duration("wait", a.cfg.Wait),
		logger.Int("workers", a.cfg.Workers),
		logger.Bool("status_server", a.server != nil),
		logger.Bool("status_publishing", a.publisher != nil))

	// Background components outlive the orchestrator so that its final
	// results are still published.
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	if a.publisher != nil {
		go a.publisher.Run(bgCtx)
	}
	if a.gc != nil {
		if err := a.gc.Start(bgCtx); err != nil {
			a.logger.Warn("failed to start status refresh", logger.Error(err))
			a.gc = nil
		}
	}

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() { serverErr <- a.server.Start() }()
	}

	go a.watcher.Run(ctx)

	orchDone := make(chan error, 1)
	go func() { orchDone <- a.orch.Run(ctx) }()

	var runErr error
	select {
	case runErr = <-orchDone:
	case err := <-serverErr:
		// The status server is optional: keep running without it.
		if err != nil {
			a.logger.Error("status server stopped", logger.Error(err))
		}
		a.server = nil
		runErr = <-orchDone
	}

	a.shutdown(cancelBg)
	if runErr != nil {
		return fmt.Errorf("orchestrator: %w", runErr)
	}
	return nil
}

func (a *App) shutdown(cancelBg context.CancelFunc) {
	a.logger.Info("⏳ Shutting down gracefully...")

	<-a.watcher.Done()

	if a.server != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		if err := a.server.Stop(stopCtx); err != nil {
			a.logger.Warn("failed to stop status server", logger.Error(err))
		}
		cancel()
	}

	if a.gc != nil {
		if err := a.gc.Stop(); err != nil {
			a.logger.Warn("failed to stop status refresh", logger.Error(err))
		}
	}

	cancelBg()
	if a.publisher != nil {
		<-a.publisher.Done()
	}
	if a.redisClient != nil {
		utils.MustClose(a.redisClient, "redis", a.logger)
	}

	a.logger.Info("✅ stackwatch stopped cleanly")
	_ = a.logger.Sync()
}
