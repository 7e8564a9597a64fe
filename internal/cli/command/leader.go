package command

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/relaymesh-go/internal/broker"
	"github.com/yndnr/relaymesh-go/internal/cluster"
	"github.com/yndnr/relaymesh-go/internal/core/service"
	"github.com/yndnr/relaymesh-go/internal/infra/buildinfo"
	"github.com/yndnr/relaymesh-go/internal/infra/confloader"
	"github.com/yndnr/relaymesh-go/internal/infra/shutdown"
	"github.com/yndnr/relaymesh-go/internal/rpc"
	"github.com/yndnr/relaymesh-go/internal/server/config"
	"github.com/yndnr/relaymesh-go/internal/server/ipcserver"
	"github.com/yndnr/relaymesh-go/internal/server/wsserver"
	"github.com/yndnr/relaymesh-go/internal/telemetry/logger"
	"github.com/yndnr/relaymesh-go/internal/telemetry/metric"
)

// LeaderCommand runs the leader process. It is also the default action.
func LeaderCommand() *cli.Command {
	return &cli.Command{
		Name:   "leader",
		Usage:  "Run the leader and spawn the configured workers",
		Action: runLeader,
	}
}

// workerArgs builds the argument list a spawned worker runs with.
func workerArgs(configPath string) []string {
	if configPath == "" {
		return []string{"worker"}
	}
	return []string{"--config", configPath, "worker"}
}

// leaderServices are the coordination services the leader hosts.
type leaderServices struct {
	limiter  *service.RateLimiter
	replay   *service.ReplayCache
	locks    *service.LockService
	counters *service.Counters
	items    *service.ItemAggregator
	statuses *service.UserStatusAggregator
}

// workerSurface is what the aggregators need from the workers.
// cluster.WorkerClient satisfies it.
type workerSurface interface {
	service.Notifier
	service.AudienceResolver
}

func newLeaderServices(cfg *config.ServerConfig, workers workerSurface, log *slog.Logger) (*leaderServices, error) {
	replayCfg := config.ToReplayConfig(cfg)
	store, err := service.OpenNonceStore(replayCfg, log)
	if err != nil {
		return nil, fmt.Errorf("open nonce store: %w", err)
	}
	aggCfg := config.ToAggregatorConfig(cfg)
	return &leaderServices{
		limiter:  service.NewRateLimiter(config.ToRateLimiterConfig(cfg), log),
		replay:   service.NewReplayCache(store, replayCfg, log),
		locks:    service.NewLockService(log),
		counters: service.NewCounters(),
		items:    service.NewItemAggregator(workers, aggCfg, log),
		statuses: service.NewUserStatusAggregator(workers, workers, aggCfg, log),
	}, nil
}

// register adds every service method to registry.
func (s *leaderServices) register(registry *rpc.Registry) {
	for _, methods := range []map[string]rpc.HandlerFunc{
		s.limiter.Methods(),
		s.replay.Methods(),
		s.locks.Methods(),
		s.counters.Methods(),
		s.items.Methods(),
		s.statuses.Methods(),
	} {
		registry.RegisterAll(methods)
	}
}

func (s *leaderServices) instrument(metrics *metric.Registry) {
	metrics.GaugeFunc("ratelimit", "tracked_addresses", "Client addresses holding a credit entry.", func() float64 {
		return float64(s.limiter.Len())
	})
	metrics.GaugeFunc("ratelimit", "rejected_requests", "Requests refused since start.", func() float64 {
		return float64(s.limiter.Rejected())
	})
	metrics.GaugeFunc("replay", "nonces", "Nonces remembered by the replay cache.", func() float64 {
		return float64(s.replay.Len())
	})
	metrics.GaugeFunc("lock", "waiters", "Callers queued on named locks.", func() float64 {
		return float64(s.locks.TotalWaiters())
	})
}

// runLoops starts fns under ctx and returns a hook that stops them.
func runLoops(ctx context.Context, fns ...func(context.Context)) func(context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func runLeader(c *cli.Context) error {
	path := c.String("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	log := logger.Setup(config.ToLoggerConfig(cfg)).With("role", "leader")
	log.Info("starting relaymesh leader",
		"version", buildinfo.Version,
		"config", path,
		"workers", cfg.Cluster.Workers,
		"broker_mode", cfg.Broker.Mode)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	metrics := metric.NewRegistry("leader")
	sh := shutdown.NewHandler(cfg.Cluster.ShutdownTimeout, log)

	supervisor := cluster.NewSupervisor(cluster.ExecSpawner{Args: workerArgs(path)}, log)
	services, err := newLeaderServices(cfg, cluster.NewWorkerClient(supervisor), log)
	if err != nil {
		return err
	}
	sh.OnShutdown("replay cache", func(context.Context) error {
		return services.replay.Close()
	})
	sh.OnShutdown("maintenance", runLoops(ctx, services.limiter.Run, services.replay.Run))

	registry := rpc.NewRegistry()
	services.register(registry)
	registry.RegisterAll(cluster.NewLeaderService(supervisor, registry, log).Methods())
	services.instrument(metrics)
	metrics.GaugeFunc("cluster", "workers", "Worker processes alive.", func() float64 {
		return float64(len(supervisor.Workers()))
	})

	ipc := ipcserver.New(cfg.Cluster.IPCSocket, config.ToPeerConfig(cfg, registry, log, metrics))
	if err := ipc.Listen(); err != nil {
		return err
	}
	go func() {
		if err := ipc.Serve(ctx); err != nil {
			log.Error("worker link listener failed", "error", err)
			sh.Trigger()
		}
	}()
	sh.OnShutdown("ipc server", ipc.Shutdown)

	if cfg.Broker.Mode == broker.ModeLocal {
		proxy := broker.NewLocalProxy(config.ToBrokerConfig(cfg, "leader", log, metrics))
		if err := proxy.Start(); err != nil {
			return fmt.Errorf("start local broker: %w", err)
		}
		sh.OnShutdown("local broker", func(context.Context) error {
			return proxy.Stop()
		})
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		srv := wsserver.New(cfg.Metrics.Addr, mux)
		if err := srv.Listen(ctx, false); err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics listening", "addr", srv.Addr().String())
		sh.OnShutdown("metrics server", srv.Shutdown)
	}

	if err := supervisor.Start(ctx, cfg.Cluster.Workers); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	sh.OnShutdown("workers", supervisor.Stop)

	// Aggregators flush on stop, so they stop before the workers do.
	sh.OnShutdown("aggregators", runLoops(ctx, services.items.Run, services.statuses.Run))

	if path != "" {
		watcher, err := watchConfig(path, services.limiter, log)
		if err != nil {
			log.Warn("config reload disabled", "error", err)
		} else {
			sh.OnShutdown("config watcher", func(context.Context) error {
				return watcher.Stop()
			})
		}
	}

	log.Info("leader started")
	if err := sh.Wait(ctx); err != nil {
		return err
	}
	log.Info("leader stopped")
	return nil
}

// watchConfig reloads the rate limiter and the log level when the file
// changes. Other settings need a restart.
func watchConfig(path string, limiter *service.RateLimiter, log *slog.Logger) (*confloader.Watcher, error) {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(path); err != nil {
		watcher.Stop()
		return nil, err
	}
	watcher.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("ignoring config change", "path", path, "error", err)
			return
		}
		limiter.Reload(config.ToRateLimiterConfig(cfg))
		logger.SetLevel(cfg.Log.Level)
		log.Info("config reloaded",
			"path", path,
			"log_level", cfg.Log.Level,
			"rate_limiter", cfg.RateLimiter.Enabled)
	})
	watcher.StartAsync()
	return watcher, nil
}
