package command

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/relaymesh-go/internal/broker"
	"github.com/yndnr/relaymesh-go/internal/cluster"
	"github.com/yndnr/relaymesh-go/internal/infra/buildinfo"
	"github.com/yndnr/relaymesh-go/internal/infra/shutdown"
	"github.com/yndnr/relaymesh-go/internal/infra/tlsroots"
	"github.com/yndnr/relaymesh-go/internal/notify"
	"github.com/yndnr/relaymesh-go/internal/rpc"
	"github.com/yndnr/relaymesh-go/internal/server/config"
	"github.com/yndnr/relaymesh-go/internal/server/ipcserver"
	"github.com/yndnr/relaymesh-go/internal/server/wsserver"
	"github.com/yndnr/relaymesh-go/internal/telemetry/logger"
	"github.com/yndnr/relaymesh-go/internal/telemetry/metric"
	"github.com/yndnr/relaymesh-go/pkg/token"
)

var errLeaderGone = errors.New("leader link closed")

// WorkerCommand runs one worker process. The leader starts workers; the
// command is hidden from help.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Run a worker process (started by the leader)",
		Hidden: true,
		Action: runWorker,
	}
}

func newVerifier(cfg *config.ServerConfig) (*wsserver.SignedTokenVerifier, error) {
	if cfg.Auth.TokenKey == "" {
		return wsserver.NewSignedTokenVerifier(nil), nil
	}
	signer, err := token.NewSigner([]byte(cfg.Auth.TokenKey))
	if err != nil {
		return nil, err
	}
	return wsserver.NewSignedTokenVerifier(signer), nil
}

func runWorker(c *cli.Context) error {
	workerID := os.Getenv(cluster.WorkerIDEnv)
	if workerID == "" {
		return fmt.Errorf("%s is not set: workers are started by the leader", cluster.WorkerIDEnv)
	}
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	log := logger.Setup(config.ToLoggerConfig(cfg)).With("role", "worker", "worker_id", workerID)
	log.Info("starting relaymesh worker",
		"version", buildinfo.Version,
		"pid", os.Getpid(),
		"addr", cfg.Connection.Addr)
	if cfg.Auth.TokenKey == "" {
		log.Warn("auth.token_key is empty, every client will be rejected")
	}
	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	metrics := metric.NewRegistry("worker")
	sh := shutdown.NewHandler(cfg.Cluster.ShutdownTimeout, log)

	readyCtx, cancelReady := context.WithTimeout(ctx, cfg.Cluster.ReadyTimeout)
	defer cancelReady()

	// The leader only calls worker methods after registration, so the
	// registry is filled once the orchestrator exists.
	workerMethods := rpc.NewRegistry()
	peer, err := ipcserver.Dial(readyCtx, cfg.Cluster.IPCSocket, config.ToPeerConfig(cfg, workerMethods, log, metrics))
	if err != nil {
		return err
	}
	go func() {
		if err := peer.Serve(ctx); err != nil {
			log.Warn("leader link failed", "error", err)
		}
	}()
	sh.OnShutdown("leader link", func(context.Context) error {
		return peer.Close()
	})

	brokerCfg := config.ToBrokerConfig(cfg, broker.NewSenderID(), log, metrics)
	if cfg.Broker.TLSCAFile != "" {
		if brokerCfg.RootCAs, err = tlsroots.LoadPool(cfg.Broker.TLSCAFile); err != nil {
			return err
		}
	}
	transport, err := broker.New(brokerCfg)
	if err != nil {
		return err
	}
	processor := rpc.NewBatchProcessor(rpc.NewExecutor(workerMethods, log, metrics), log, metrics)
	transport.OnMessage(func(env rpc.ChannelEnvelope) {
		processor.Process(ctx, env)
	})
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("start %s transport: %w", cfg.Broker.Mode, err)
	}
	sh.OnShutdown("transport", func(context.Context) error {
		return transport.Stop()
	})

	leader := cluster.NewLeaderClient(peer, transport, config.ToBatchConfig(cfg), log)
	sh.OnShutdown("broadcast batch", func(context.Context) error {
		leader.Close()
		return nil
	})

	registry := notify.NewRegistry(config.ToRegistryConfig(cfg), log, metrics)
	orchestrator := notify.NewOrchestrator(registry, leader, log)
	workerMethods.RegisterAll(orchestrator.Methods())
	metrics.MustRegister(metric.NewStatsCollector(registry))

	if err := leader.Handshake(readyCtx, workerID); err != nil {
		return err
	}
	cancelReady()

	proxies, err := config.ToTrustedProxies(cfg)
	if err != nil {
		return err
	}
	router := wsserver.NewRouter(wsserver.RouterConfig{
		Sessions: orchestrator,
		Verifier: verifier,
		Access:   wsserver.ContextAccess{},
		Nonces:   leader,
		Limiter:  leader,
		Stats:    registry,
		Ready: func() bool {
			select {
			case <-peer.Done():
				return false
			default:
				return true
			}
		},
		Metrics:        metrics.Handler(),
		AllowedOrigins: cfg.Connection.AllowedOrigins,
		TrustedProxies: proxies,
		Socket:         config.ToSocketConfig(cfg),
		Logger:         log,
	})
	srv := wsserver.New(cfg.Connection.Addr, router)
	if cfg.Connection.TLSCertFile != "" {
		certs, err := tlsroots.NewCertReloader(cfg.Connection.TLSCertFile, cfg.Connection.TLSKeyFile, log)
		if err != nil {
			return err
		}
		if err := certs.Start(); err != nil {
			log.Warn("certificate reload disabled", "error", err)
		}
		sh.OnShutdown("certificate watcher", func(context.Context) error {
			return certs.Stop()
		})
		srv.UseTLS(tlsroots.ServerConfig(certs))
	}
	if err := srv.Listen(ctx, cfg.Cluster.Workers > 1); err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Connection.Addr, err)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("socket server failed", "error", err)
			sh.Trigger()
		}
	}()
	sh.OnShutdown("socket server", func(ctx context.Context) error {
		err := srv.Shutdown(ctx)
		if n := router.CloseSockets(); n > 0 {
			log.Info("closed client sockets", "count", n)
		}
		return err
	})

	linkCtx, stopLink := context.WithCancelCause(ctx)
	defer stopLink(nil)
	go func() {
		select {
		case <-peer.Done():
			stopLink(errLeaderGone)
		case <-linkCtx.Done():
		}
	}()

	log.Info("worker ready", "addr", srv.Addr().String())
	if err := sh.Wait(linkCtx); err != nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
