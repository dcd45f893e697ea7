package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
	"github.com/yndnr/meshkv/internal/infra/shutdown"
	"github.com/yndnr/meshkv/internal/infra/tlsroots"
	"github.com/yndnr/meshkv/internal/server/config"
	"github.com/yndnr/meshkv/internal/server/httpserver"
	"github.com/yndnr/meshkv/internal/server/redisserver"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/backend"
	"github.com/yndnr/meshkv/internal/storage/memory"
	"github.com/yndnr/meshkv/internal/storage/schedule"
	"github.com/yndnr/meshkv/internal/telemetry/metric"
)

// sweepInterval is how often expired keys are reclaimed.
const sweepInterval = time.Second

// server ties the dataset, persistence and listeners together and owns the
// order in which they stop.
type server struct {
	cfg     *config.ServerConfig
	log     *slog.Logger
	metrics *metric.Registry

	// configFile, when set, is watched for runtime changes.
	configFile string

	be    backend.Backend
	store *memory.Store
	coord *storage.Coordinator
	sched *schedule.Scheduler

	shutdown  *shutdown.Handler
	redisAddr net.Addr
	httpAddr  net.Addr
}

// newServer restores the dataset from be. A snapshot that exists but
// cannot be loaded aborts startup. be is closed on every error.
func newServer(ctx context.Context, cfg *config.ServerConfig, be backend.Backend, log *slog.Logger, metrics *metric.Registry) (*server, error) {
	store := memory.New(
		memory.WithShards(cfg.Store.Shards),
		memory.WithDatabases(cfg.Store.Databases),
	)
	coord, err := newCoordinator(cfg, store, be, log, metrics)
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("init persistence: %w", err)
	}

	if _, err := coord.Autoload(ctx); err != nil {
		be.Close()
		return nil, err
	}

	sched := schedule.New(func(ctx context.Context) error {
		_, err := coord.Save(ctx, storage.SaveRequest{})
		return err
	}, schedule.WithLogger(log), schedule.WithMetrics(metrics))
	if err := applySchedule(sched, cfg.Persistence.Schedule()); err != nil {
		be.Close()
		return nil, err
	}

	return &server{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		be:       be,
		store:    store,
		coord:    coord,
		sched:    sched,
		shutdown: shutdown.NewHandler(cfg.ShutdownTimeout, log),
	}, nil
}

// start launches the scheduler, the sweeper and the listeners. Shutdown
// steps run in reverse: listeners close, the scheduler stops, the final
// save runs and the backend closes last. If start fails, whatever was
// started is already stopped.
func (s *server) start() error {
	s.shutdown.OnShutdown("close snapshot backend", func(context.Context) error {
		return s.be.Close()
	})
	s.shutdown.OnShutdown("final save", func(ctx context.Context) error {
		return finalSave(ctx, s.coord, s.log)
	})

	s.sched.Start()
	s.shutdown.OnShutdown("stop scheduler", func(context.Context) error {
		s.sched.Stop()
		return nil
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweep(sweepCtx, s.store)
	s.shutdown.OnShutdown("stop expiry sweeper", func(context.Context) error {
		stopSweep()
		return nil
	})

	if s.configFile != "" {
		w, err := watchConfig(s.configFile, s.coord, s.sched, s.log)
		if err != nil {
			s.log.Warn("configuration reload disabled", "error", err)
		} else {
			s.shutdown.OnShutdown("stop config watcher", func(context.Context) error {
				return w.Stop()
			})
		}
	}

	h := redisserver.NewHandler(redisserver.Deps{
		Store:       s.store,
		Coordinator: s.coord,
		Scheduler:   s.sched,
		Metrics:     s.metrics,
		Logger:      s.log,
	})
	respCfg := redisserver.DefaultConfig()
	respCfg.Addr = s.cfg.Server.Redis.Addr
	respCfg.RateLimit = s.cfg.Server.Redis.RateLimit
	respCfg.RateBurst = s.cfg.Server.Redis.RateBurst
	redisServer := redisserver.New(respCfg, h, s.log)
	if err := redisServer.Start(); err != nil {
		s.shutdown.Run()
		return fmt.Errorf("start redis listener: %w", err)
	}
	s.redisAddr = redisServer.Addr()
	s.log.Info("RESP server listening", "addr", s.redisAddr.String())
	s.shutdown.OnShutdown("stop redis listener", redisServer.Shutdown)

	if s.cfg.Server.HTTP.Addr == "" {
		return nil
	}
	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Coordinator:    s.coord,
		Scheduler:      s.sched,
		Metrics:        s.metrics,
		Logger:         s.log,
		AdminAllowList: s.cfg.Server.HTTP.AllowList,
		RateLimit:      s.cfg.Server.HTTP.RateLimit,
		EnableAudit:    true,
	})
	httpServer := httpserver.New(s.cfg.Server.HTTP.Addr, router, s.log)
	if s.cfg.Server.HTTP.TLSCertFile != "" {
		kp, err := tlsroots.LoadKeyPair(s.cfg.Server.HTTP.TLSCertFile, s.cfg.Server.HTTP.TLSKeyFile, tlsroots.WithLogger(s.log))
		if err != nil {
			s.shutdown.Run()
			return fmt.Errorf("load http certificate: %w", err)
		}
		if err := kp.Watch(); err != nil {
			s.log.Warn("certificate reload disabled", "error", err)
		}
		s.shutdown.OnShutdown("stop certificate watcher", func(context.Context) error {
			return kp.Stop()
		})
		httpServer.UseTLS(kp.ServerConfig())
	}
	if err := httpServer.Start(); err != nil {
		s.shutdown.Run()
		return fmt.Errorf("start http listener: %w", err)
	}
	s.httpAddr = httpServer.Addr()
	s.log.Info("HTTP server listening", "addr", s.httpAddr.String())
	s.shutdown.OnShutdown("stop http listener", httpServer.Shutdown)
	return nil
}

// wait blocks until SIGINT, SIGTERM or ctx ends, then shuts down.
func (s *server) wait(ctx context.Context) error {
	return s.shutdown.Wait(ctx)
}

// stop shuts down now. It must be called at most once, and not after a
// failed start.
func (s *server) stop() error {
	return s.shutdown.Run()
}

// finalSave waits for a running background save, then writes one more
// snapshot with the configured name and format.
func finalSave(ctx context.Context, coord *storage.Coordinator, log *slog.Logger) error {
	coord.Wait()
	sum, err := coord.Save(ctx, storage.SaveRequest{})
	if errors.Is(err, domain.ErrDisabled) {
		log.Info("snapshots disabled, skipping final save")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("final snapshot written", "file", sum.Name, "records", sum.Records)
	return nil
}

func sweep(ctx context.Context, store *memory.Store) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep()
		}
	}
}
