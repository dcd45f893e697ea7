package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshkv/internal/infra/buildinfo"
	"github.com/yndnr/meshkv/internal/infra/confloader"
	"github.com/yndnr/meshkv/internal/server/config"
	"github.com/yndnr/meshkv/internal/storage"
	"github.com/yndnr/meshkv/internal/storage/backend"
	"github.com/yndnr/meshkv/internal/storage/memory"
	"github.com/yndnr/meshkv/internal/storage/schedule"
	"github.com/yndnr/meshkv/internal/storage/snapshot"
	"github.com/yndnr/meshkv/internal/telemetry/logger"
	"github.com/yndnr/meshkv/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("meshkv-server %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  os.Stdout,
		Service: "meshkv-server",
	})
	slog.SetDefault(log)
	log.Info("starting meshkv-server",
		"version", buildinfo.Get().Version,
		"commit", buildinfo.Get().Commit,
		"config", *configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	metrics := metric.NewRegistry()

	// Startup is interruptible until the listeners are up.
	startCtx, stopStart := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopStart()

	be, err := openBackend(startCtx, cfg, log, metrics)
	if err != nil {
		return fmt.Errorf("open snapshot location: %w", err)
	}
	srv, err := newServer(startCtx, cfg, be, log, metrics)
	if err != nil {
		return err
	}
	srv.configFile = *configFile
	if err := srv.start(); err != nil {
		return err
	}
	stopStart()

	log.Info("server started, press Ctrl+C to stop")
	if err := srv.wait(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig layers defaults, the file and MESHKV_ environment variables.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	defaults, err := config.DefaultMap()
	if err != nil {
		return nil, err
	}
	opts := []confloader.Option{confloader.WithDefaults(defaults)}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	cfg := config.Default()
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openBackend(ctx context.Context, cfg *config.ServerConfig, log *slog.Logger, metrics *metric.Registry) (backend.Backend, error) {
	be, err := backend.Open(ctx, cfg.Persistence.Dir, backend.Options{
		Logger: log,
		S3: backend.S3Options{
			Endpoint: cfg.Persistence.S3.Endpoint,
			Region:   cfg.Persistence.S3.Region,
			Secure:   cfg.Persistence.S3.Secure,
			CAFile:   cfg.Persistence.S3.CAFile,
		},
	})
	if err != nil {
		return nil, err
	}
	if c, ok := be.(interface{ Collectors() []prometheus.Collector }); ok {
		if err := metrics.Register(c.Collectors()...); err != nil {
			log.Warn("backend metrics not registered", "error", err)
		}
	}
	log.Info("snapshot location opened", "dir", be.Location().String())
	return be, nil
}

func newCoordinator(cfg *config.ServerConfig, store *memory.Store, be backend.Backend, log *slog.Logger, metrics *metric.Registry) (*storage.Coordinator, error) {
	codec, err := snapshot.NewCodecFromSecret(cfg.Persistence.EncryptionKey)
	if err != nil {
		return nil, err
	}
	coord, err := storage.New(store, be, storage.Config{
		NamePattern: cfg.Persistence.DBFilename,
		Format:      snapshot.Format(cfg.Persistence.Format),
		Workers:     cfg.Persistence.Workers,
		Codec:       codec,
		Logger:      log,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}
	// An empty dbfilename turns snapshots off; New would apply the default.
	if cfg.Persistence.DBFilename == "" {
		if err := coord.SetNamePattern(""); err != nil {
			return nil, err
		}
		log.Warn("dbfilename is empty, snapshots are disabled")
	}
	return coord, nil
}

func applySchedule(sched *schedule.Scheduler, expr string) error {
	if expr == "" {
		sched.SetSpec(nil)
		return nil
	}
	spec, err := schedule.Parse(expr)
	if err != nil {
		return err
	}
	sched.SetSpec(spec)
	return nil
}

// watchConfig re-reads the file on change and applies the settings that
// can change at runtime. Listener addresses, the snapshot location and the
// encryption key need a restart.
func watchConfig(path string, coord *storage.Coordinator, sched *schedule.Scheduler, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Error("configuration reload rejected", "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		if err := coord.SetNamePattern(cfg.Persistence.DBFilename); err != nil {
			log.Error("dbfilename not applied", "error", err)
		}
		if err := coord.SetFormat(snapshot.Format(cfg.Persistence.Format)); err != nil {
			log.Error("format not applied", "error", err)
		}
		if err := applySchedule(sched, cfg.Persistence.Schedule()); err != nil {
			log.Error("schedule not applied", "error", err)
		}
		log.Info("configuration reloaded", "file", path)
	})
	w.Start()
	return w, nil
}
