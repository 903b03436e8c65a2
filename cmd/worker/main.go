package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aivle/evalworker/internal/config"
	"github.com/aivle/evalworker/internal/coordinator"
	"github.com/aivle/evalworker/internal/events"
	"github.com/aivle/evalworker/internal/heartbeat"
	"github.com/aivle/evalworker/internal/jobeval"
	"github.com/aivle/evalworker/internal/jobrunner"
	"github.com/aivle/evalworker/internal/metrics"
	"github.com/aivle/evalworker/internal/sandbox"
	"github.com/aivle/evalworker/internal/sandbox/container"
	"github.com/aivle/evalworker/internal/sandbox/venv"
	"github.com/aivle/evalworker/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Printf("evalworker: starting (id=%s, backend=%s)...", cfg.WorkerID, cfg.SandboxBackend)

	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatalf("failed to initialize sandbox backend: %v", err)
	}

	for _, dir := range []string{cfg.AgentsPath, cfg.SuitesPath, cfg.OutputRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	executor := jobeval.NewExecutor(backend)

	api := coordinator.New(cfg.CoordinatorJobsURL, cfg.CoordinatorUsername, cfg.CoordinatorPassword, cfg.CoordinatorInsecureTLS)

	runner := jobrunner.New(api, executor, jobrunner.Config{
		WorkerID:           cfg.WorkerID,
		AgentsPath:         cfg.AgentsPath,
		SuitesPath:         cfg.SuitesPath,
		OutputRoot:         cfg.OutputRoot,
		RunnerKitPath:      cfg.RunnerKitPath,
		DefaultPythonImage: cfg.DefaultPythonImage,
		PullTimeLimit:      cfg.PullTimeLimit,
		SetupTimeLimit:     cfg.SetupTimeLimit,
		MaxRetries:         cfg.EndMaxRetries,
		RetryDelay:         cfg.EndRetryDelay,
	})

	w := watcher.New(api, runner, watcher.Config{
		Sleep:     cfg.PollInterval,
		Processes: cfg.BatchWidth,
	})

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsAddr)
	defer metricsSrv.Close()
	log.Printf("evalworker: metrics server started on %s", cfg.MetricsAddr)

	if cfg.RedisURL != "" {
		hb, err := heartbeat.New(cfg.RedisURL, cfg.WorkerID)
		if err != nil {
			log.Printf("evalworker: Redis heartbeat not available: %v", err)
		} else {
			hb.Start(func() (int, int) {
				return cfg.BatchWidth, w.Active()
			})
			defer hb.Stop()
			log.Println("evalworker: Redis heartbeat started")
		}
	}

	if cfg.NATSURL != "" {
		pub, err := events.New(cfg.NATSURL, cfg.WorkerID)
		if err != nil {
			log.Printf("evalworker: NATS not available: %v (continuing without event publishing)", err)
		} else {
			defer pub.Close()
			runner.Events = pub
			log.Println("evalworker: NATS event publisher started")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go w.Watch(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("evalworker: shutting down...")
	cancel()
}

func newBackend(cfg *config.Config) (sandbox.Backend, error) {
	switch cfg.SandboxBackend {
	case "venv":
		return venv.New(cfg.VenvBaseDir, cfg.VenvJailed)
	default:
		return container.New(cfg.ContainerBinary)
	}
}
