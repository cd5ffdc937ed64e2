// Package app wires the orchestrator's dependencies together and runs one of
// its four modes: api, worker, retry-collector, migrate (spec.md §6).
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/avmorch/orchestrator/internal/config"
	"github.com/avmorch/orchestrator/internal/db"
	"github.com/avmorch/orchestrator/internal/httpserver"
	"github.com/avmorch/orchestrator/internal/platform"
	"github.com/avmorch/orchestrator/internal/telemetry"
	"github.com/avmorch/orchestrator/pkg/amqpadmin"
	"github.com/avmorch/orchestrator/pkg/avmapi"
	"github.com/avmorch/orchestrator/pkg/avmcommand"
	"github.com/avmorch/orchestrator/pkg/broker"
	"github.com/avmorch/orchestrator/pkg/campaignengine"
	"github.com/avmorch/orchestrator/pkg/containerrunner"
	"github.com/avmorch/orchestrator/pkg/deviceops"
	"github.com/avmorch/orchestrator/pkg/dispatcher"
	"github.com/avmorch/orchestrator/pkg/heat"
	"github.com/avmorch/orchestrator/pkg/mediapath"
	"github.com/avmorch/orchestrator/pkg/processlock"
	"github.com/avmorch/orchestrator/pkg/projectops"
	"github.com/avmorch/orchestrator/pkg/provisioner"
	"github.com/avmorch/orchestrator/pkg/retrycollector"
	"github.com/avmorch/orchestrator/pkg/taskmessage"
	"github.com/avmorch/orchestrator/pkg/testsourcecompile"
)

// Run starts the process in the mode named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	log := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	log.Info("starting", "mode", cfg.Mode)

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DBDSN, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("migrations applied")
		return nil
	}

	if err := platform.CheckSchemaVersion(cfg.DBDSN, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	pool, err := platform.NewPostgresPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)
	store := db.New(pool)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, log, store, pool, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, log, store)
	case "retry-collector":
		return runRetryCollector(ctx, cfg, log)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// mediaConfig builds the path-template resolver shared by the HTTP handler
// layer and the task handlers that read staged uploads off disk.
func mediaConfig(cfg *config.Config) mediapath.Config {
	return mediapath.Config{
		APKPathTemplate:    cfg.APKPathTemplate,
		CameraPathTemplate: cfg.CameraPathTemplate,
	}
}

// runAPI serves the HTTP handler layer (spec.md §6): validates intent,
// reads/writes the Entity Store, and publishes exactly one task per write.
// It never touches External Drivers directly.
func runAPI(ctx context.Context, cfg *config.Config, log *slog.Logger, store *db.Queries, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	b, err := broker.Dial(cfg.AMQPURL())
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	defer b.Close()

	srv := httpserver.NewServer(httpserver.Config{CORSAllowedOrigins: cfg.CORSAllowedOrigins}, log, pool, rdb, metricsReg)

	handler := avmapi.NewHandler(log, store, b, avmapi.Config{
		QuotaVMLiveMax:  cfg.QuotaVMLiveMax,
		QuotaVMAsyncMax: cfg.QuotaVMAsyncMax,
		MediaTempDir:    cfg.MediaTempDir,
	})
	srv.APIRouter.Mount("/", handler.Routes())

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down http server")
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// buildDispatcher wires every task handler package into a Dispatcher
// registry (spec.md §4 operations). Shared by runWorker so the registry and
// its dependencies live in one place.
func buildDispatcher(cfg *config.Config, log *slog.Logger, store *db.Queries, b *broker.Broker, amqpCli *amqpadmin.Client, heatCli *heat.Client, runner *containerrunner.Runner) *dispatcher.Dispatcher {
	media := mediaConfig(cfg)
	cmdRunner := avmcommand.New(store, runner, log)

	prov := provisioner.New(store, b, amqpCli, heatCli, runner, provisioner.Config{
		StackPrefix:    cfg.StackPrefix,
		FloatingNet:    cfg.FloatingNet,
		HeatTemplate:   cfg.HeatTemplate,
		AMQPHostname:   cfg.AMQPHostname,
		AMQPVhost:      cfg.AMQPVHost,
		ComposeProjDir: cfg.ComposeProjDir,
		VMLiveMax:      cfg.QuotaVMLiveMax,
	}, log)

	devices := deviceops.New(store, cmdRunner, media)

	proj := projectops.New(store, runner, media, projectops.Config{
		ComposeProjDir: cfg.ComposeProjDir,
	})

	compiler := testsourcecompile.New(store, runner, media)

	engine := campaignengine.New(store, b, amqpCli, heatCli, runner, cmdRunner, media, campaignengine.Config{
		VMAsyncMax:     cfg.QuotaVMAsyncMax,
		StackPrefix:    cfg.StackPrefix,
		FloatingNet:    cfg.FloatingNet,
		HeatTemplate:   cfg.HeatTemplate,
		AMQPHostname:   cfg.AMQPHostname,
		AMQPVhost:      cfg.AMQPVHost,
		ComposeProjDir: cfg.ComposeProjDir,
	}, log)

	d := dispatcher.New(store, log)
	d.Register(taskmessage.ProjectContainerCreate, proj.ProjectContainerCreate)
	d.Register(taskmessage.ProjectContainerDelete, proj.ProjectContainerDelete)
	d.Register(taskmessage.CameraUpload, proj.CameraUpload)
	d.Register(taskmessage.CameraDelete, proj.CameraDelete)
	d.Register(taskmessage.APKUpload, proj.APKUpload)
	d.Register(taskmessage.APKDelete, proj.APKDelete)

	d.Register(taskmessage.AVMCreate, prov.AVMCreate)
	d.Register(taskmessage.AVMContainersCreate, prov.AVMContainersCreate)
	d.Register(taskmessage.AVMDelete, prov.AVMDelete)

	d.Register(taskmessage.APKInstall, devices.APKInstall)
	d.Register(taskmessage.AVMMonkey, devices.AVMMonkey)
	d.Register(taskmessage.AVMTestRun, devices.AVMTestRun)

	d.Register(taskmessage.TestsourceCompile, compiler.Compile)

	d.Register(taskmessage.CampaignRun, engine.CampaignRun)
	d.Register(taskmessage.CampaignDelete, engine.CampaignDelete)
	d.Register(taskmessage.CampaignAVMCreate, engine.CampaignAVMCreate)
	d.Register(taskmessage.CampaignContainersCreate, engine.CampaignContainersCreate)
	d.Register(taskmessage.CampaignRunTest, engine.CampaignRunTest)

	return d
}

// runWorker consumes the orchestration queue and applies the dispatch
// discipline in spec.md §4.3/§9: Done acks, Retry republishes the same task
// with a delayed redelivery (TaskDelay), and Permanent either acks (when the
// failure has already been projected onto an entity) or nacks without
// requeue so the message falls to the Retry Collector's dead-letter queue.
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger, store *db.Queries) error {
	lock, err := processlock.Acquire("worker")
	if err != nil {
		return fmt.Errorf("worker already running: %w", err)
	}
	defer lock.Release()

	b, err := broker.Dial(cfg.AMQPURL())
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	defer b.Close()

	amqpCli := amqpadmin.New(cfg.AMQPAdminURL, cfg.AMQPAdminUsername, cfg.AMQPAdminPassword)

	heatCli, err := heat.NewClient(heat.Config{
		AuthURL:    cfg.OSAuthURL,
		Username:   cfg.OSUsername,
		Password:   cfg.OSPassword,
		TenantName: cfg.OSTenantName,
		Insecure:   cfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("authenticating with heat: %w", err)
	}

	runner := containerrunner.New(log, cfg.MediaTempDir)
	d := buildDispatcher(cfg, log, store, b, amqpCli, heatCli, runner)

	deliveries, err := b.Consume("avmorch-worker")
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	log.Info("worker ready, consuming tasks")
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return nil
		case d2, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broker delivery channel closed")
			}
			handleDelivery(ctx, log, d, b, cfg, d2)
		}
	}
}

// handleDelivery maps one Outcome onto the AMQP acknowledgement it implies.
func handleDelivery(ctx context.Context, log *slog.Logger, d *dispatcher.Dispatcher, b *broker.Broker, cfg *config.Config, delivery amqp.Delivery) {
	taskName, _ := delivery.Headers[broker.HeaderTask].(string)
	if taskName == "" {
		log.Error("delivery missing task header, discarding")
		_ = delivery.Nack(false, false)
		return
	}

	outcome, err := d.Dispatch(ctx, taskName, delivery.Body)
	if err != nil {
		log.Error("dispatch failed", "task", taskName, "error", err)
		_ = delivery.Nack(false, false)
		return
	}

	switch outcome.Kind {
	case dispatcher.Done:
		_ = delivery.Ack(false)

	case dispatcher.Retry:
		log.Info("task delayed", "task", taskName, "reason", outcome.Reason)
		delay := cfg.WorkerHeatPollInterval
		if err := b.Publish(ctx, taskName, json.RawMessage(delivery.Body), delay); err != nil {
			log.Error("republishing delayed task", "task", taskName, "error", err)
			_ = delivery.Nack(false, true)
			return
		}
		_ = delivery.Ack(false)

	case dispatcher.Permanent:
		log.Warn("task failed permanently", "task", taskName, "reason", outcome.Reason, "classified", outcome.Classified)
		if outcome.Classified {
			_ = delivery.Ack(false)
			return
		}
		_ = delivery.Nack(false, false)
	}
}

// runRetryCollector drains the dead-letter queue and reinjects backed-off
// messages into the main exchange until fail_timeout elapses (spec.md §4.2,
// §9 "Retry Collector").
func runRetryCollector(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	lock, err := processlock.Acquire("retry-collector")
	if err != nil {
		return fmt.Errorf("retry collector already running: %w", err)
	}
	defer lock.Release()

	c, err := retrycollector.Dial(cfg.AMQPURL(), cfg.RetryDelayMin, cfg.RetryDelayMax, cfg.RetryFailTimeout, log)
	if err != nil {
		return fmt.Errorf("dialing retry collector: %w", err)
	}
	defer c.Close()

	deliveries, err := c.Consume("avmorch-retry-collector")
	if err != nil {
		return fmt.Errorf("starting retry consumer: %w", err)
	}

	log.Info("retry collector ready")
	for {
		select {
		case <-ctx.Done():
			log.Info("retry collector shutting down")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("retry collector delivery channel closed")
			}
			if err := c.Run(ctx, delivery); err != nil {
				log.Error("processing retry delivery", "error", err)
			}
		}
	}
}
