// cmd/worker-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admissions-portal/internal/announcement"
	awsclient "admissions-portal/internal/common/aws"
	"admissions-portal/internal/common/camunda"
	"admissions-portal/internal/common/config"
	"admissions-portal/internal/common/database"
	"admissions-portal/internal/common/logger"
	"admissions-portal/internal/common/observability"
	"admissions-portal/internal/portal"
	"admissions-portal/internal/review"

	aas "admissions-portal/internal/workers/application/advance-application-status"
)

const announcementRefreshInterval = 5 * time.Minute

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", operationName, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func fatal(log logger.Logger, msg string, err error) {
	log.Error(msg, map[string]interface{}{"error": err})
	os.Exit(1)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logger.New("info", "console")
		bootstrap.Fatal("config load failed: " + err.Error())
	}

	log := logger.NewFromConfig(cfg.Logging)
	log.Info("Starting worker manager...", map[string]interface{}{
		"app":         cfg.App.Name,
		"environment": cfg.App.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.New(cfg.Observability.ServiceName)
	defer obs.Shutdown()

	shutdownTracing, err := observability.InitTracing(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing disabled", map[string]interface{}{"error": err})
		shutdownTracing = func(context.Context) error { return nil }
	}

	checks := map[string]componentCheck{}
	deps := portal.Deps{Obs: obs}

	// --- Redis (local store and broadcasts) ---
	var redis *database.RedisClient
	err = retryWithBackoff(ctx, func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		fatal(log, "redis failed after retries", err)
	}
	defer redis.Close()
	deps.Redis = redis.Client
	checks["redis"] = redis.Ping
	log.Info("Redis connected successfully", nil)

	// --- PostgreSQL (remote mirror), optional ---
	if cfg.Database.Postgres.Configured() {
		var pg *database.PostgresClient
		err = retryWithBackoff(ctx, func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			fatal(log, "postgres failed after retries", err)
		}
		defer pg.Close()
		deps.DB = pg.DB
		checks["postgres"] = pg.Ping
		log.Info("PostgreSQL connected successfully", nil)
	} else {
		log.Warn("PostgreSQL not configured, submissions stay pending until it is", nil)
	}

	// --- Zeebe (review workflow), optional ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled() {
		err = retryWithBackoff(ctx, func() error {
			var err error
			zeebe, err = camunda.NewClient(cfg.Camunda.BrokerAddress)
			return err
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			fatal(log, "zeebe client failed after retries", err)
		}
		defer zeebe.Close()
		deps.Process = review.ProcessStarter(zeebe)
		checks["zeebe"] = zeebe.HealthCheck
		log.Info("Zeebe client connected successfully", nil)
	}

	// --- AWS notification channels ---
	if cfg.Notifications.Email.Enabled {
		if sesClient, err := awsclient.NewSESClient(ctx, cfg.Notifications.AWS.Region); err != nil {
			log.Warn("email notifications disabled", map[string]interface{}{"error": err})
		} else {
			deps.SES = sesClient
		}
	}
	if cfg.Notifications.SMS.Enabled {
		if snsClient, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWS.Region); err != nil {
			log.Warn("SMS notifications disabled", map[string]interface{}{"error": err})
		} else {
			deps.SNS = snsClient
		}
	}

	app, err := portal.New(ctx, cfg, deps, log)
	if err != nil {
		fatal(log, "form engine initialization failed", err)
	}
	defer app.Close()

	// --- Elasticsearch (announcements), optional ---
	if len(cfg.Database.Elasticsearch.Addresses) > 0 {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			fatal(log, "elasticsearch client failed", err)
		}
		announcements := announcement.NewRepository(es.Client, cfg.Database.Elasticsearch.AnnouncementIndex, log)
		if err := announcements.Init(ctx); err != nil {
			log.Warn("announcements unavailable at startup", map[string]interface{}{"error": err})
		}
		defer announcements.Dispose()
		go announcements.Run(ctx, announcementRefreshInterval)
		checks["elasticsearch"] = es.Ping
	}

	// --- Workers ---
	var workers *camunda.Workers
	if zeebe != nil {
		workers = camunda.NewWorkers(zeebe.GetClient(), log)
		if app.Remote != nil {
			wcfg := config.GetWorkerConfig(cfg, aas.TaskType)
			handler := aas.NewHandler(&aas.Config{Timeout: config.GetDuration(wcfg.Timeout)}, app.Remote, app.Bus, obs, log)
			workers.Start(aas.TaskType, wcfg, handler.Handle)
		} else {
			log.Warn("status worker needs PostgreSQL, not started", map[string]interface{}{"taskType": aas.TaskType})
		}
		log.Info("workers registered", map[string]interface{}{"running": workers.Running()})
	}

	// --- Pending sync replay ---
	if app.Remote != nil {
		go replayPending(ctx, app, log)
	}

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr:              cfg.Observability.MetricsAddress,
		Handler:           newServeMux(checks),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Health/Metrics server listening", map[string]interface{}{"address": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health/Metrics server failed", map[string]interface{}{"error": err})
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	log.Info("Shutdown signal received, stopping workers...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if workers != nil {
		workers.Close()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping health server", map[string]interface{}{"error": err})
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error flushing traces", map[string]interface{}{"error": err})
	}

	log.Info("Worker manager stopped gracefully", nil)
}

// replayPending pushes submissions that never reached PostgreSQL on every poll interval.
func replayPending(ctx context.Context, app *portal.Portal, log logger.Logger) {
	ticker := time.NewTicker(app.Config.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.Pipeline.SyncPending(ctx)
			if err != nil {
				log.Warn("pending sync replay failed", map[string]interface{}{"error": err})
				continue
			}
			if n > 0 {
				log.Info("pending submissions synced", map[string]interface{}{"count": n})
			}
		}
	}
}
