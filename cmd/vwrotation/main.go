package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hadi-Serhan/vwrotation/config"
	"github.com/Hadi-Serhan/vwrotation/internal/action"
	"github.com/Hadi-Serhan/vwrotation/internal/domain"
	"github.com/Hadi-Serhan/vwrotation/internal/health"
	"github.com/Hadi-Serhan/vwrotation/internal/infrastructure/postgres"
	"github.com/Hadi-Serhan/vwrotation/internal/infrastructure/sqlite"
	"github.com/Hadi-Serhan/vwrotation/internal/ledger"
	ctxlog "github.com/Hadi-Serhan/vwrotation/internal/log"
	"github.com/Hadi-Serhan/vwrotation/internal/metrics"
	"github.com/Hadi-Serhan/vwrotation/internal/notify"
	"github.com/Hadi-Serhan/vwrotation/internal/registry"
	"github.com/Hadi-Serhan/vwrotation/internal/rotation"
	"github.com/Hadi-Serhan/vwrotation/internal/scheduler"
	httptransport "github.com/Hadi-Serhan/vwrotation/internal/transport/http"
	"github.com/Hadi-Serhan/vwrotation/internal/transport/http/handler"
	"github.com/Hadi-Serhan/vwrotation/internal/vault"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	led, err := openLedger(ctx, cfg)
	if err != nil {
		stop()
		log.Fatalf("ledger: %v", err)
	}
	defer led.Close()

	logger.Info("ledger opened", "driver", cfg.LedgerDriver)

	vaultClient := vault.NewClient(vault.Config{
		BaseURL:      cfg.VaultwardenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Audience:     cfg.Audience,
		Timeout:      time.Duration(cfg.VaultTimeout) * time.Second,
	}, logger)

	sender := notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, cfg.NotifyRateSec, logger)

	check := rotation.NewCheck(vaultClient, sender, led, rotation.CheckConfig{
		Policy: rotation.Policy{
			Frequency:   time.Duration(cfg.RotationFrequencyDays) * 24 * time.Hour,
			Grace:       time.Duration(cfg.RotationGraceDays) * 24 * time.Hour,
			Collections: cfg.RotationCollections,
			Users:       cfg.RotationUsers,
		},
		BaseURL:       cfg.VaultwardenURL,
		Recipients:    cfg.NotifyTo,
		SubjectPrefix: cfg.SubjectPrefix,
		MaxLines:      cfg.MaxBodyLines,
		Digest:        cfg.RotationDigest,
		DryRun:        cfg.DryRun,
	}, logger)

	actions := action.NewSet()
	actions.Register("rotation-check", check)
	actions.Register("vault-backup", action.NewBackup(vaultClient, cfg.BackupDir, cfg.BackupKeep, logger))
	actions.Register("webhook", action.NewWebhook(logger))

	reg, err := buildRegistry(cfg, actions, registry.Defaults{
		Timeout:     time.Duration(cfg.JobTimeoutSec) * time.Second,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err != nil {
		stop()
		log.Fatalf("registry: %v", err)
	}

	metrics.Register()
	checker := health.NewChecker(led, logger, prometheus.DefaultRegisterer)

	loop := scheduler.NewLoop(reg, led,
		scheduler.RetryPolicy{
			Base: time.Duration(cfg.RetryBaseSec) * time.Second,
			Cap:  time.Duration(cfg.RetryCapSec) * time.Second,
		},
		logger,
		time.Duration(cfg.TickSec)*time.Second,
		time.Duration(cfg.ShutdownGrace)*time.Second,
		cfg.RunHistory,
	)

	if cfg.RunOnce {
		loop.RunOnce(ctx)
		logger.Info("single pass done")
		return
	}

	loopDone := make(chan struct{})
	go func() {
		loop.Start(ctx)
		close(loopDone)
	}()

	statusHandler := handler.NewStatusHandler(reg, led, logger)
	srv := http.Server{
		Addr:    ":" + cfg.StatusPort,
		Handler: httptransport.NewRouter(logger, statusHandler, checker, cfg.StatusToken),
	}

	go func() {
		logger.Info("status server started", "port", cfg.StatusPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("status server: %v", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown", "error", err)
	}

	// Wait for the loop's own drain so in-flight runs get their grace.
	<-loopDone
}

func openLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	if cfg.LedgerDriver == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.NewLedger(ctx, pool)
	}
	return sqlite.NewLedger(ctx, cfg.SQLitePath)
}

// buildRegistry loads the jobs file when one is configured; otherwise it
// falls back to the built-in rotation sweep, plus a backup job when a
// cron is set.
func buildRegistry(cfg *config.Config, actions *action.Set, defs registry.Defaults) (*registry.Registry, error) {
	if cfg.JobsFile != "" {
		return registry.LoadFile(cfg.JobsFile, actions, defs)
	}

	jobs := []domain.Job{{
		ID:       "rotation-check",
		Name:     "Password rotation sweep",
		Action:   "rotation-check",
		Schedule: domain.Schedule{Every: time.Duration(cfg.RotationPollSec) * time.Second},
		Enabled:  true,
	}}
	if cfg.BackupCron != "" {
		jobs = append(jobs, domain.Job{
			ID:       "vault-backup",
			Name:     "Vault backup",
			Action:   "vault-backup",
			Schedule: domain.Schedule{Cron: cfg.BackupCron},
			Enabled:  true,
		})
	}
	return registry.New(jobs, actions, defs)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
