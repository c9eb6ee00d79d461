package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-workforce/cmd/workforce/cli"
	"github.com/odyssey-erp/odyssey-workforce/internal/app"
	"github.com/odyssey-erp/odyssey-workforce/internal/attendance"
	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-workforce/internal/audit/http"
	"github.com/odyssey-erp/odyssey-workforce/internal/dedup"
	"github.com/odyssey-erp/odyssey-workforce/internal/leave"
	"github.com/odyssey-erp/odyssey-workforce/internal/notify"
	"github.com/odyssey-erp/odyssey-workforce/internal/observability"
	"github.com/odyssey-erp/odyssey-workforce/internal/payroll"
	"github.com/odyssey-erp/odyssey-workforce/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-workforce/internal/platform/db"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/users"
	"github.com/odyssey-erp/odyssey-workforce/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrationsAuto {
		changed, err := db.Migrate(cfg.PGDSN)
		if err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations checked", slog.Bool("applied", changed))
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	var lockCache *payroll.LockCache
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, lock cache disabled", slog.Any("error", err))
	} else {
		lockCache = payroll.NewLockCache(redisClient, cfg.LockCacheTTL, logger).WithObserver(metrics)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	policy, err := cfg.AttendancePolicy()
	if err != nil {
		logger.Error("attendance policy", slog.Any("error", err))
		os.Exit(1)
	}

	permissions := rbac.DefaultPolicy()
	guard := rbac.Middleware{Policy: permissions}

	auditStore := audit.NewStore(audit.NewRepository(pool), logger)
	recorder := audit.NewRecorder(auditStore, logger, metrics)

	directory := users.NewDirectory(users.NewRepository(pool))

	payrollSvc := payroll.NewService(payroll.Config{
		Repo:   payroll.NewRepository(pool),
		Users:  directory,
		Policy: permissions,
		Cache:  lockCache,
		Audit:  recorder,
		Logger: logger,
	})

	attendanceSvc := attendance.NewService(attendance.NewRepository(pool), payrollSvc, recorder, policy, logger)

	redisOpts, err := cache.QueueOptions(cfg.RedisAddr)
	if err != nil {
		logger.Error("queue redis options", slog.Any("error", err))
		os.Exit(1)
	}
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	notifier := notify.NewDispatcher(notify.NewQueueNotifier(queue), logger)

	leaveRepo := leave.NewRepository(pool)
	ledger := leave.NewLedger(leaveRepo, payrollSvc, recorder, logger)
	workflow := leave.NewWorkflow(leave.WorkflowConfig{
		Repo:     leaveRepo,
		Ledger:   ledger,
		Users:    directory,
		Policy:   permissions,
		Locks:    payrollSvc,
		Audit:    recorder,
		Notifier: notifier,
		Logger:   logger,
	})
	payrollSvc.SetSources(attendanceSvc, workflow, ledger)

	auditStore.RegisterRestorer(attendance.EntityType, attendanceSvc)
	auditStore.RegisterRestorer(leave.EntityBalance, ledger)

	dedupSvc := dedup.NewService(dedup.NewRepository(pool), recorder, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("queue inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Actors:             directory,
		DB:                 pool,
		AttendanceHandler:  attendance.NewHandler(logger, attendanceSvc, guard, metrics),
		LeaveHandler:       leave.NewHandler(logger, ledger, workflow, guard, metrics),
		PayrollHandler:     payroll.NewHandler(logger, payrollSvc, guard, metrics),
		AuditHandler:       audithttp.NewHandler(logger, auditStore, guard),
		UsersHandler:       users.NewHandler(logger, directory, guard),
		ImportsHandler:     dedup.NewHandler(logger, dedupSvc, guard, metrics),
		NotifyHandler:      notify.NewHandler(notify.NewRepository(pool), logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		PermissionsHandler: rbac.NewPermissionsHandler(permissions),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runCommand handles the operator subcommands: migrate, jobs trigger and jobs stats.
func runCommand(cfg *app.Config, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "migrate":
		changed, err := db.Migrate(cfg.PGDSN)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "migrations applied: %t\n", changed)
		return nil
	case "jobs":
		if len(args) < 2 {
			return fmt.Errorf("usage: workforce jobs <trigger|stats>")
		}
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		switch args[1] {
		case "trigger":
			fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
			actor := fs.Int64("actor", cfg.DedupActorID, "user id recorded as the actor")
			if err := fs.Parse(args[2:]); err != nil {
				return err
			}
			if fs.NArg() != 1 {
				return fmt.Errorf("usage: workforce jobs trigger [-actor id] <task>")
			}
			info, err := jobsCLI.Trigger(ctx, fs.Arg(0), *actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		case "stats":
			stats, err := jobsCLI.InspectQueues(ctx)
			if err != nil {
				return err
			}
			return cli.WriteStats(os.Stdout, stats)
		default:
			return fmt.Errorf("unknown jobs command %q", args[1])
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
