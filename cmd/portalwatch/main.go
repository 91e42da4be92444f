// Command portalwatch is the portal status-watch daemon: it keeps a status
// snapshot fresh by periodically driving an ephemeral browser session
// through the portal, and exposes a local control API for manual refreshes,
// settings, and credentials.
//
// Usage:
//
//	portalwatch -config portalwatch.yaml
//	portalwatch -config portalwatch.yaml -run-once
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/portalwatch/agent"
	"github.com/hazyhaar/portalwatch/control"
	"github.com/hazyhaar/portalwatch/notify"
	"github.com/hazyhaar/portalwatch/refresh"
	"github.com/hazyhaar/portalwatch/schedule"
	"github.com/hazyhaar/portalwatch/session"
	"github.com/hazyhaar/portalwatch/store"
	"github.com/hazyhaar/portalwatch/vault"
)

func main() {
	configPath := flag.String("config", "portalwatch.yaml", "path to the YAML config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	runOnce := flag.Bool("run-once", false, "run a single refresh attempt and exit")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *runOnce); err != nil {
		logger.Error("portalwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, runOnce bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	v, err := vault.New(st.DB, cfg.VaultKey)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	mgr := session.NewManager(session.Config{
		RemoteURL:       cfg.Browser.Remote,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		Logger:          logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	orch := refresh.New(refresh.Config{
		Spawn: func(ctx context.Context) (refresh.Session, error) {
			s, err := mgr.Spawn(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Commander:   agent.NewCommander(logger),
		Store:       st,
		Credentials: v,
		Probe:       cfg.Portal.Rules,
		HomeURL:     cfg.Portal.HomeURL,
		Logger:      logger,
	})

	var notifier notify.Notifier = &notify.LogNotifier{Logger: logger}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.Multi{
			notifier,
			notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret, logger),
		}
	}

	meta := schedule.NewMetaService(st, logger)
	sched := schedule.New(st, meta, orch, v, notifier, schedule.Config{
		RetryDelay:  cfg.Schedule.RetryDelay,
		Cooldown:    cfg.Schedule.Cooldown,
		ResumeAfter: cfg.Schedule.ResumeAfter,
	}, logger)
	defer sched.Stop()

	if runOnce {
		res := sched.RunNow(ctx)
		logger.Info("portalwatch: run-once finished",
			"code", res.CodeName, "success", res.Success, "error", res.Err)
		if !res.Success {
			return fmt.Errorf("refresh: %s", res.CodeName)
		}
		return nil
	}

	if err := sched.Reschedule(ctx); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	receiver := agent.NewReceiver(st, cfg.AgentSecret, logger)
	srv := control.New(st, sched, v, control.Config{
		Addr:   cfg.Listen,
		Token:  cfg.APIToken,
		Agent:  receiver.Routes(),
		Logger: logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("portalwatch: shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
