// CLAUDE:SUMMARY CLI entry point for chocod — session sync agent with
// one-shot and watch modes.

// Command chocod is the session synchronization agent.
//
// Usage:
//
//	chocod -config choco.yaml -watch          # monitor and sync continuously
//	chocod -config choco.yaml -site maang     # one full sync pass for a site
//	chocod -config choco.yaml -push maang     # push-only pass for a site
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

	chocosync "github.com/ravi-ivar-7/choco-sub000"
	"github.com/ravi-ivar-7/choco-sub000/browsercap"
	"github.com/ravi-ivar-7/choco-sub000/session"
)

func main() {
	configPath := flag.String("config", "choco.yaml", "path to agent config file")
	site := flag.String("site", "", "run one full sync pass for this site key and exit")
	push := flag.String("push", "", "run one push-only pass for this site key and exit")
	watch := flag.Bool("watch", false, "monitor browser mutations and sync continuously")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *site, *push, *watch); err != nil {
		logger.Error("chocod: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, logger *slog.Logger, configPath, site, push string, watch bool) error {
	cfg, err := chocosync.LoadConfigFile(configPath)
	if err != nil {
		return err
	}

	engine, err := chocosync.New(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	switch {
	case site != "":
		return runOnce(ctx, engine, site)
	case push != "":
		return runPush(ctx, engine, push)
	case watch:
		return runWatch(ctx, engine)
	}

	fmt.Fprintln(os.Stderr, "usage: chocod -config <file> [-watch | -site <key> | -push <key>]")
	os.Exit(1)
	return nil
}

func runOnce(ctx context.Context, engine *chocosync.Engine, site string) error {
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	out, err := engine.SyncSite(ctx, site)
	if err != nil {
		return fmt.Errorf("sync %s: %w", site, err)
	}
	slog.Info("chocod: sync finished", "site", site, "outcome", out.Kind, "credential", out.CredentialID)
	return nil
}

func runPush(ctx context.Context, engine *chocosync.Engine, site string) error {
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	out, err := engine.Orchestrator().Push(ctx, site, browsercap.Target{}, session.SourceManual)
	if err != nil {
		return fmt.Errorf("push %s: %w", site, err)
	}
	slog.Info("chocod: push finished", "site", site, "outcome", out.Kind, "credential", out.CredentialID)
	return nil
}

func runWatch(ctx context.Context, engine *chocosync.Engine) error {
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// pick up tabs opened after startup
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for {
		if err := engine.WatchTabs(ctx); err != nil {
			slog.Warn("chocod: tab scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
