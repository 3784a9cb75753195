// Command chocostore is the team snapshot store server.
//
// Secrets come from the environment: CHOCO_STORE_SECRET signs agent tokens,
// CHOCO_VAULT_KEY encrypts credential payloads at rest. Both must be at
// least 32 bytes.
//
// Usage:
//
//	chocostore -db store.db -addr :8787
//	chocostore -db store.db -init-team acme -init-member dev@acme.io -init-password <pw>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ravi-ivar-7/choco-sub000/storesrv"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := flag.String("db", "store.db", "path to the store database")
	addr := flag.String("addr", ":8787", "listen address")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of minted agent tokens")
	initTeam := flag.String("init-team", "", "create a team with this name and exit")
	initMember := flag.String("init-member", "", "create a member (email) in the new team; requires -init-team")
	initPassword := flag.String("init-password", "", "password for -init-member")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
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

	if err := run(ctx, logger, *dbPath, *addr, *tokenTTL, *initTeam, *initMember, *initPassword); err != nil {
		logger.Error("chocostore: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dbPath, addr string, tokenTTL time.Duration, initTeam, initMember, initPassword string) error {
	srv, err := storesrv.New(storesrv.Config{
		DBPath:   dbPath,
		Secret:   []byte(os.Getenv("CHOCO_STORE_SECRET")),
		VaultKey: []byte(os.Getenv("CHOCO_VAULT_KEY")),
		TokenTTL: tokenTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	if initTeam != "" {
		return bootstrap(ctx, logger, srv, initTeam, initMember, initPassword)
	}

	done := make(chan struct{})
	defer close(done)
	srv.StartReloaders(done)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chocostore: listening", "addr", addr, "db", dbPath)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func bootstrap(ctx context.Context, logger *slog.Logger, srv *storesrv.Server, teamName, email, password string) error {
	team, err := srv.Repo().CreateTeam(ctx, teamName)
	if err != nil {
		return err
	}
	logger.Info("chocostore: team created", "team", team.ID, "name", team.Name)

	if email == "" {
		return nil
	}
	if password == "" {
		return fmt.Errorf("chocostore: -init-member requires -init-password")
	}
	member, err := srv.Repo().CreateMember(ctx, team.ID, email, password)
	if err != nil {
		return err
	}
	logger.Info("chocostore: member created", "member", member.ID, "email", member.Email)
	return nil
}
