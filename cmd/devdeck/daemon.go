package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/benaskins/devdeck/internal/api"
	"github.com/benaskins/devdeck/internal/audit"
	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/manager"
	"github.com/benaskins/devdeck/internal/pkgmgr"
	"github.com/benaskins/devdeck/internal/port"
	"github.com/benaskins/devdeck/internal/workspace"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the devdeck daemon",
	Long:  "Start the daemon that launches dev servers, relays their output, and serves the local API.",
	RunE:  runDaemon,
}

var apiAddr string

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9090)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if apiAddr == "" {
		apiAddr = cfg.APIAddr
	}

	home, err := devdeckHome()
	if err != nil {
		return fmt.Errorf("creating devdeck home: %w", err)
	}

	lock := flock.New(filepath.Join(home, "daemon.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return errors.New("daemon already running (lock held by another process)")
	}
	defer func() { _ = lock.Unlock() }()

	projectsDir, err := workspace.EnsureProjectsDir("", cfg.ProjectsDir)
	if err != nil {
		return err
	}

	journal, err := audit.NewLogger(filepath.Join(home, "journal.log"))
	if err != nil {
		return err
	}
	defer journal.Close()

	slog.Info("devdeck daemon starting", "home", home, "projects_dir", projectsDir, "journal", journal.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)

	bus := events.NewBus()
	m := manager.New(ctx, nil,
		manager.WithEvents(bus),
		manager.WithPorts(port.NewAllocator(cfg.PortMin, cfg.PortMax)),
		manager.WithJournal(journal),
		manager.WithStateDir(home),
		manager.WithLogLines(cfg.LogLines),
	)
	reaped, err := m.ReapOrphans()
	if err != nil {
		slog.Warn("orphan recovery failed", "error", err)
	} else if len(reaped) > 0 {
		slog.Info("reaped orphaned projects", "pids", reaped)
	}

	runner := pkgmgr.NewRunner(bus, journal)

	go func() {
		err := workspace.Watch(ctx, projectsDir, workspace.DefaultDebounce, func() {
			bus.Publish(events.Event{Kind: events.ProjectsChanged, Path: projectsDir})
		})
		if err != nil {
			slog.Warn("projects folder watcher stopped", "error", err)
		}
	}()

	socketPath := defaultSocketPath()
	// Remove stale socket; the lock guarantees no live daemon owns it
	os.Remove(socketPath)

	srv := api.NewServer(ctx, m,
		api.WithEvents(bus),
		api.WithTasks(runner),
		api.WithProjectsDir(projectsDir),
		api.WithEditor(cfg.Editor),
		api.WithAllowedOrigins(cfg.AllowedOrigins...),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	if apiAddr != "" {
		go func() {
			if err := srv.ListenTCP(apiAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	slog.Info("devdeck daemon ready", "socket", socketPath)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "error", err)
		}
	}

	// Stop projects before cancelling ctx: cancellation kills every child
	// outright, skipping the graceful terminate.
	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer scancel()
	if err := m.Shutdown(sctx); err != nil {
		slog.Warn("project shutdown incomplete", "error", err)
	}

	cancel()
	srv.Shutdown(sctx)
	runner.Wait()
	os.Remove(socketPath)

	slog.Info("devdeck daemon stopped")
	return nil
}
