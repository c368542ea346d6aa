package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/manager"
	"github.com/benaskins/devdeck/internal/port"
	"github.com/benaskins/devdeck/internal/relay"
)

var runCmd = &cobra.Command{
	Use:   "run <dir>",
	Short: "Run a project's dev server in the foreground",
	Long:  "Launch the dev server for the project in dir without a daemon and stream its output. Ctrl-C stops it.",
	Args:  cobra.ExactArgs(1),
	RunE:  runForeground,
}

var runCommand string

func init() {
	runCmd.Flags().StringVar(&runCommand, "cmd", "", "command line to run instead of the detected dev server")
	rootCmd.AddCommand(runCmd)
}

func runForeground(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigCh)

	color := useColor()
	bus := events.NewBus()
	exited := make(chan int, 1)
	var pid int
	pidSet := make(chan struct{})

	unsubscribe := bus.Subscribe(func(ev events.Event) {
		<-pidSet
		if ev.PID != pid {
			return
		}
		switch ev.Kind {
		case events.ProjectOutput:
			fmt.Fprintln(os.Stdout, ev.Line)
		case events.ProjectError:
			fmt.Fprintln(os.Stderr, formatLine(relay.Line{PID: ev.PID, Kind: relay.Stderr, Text: ev.Line}, color))
		case events.ProjectReady:
			fmt.Fprintln(os.Stderr, formatEvent(ev, color))
		case events.ProjectExit:
			code := -1
			if ev.ExitCode != nil {
				code = *ev.ExitCode
			}
			exited <- code
		}
	})
	defer unsubscribe()

	m := manager.New(ctx, nil,
		manager.WithEvents(bus),
		manager.WithPorts(port.NewAllocator(cfg.PortMin, cfg.PortMax)),
		manager.WithLogLines(cfg.LogLines),
	)

	if runCommand != "" {
		pid, err = m.StartCommand(ctx, args[0], runCommand)
	} else {
		pid, err = m.Start(ctx, args[0])
	}
	close(pidSet)
	if err != nil {
		return err
	}

	for _, p := range m.Processes() {
		if p.PID == pid && p.Port > 0 {
			slog.Info("dev server started", "pid", pid, "port", p.Port)
		}
	}

	select {
	case code := <-exited:
		if code != 0 {
			return fmt.Errorf("dev server exited with code %d", code)
		}
		return nil
	case sig := <-sigCh:
		slog.Info("stopping dev server", "signal", sig)
	}

	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer scancel()
	if err := m.Shutdown(sctx); err != nil {
		return err
	}
	<-exited
	return nil
}
