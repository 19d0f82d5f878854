package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Ramachokkalingam/cmdr-code/docs"
	"github.com/Ramachokkalingam/cmdr-code/src/api"
	"github.com/Ramachokkalingam/cmdr-code/src/config"
	"github.com/Ramachokkalingam/cmdr-code/src/session"
	"github.com/Ramachokkalingam/cmdr-code/src/terminal"
)

// @title			cmdr terminal session API
// @version		0.1.0
// @description	Persistent, reconnectable terminal sessions over WebSocket.

// @host		localhost:8080
// @BasePath	/
func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("main: no .env file found, continuing with process environment")
	}

	cfg := config.FromEnv(config.Default())

	port := flag.Int("port", 8080, "Port to listen on")
	shortPort := flag.Int("p", 8080, "Port to listen on (shorthand)")
	stateDir := flag.String("state-dir", cfg.StateDir, "Directory where session checkpoints are written")
	command := flag.String("command", "", "Command to run alongside the server, once, at startup")
	flag.Parse()

	portValue := *port
	if *shortPort != 8080 {
		portValue = *shortPort
	}
	cfg.ListenAddr = fmt.Sprintf(":%d", portValue)
	cfg.StateDir = *stateDir
	docs.SwaggerInfo.Host = fmt.Sprintf("localhost%s", cfg.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := session.NewRegistry(session.RegistryConfig{
		StateDir:       cfg.StateDir,
		BufferCapacity: cfg.BufferCapacity,
		SoftSessionCap: cfg.SoftSessionCap,
	})
	if err != nil {
		logrus.WithError(err).Fatal("main: failed to initialize session registry")
	}

	if err := registry.RestoreFromDisk(); err != nil {
		logrus.WithError(err).Error("main: failed to restore sessions from disk, continuing with an empty registry")
	}
	logrus.WithField("count", registry.Count()).Info("main: restored sessions from disk")

	maintenance := session.NewMaintenanceLoop(registry, session.MaintenanceConfig{
		SaveInterval:    cfg.SaveInterval,
		CleanupInterval: cfg.CleanupInterval,
		MaxInactiveAge:  cfg.MaxInactiveAge,
		SoftSessionCap:  cfg.SoftSessionCap,
	})
	maintenance.Start()
	defer maintenance.Stop()

	watchStateDirectory(ctx, cfg.StateDir, registry)

	if *command != "" {
		runStartupCommand(ctx, *command)
	}

	adapter := terminal.NewAdapter(terminal.AdapterConfig{
		Registry:        registry,
		ReplayChunkSize: cfg.ReplayChunkSize,
		ReplayYield:     cfg.ReplayYield,
		DefaultShell:    cfg.DefaultShell,
	})
	registry.SetCloseHook(adapter.Close)

	router := api.SetupRouter(api.RouterConfig{
		Registry: registry,
		Adapter:  adapter,
	})

	go func() {
		logrus.WithField("addr", cfg.ListenAddr).Info("main: starting cmdr terminal server")
		if err := router.Run(cfg.ListenAddr); err != nil {
			logrus.WithError(err).Fatal("main: server exited")
		}
	}()

	waitForShutdown(registry)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then flushes every dirty
// session one last time before the process exits.
func waitForShutdown(registry *session.Registry) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("main: shutting down, flushing sessions")
	if err := registry.SaveAll(); err != nil {
		logrus.WithError(err).Error("main: final save-all failed")
	}
}

// runStartupCommand runs an optional one-shot command outside of any
// terminal session, mirroring the teacher's "run this once at boot"
// convenience flag.
func runStartupCommand(ctx context.Context, command string) {
	logrus.WithField("command", command).Info("main: executing startup command")
	go func() {
		pt, err := terminal.StartPTY(command, "/", 80, 24)
		if err != nil {
			logrus.WithError(err).Error("main: startup command failed to start")
			return
		}
		go func() {
			<-ctx.Done()
			_ = pt.Close()
		}()
		buf := make([]byte, 4096)
		for {
			if _, err := pt.Read(buf); err != nil {
				return
			}
		}
	}()
}

// watchStateDirectory watches the state directory for externally-dropped
// .state files (e.g. restored from a backup while the server is running)
// and folds them into the registry without requiring a restart.
func watchStateDirectory(ctx context.Context, stateDir string, registry *session.Registry) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.WithError(err).Warn("main: could not start state directory watcher")
		return
	}
	if err := watcher.Add(stateDir); err != nil {
		logrus.WithError(err).Warn("main: could not watch state directory")
		_ = watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if err := registry.RestoreFromDisk(); err != nil {
					logrus.WithError(err).Warn("main: failed to reload after state directory change")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("main: state directory watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()
}
