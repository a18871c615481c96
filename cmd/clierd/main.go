// Command clierd is the pipeline supervisor daemon entrypoint: flag
// parsing, the two-step fork bootstrap, and the spec §4.10 shutdown
// ordering. Argument parsing is deliberately minimal stdlib flag.Parse
// rather than a cobra command tree (see DESIGN.md) — clierd has exactly
// one job, run the daemon, and every other client operation (status,
// logs, process control) is expected to go through pkg/rpcclient from a
// separate tool, not through this binary's argument surface.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/clier/clier/internal/clierr"
	"github.com/clier/clier/internal/config"
	"github.com/clier/clier/internal/controlserver"
	"github.com/clier/clier/internal/daemonboot"
	"github.com/clier/clier/internal/logger"
	"github.com/clier/clier/internal/supervisor"
)

const clierDirName = ".clier"

type daemonPaths struct {
	SocketPath string
	PidFile    string
	LogsDir    string
	ConfigPath string
}

func main() {
	var (
		projectDir string
		configFlag string
		foreground bool
	)
	flag.StringVar(&projectDir, "project", ".", "project root directory")
	flag.StringVar(&configFlag, "config", "", "path to the JSON pipeline config file (default <project>/clier.json)")
	flag.BoolVar(&foreground, "foreground", false, "run the daemon in this process instead of forking a background child")
	flag.Parse()

	root, err := filepath.Abs(projectDir)
	if err != nil {
		fatal("resolve project root", err)
	}
	clierDir := filepath.Join(root, clierDirName)
	if err := os.MkdirAll(clierDir, 0o700); err != nil {
		fatal("create .clier directory", err)
	}

	configPath := configFlag
	if configPath == "" {
		configPath = filepath.Join(root, "clier.json")
	}

	paths := daemonPaths{
		SocketPath: filepath.Join(clierDir, "daemon.sock"),
		PidFile:    filepath.Join(clierDir, "daemon.pid"),
		LogsDir:    filepath.Join(clierDir, "logs"),
		ConfigPath: configPath,
	}

	// The forked child always runs the daemon directly; it inherits its
	// pidfile entry from the parent that spawned it (Fork writes it).
	if daemonboot.IsChild() {
		runDaemon(paths, false)
		return
	}
	if foreground {
		runDaemon(paths, true)
		return
	}

	if daemonboot.ProbeLiveness(paths.SocketPath) {
		fatal("start", clierr.ErrSocketStillInUse)
	}
	pid, err := daemonboot.Fork(daemonboot.ForkOptions{PidFile: paths.PidFile, SocketPath: paths.SocketPath})
	if err != nil {
		fatal("fork daemon", err)
	}
	fmt.Printf("daemon started, pid %d, socket %s\n", pid, paths.SocketPath)
}

// runDaemon loads the configuration, wires the Supervisor and
// ControlServer, and blocks until a shutdown signal or a daemon.shutdown
// request arrives. writePid is true only on the --foreground path, where
// there is no forking parent to have already recorded this process's pid.
func runDaemon(paths daemonPaths, writePid bool) {
	cfg, err := config.LoadAndValidate(paths.ConfigPath)
	if err != nil {
		fatal("load config", err)
	}

	rootLogger, closeLogs, err := logger.New(logger.Options{
		Dir:      paths.LogsDir,
		TTY:      writePid,
		Level:    slog.LevelInfo,
		ShowTime: true,
	})
	if err != nil {
		fatal("build logger", err)
	}

	if writePid {
		if err := daemonboot.WritePidFile(paths.PidFile, os.Getpid()); err != nil {
			fatal("write pidfile", err)
		}
	}

	sup := supervisor.New(supervisor.Options{
		Paths:       supervisor.Paths{ConfigFile: paths.ConfigPath, LogsDir: paths.LogsDir},
		ProjectName: cfg.ProjectName,
		Logger:      rootLogger,
	})
	if err := sup.Start(cfg); err != nil {
		fatal("start supervisor", err)
	}

	var srv *controlserver.Server
	var closeOnce sync.Once
	// beginShutdown performs only spec §4.10 step (1): stop accepting new
	// control requests. That unblocks Serve below on the main goroutine,
	// which then runs steps (2)-(6) exactly once, in order, with no
	// concurrent access to the Supervisor or the daemon's own log files.
	beginShutdown := func() {
		closeOnce.Do(func() {
			rootLogger.Info("shutdown requested")
			if srv != nil {
				_ = srv.Close()
			}
		})
	}

	srv = controlserver.New(controlserver.Options{
		SocketPath:        paths.SocketPath,
		ConfigPath:        paths.ConfigPath,
		LogsDir:           paths.LogsDir,
		Logger:            rootLogger,
		OnShutdownRequest: beginShutdown,
	}, sup)

	if err := srv.Listen(); err != nil {
		fatal("listen on control socket", err)
	}

	stopSignals := daemonboot.WatchSignals(beginShutdown)
	defer stopSignals()

	rootLogger.Info("daemon ready", "socket", paths.SocketPath, "project", cfg.ProjectName)
	if err := srv.Serve(); err != nil {
		rootLogger.Error("control server stopped", "error", err)
	}

	// Steps (2)-(5): stop scheduling, cancel debounced restarts, terminate
	// every running child with the global deadline, flush logs. Goroutines
	// already waiting in the rate limiter are not drained or cancelled.
	if err := sup.Stop(); err != nil {
		rootLogger.Error("supervisor stop", "error", err)
	}
	// Step (6): unlink pid file. The socket is already unlinked by
	// srv.Close above.
	_ = daemonboot.RemovePidFile(paths.PidFile)
	_ = closeLogs()
}

func fatal(op string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "clierd: %s: %v\n", op, err)
	os.Exit(1)
}
