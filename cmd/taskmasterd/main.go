// Command taskmasterd is the supervisor daemon described by spec.md:
// it launches, monitors, and restarts a configured set of child
// programs, exposing a local control channel for the taskmasterctl
// companion CLI.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"

	"github.com/lmnz/taskmasterd/internal/daemon"
	"github.com/lmnz/taskmasterd/internal/taskmaster"
	"github.com/lmnz/taskmasterd/pkg/protocol"
)

func main() {
	var (
		configPath = flag.String("c", "/etc/taskmasterd.yaml", "configuration file path")
		sockPath   = flag.String("s", protocol.DefaultSocketPath, "control channel socket path")
		pidPath    = flag.String("p", "/var/run/taskmasterd.pid", "pid file path")
		logPath    = flag.String("l", "/var/log/taskmasterd.log", "log file path (daemonized mode only)")
		foreground = flag.Bool("f", false, "run in the foreground instead of daemonizing")
		tick       = flag.Duration("tick", 100*time.Millisecond, "supervisor tick interval")
	)
	flag.Parse()

	if !*foreground {
		isParent, release, err := daemon.Daemonize(daemon.Options{
			PIDFile: *pidPath,
			LogFile: *logPath,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "taskmasterd: %v\n", err)
			os.Exit(1)
		}
		if isParent {
			return
		}
		if release != nil {
			defer release()
		}
	}

	log := newLogger(*foreground)
	defer log.Sync()

	pidfile, err := daemon.Acquire(*pidPath)
	if err != nil {
		log.Fatal("acquire pidfile", zap.Error(err))
	}
	defer pidfile.Release()

	d, err := taskmaster.NewDaemon(taskmaster.Options{
		ConfigPath:   *configPath,
		SocketPath:   *sockPath,
		TickInterval: *tick,
	}, log)
	if err != nil {
		log.Fatal("initializing daemon", zap.Error(err))
	}

	installSignalHandlers(d, log)

	log.Info("taskmasterd starting",
		zap.String("config", *configPath),
		zap.String("socket", *sockPath))

	if err := d.Run(); err != nil {
		log.Error("reactor exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("taskmasterd stopped")
}

// installSignalHandlers wires spec.md §5's two latched-flag signals
// (reload on SIGHUP, detach/interrupt is client-side) plus the
// conventional SIGINT/SIGTERM graceful-quit pair and a SIGUSR1
// introspection dump (SPEC_FULL.md's go-spew supplement). Handlers do
// nothing but latch flags/call daemon methods that themselves only
// flip state under the table lock — the rule spec.md §5 states
// explicitly: "Signal handlers do nothing else; actual work runs in
// normal contexts."
func installSignalHandlers(d *taskmaster.Daemon, log *zap.Logger) {
	sigc := make(chan os.Signal, 8)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	go func() {
		for sig := range sigc {
			switch sig {
			case syscall.SIGHUP:
				log.Info("SIGHUP received, scheduling reload")
				d.RequestReload()
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("shutdown signal received", zap.String("signal", sig.String()))
				d.RequestQuit()
			case syscall.SIGUSR1:
				spew.Dump(d.Snapshot())
			}
		}
	}()
}

func newLogger(foreground bool) *zap.Logger {
	var cfg zap.Config
	if foreground {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmasterd: building logger: %v\n", err)
		os.Exit(1)
	}
	return log
}
