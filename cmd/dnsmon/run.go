package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rsclarke/dnsmon/internal/apps"
	"github.com/rsclarke/dnsmon/internal/capture"
	"github.com/rsclarke/dnsmon/internal/config"
	"github.com/rsclarke/dnsmon/internal/daemon"
	"github.com/rsclarke/dnsmon/internal/db"
	"github.com/rsclarke/dnsmon/internal/logging"
	"github.com/rsclarke/dnsmon/internal/models"
	"github.com/rsclarke/dnsmon/internal/module"
	"github.com/rsclarke/dnsmon/internal/monitor"
	"github.com/rsclarke/dnsmon/internal/notify"
	"github.com/rsclarke/dnsmon/internal/procnet"
	"github.com/rsclarke/dnsmon/internal/rdns"
	"github.com/rsclarke/dnsmon/internal/readiness"
	"github.com/rsclarke/dnsmon/internal/records"
	"github.com/rsclarke/dnsmon/internal/routing"
	"github.com/rsclarke/dnsmon/internal/tail"
	"github.com/rsclarke/dnsmon/internal/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var runFlags struct {
	noTUI bool
	start bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Supervise the daemon and show live DNS activity",
	Long: `Start the activity monitor. The daemon is resumed when it was running
at the last exit.

Keys (terminal UI):
  s  start or stop the daemon
  a  toggle auto scroll
  c  copy the activity log
  r  restart the daemon
  q  quit

Without a terminal UI (--no-tui), SIGHUP restarts the daemon and
SIGINT/SIGTERM exit.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runFlags.noTUI, "no-tui", false, "run headless, e.g. under systemd")
	runCmd.Flags().BoolVar(&runFlags.start, "start", false, "start the daemon if it is not running")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mode, err := cfg.OperationMode()
	if err != nil {
		return err
	}

	// The terminal UI owns stderr.
	if !runFlags.noTUI && os.Getenv("DNSMON_LOG_FILE") == "" {
		logCfg := logging.FromEnv()
		logCfg.File = filepath.Join(config.StateDir(), "dnsmon.log")
		if err := os.MkdirAll(filepath.Dir(logCfg.File), 0o700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		fileLogger, err := logging.New(logCfg)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = fileLogger
	}

	database, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	prefs := db.Prefs{DB: database}
	store := module.NewStore(mode)
	captureActive := mode == module.VPNMode || cfg.FixTTL()

	var owners capture.OwnerLookup
	if table, err := procnet.Open("/proc"); err != nil {
		logger.Warn("socket ownership unavailable", zap.Error(err))
	} else {
		owners = table
	}

	buffer := records.NewBuffer(cfg.Capture.MaxRecords)
	captureSrv := capture.New(capture.Config{
		Listen:    cfg.Capture.Listen,
		Upstream:  cfg.Daemon.Listen,
		Fallback:  cfg.Capture.Fallback,
		BlockIPv6: cfg.Capture.BlockIPv6,
	}, buffer, prefs, owners, logger.Named("capture"))

	var binder monitor.Binder
	if captureActive {
		if err := captureSrv.Start(); err != nil {
			return fmt.Errorf("start capture proxy: %w", err)
		}
		binder = captureSrv
	}

	router := routing.New(routing.Config{
		ExemptUID: os.Getuid(),
		Reloader:  captureSrv,
	}, logger.Named("routing"))

	proc := daemon.New(daemon.Config{
		Binary:  cfg.Daemon.Binary,
		Args:    cfg.Daemon.Args,
		LogPath: cfg.Monitor.LogPath,
	}, store, logger.Named("daemon"))

	labels, err := cfg.AppLabels()
	if err != nil {
		return err
	}

	var hosts records.HostResolver
	if cfg.Capture.ReverseResolver != "" {
		hosts = rdns.New(cfg.Capture.ReverseResolver, logger.Named("rdns"))
	}

	notifier := readiness.New(logger.Named("readiness"))

	sinks := notify.Multi{notify.NewRecorder(database, logger.Named("notify"))}
	var view *tui.View
	if !runFlags.noTUI {
		view = tui.New(tui.Options{
			AutoScroll: cfg.Monitor.AutoScroll,
			Restart:    proc.Restart,
			OnStatus:   notifier.Status,
			Logger:     logger,
		})
		sinks = append(sinks, view.Sink())
	}

	mon, err := monitor.New(monitor.Env{
		Store:  store,
		Config: cfg,
		Tail:   tail.NewFileReader(cfg.Monitor.LogPath, cfg.Monitor.TailLines),
		Daemon: proc,
		Router: router,
		Binder: binder,
		Apps:   apps.NewResolver(labels),
		Hosts:  hosts,
		Notify: sinks,
		Prefs:  prefs,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	wasRunning, err := prefs.Bool(models.PrefModuleRunning)
	if err != nil {
		return fmt.Errorf("read daemon state: %w", err)
	}
	if wasRunning {
		logger.Info("resuming daemon")
		proc.Start()
	}

	mon.Start()
	if runFlags.start && !wasRunning {
		mon.OnStartButtonPressed()
	}

	notifier.Ready()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if view != nil {
		err = view.Run(ctx, mon)
	} else {
		runHeadless(ctx, mon, notifier, proc)
	}

	notifier.Stopping()
	mon.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := proc.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("daemon did not exit", zap.Error(serr))
	}
	if captureActive {
		captureSrv.Shutdown(shutdownCtx)
	}

	logger.Info("dnsmon stopped")
	return err
}

// runHeadless drains monitor updates into the log and systemd status until
// ctx ends. SIGHUP restarts a running daemon.
func runHeadless(ctx context.Context, mon *monitor.Monitor, notifier *readiness.Notifier, proc *daemon.Process) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-mon.Done():
			return
		case <-hup:
			if proc.Running() {
				logger.Info("restarting daemon", logging.Reason("SIGHUP"))
				proc.Restart()
			}
		case u := <-mon.Updates():
			switch u.Kind {
			case monitor.UpdateStatus:
				logger.Info("daemon status", logging.State(u.State.String()))
				notifier.Status(u.State)
			case monitor.UpdateLog:
				logger.Debug("activity updated", zap.Int("bytes", len(u.Payload.Text)))
			}
		}
	}
}
