package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin"

	"github.com/spachava753/repowatch/internal/config"
	"github.com/spachava753/repowatch/internal/logging"
	"github.com/spachava753/repowatch/internal/models"
	"github.com/spachava753/repowatch/internal/state"
	"github.com/spachava753/repowatch/internal/supervisor"
)

var (
	settingsPath = kingpin.Flag("settings", "Path to the watcher settings file (default "+config.DefaultSettingsPath+").").Envar("REPOWATCH_SETTINGS").String()
	configPaths  = kingpin.Flag("config", "Repository descriptor file; repeat to watch several repositories. Overrides --config-dir.").Short('c').Strings()
	configDir    = kingpin.Flag("config-dir", "Directory scanned for repository descriptors (*.yaml, *.yml, *.json).").Envar("REPOWATCH_CONFIG_DIR").String()
	once         = kingpin.Flag("once", "Run a single check cycle and exit.").Bool()
	repoName     = kingpin.Flag("repo", "Repository (owner/repo or owner/repo@branch) checked by --once.").String()
	reset        = kingpin.Flag("reset", "Delete all state and log files and exit.").Bool()
	yes          = kingpin.Flag("yes", "Do not ask for confirmation before --reset.").Short('y').Bool()
	logLevel     = kingpin.Flag("log-level", "Log level: debug, info, warn or error.").Envar("REPOWATCH_LOG_LEVEL").Default("info").String()

	metricsListenAddress = kingpin.Flag("metrics-listen-address", "The address to listen on for Prometheus metrics requests; empty disables the listener.").Envar("REPOWATCH_METRICS_LISTEN_ADDRESS").String()
)

func main() {
	kingpin.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		kingpin.Fatalf("%v", err)
	}
	logging.Setup(os.Stderr, level)

	params := supervisor.Params{
		SettingsPath:         *settingsPath,
		ConfigPaths:          *configPaths,
		ConfigDir:            *configDir,
		MetricsListenAddress: *metricsListenAddress,
		Once:                 *once,
		Repo:                 *repoName,
	}
	if params.SettingsPath == "" {
		params.SettingsPath = config.DefaultSettingsPath
		params.SettingsOptional = true
	}

	if *reset {
		os.Exit(runReset(params))
	}

	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, finishing current cycles...", "signal", sig)
		cancel()
	}()

	err = supervisor.RunFromConfig(ctx, params, supervisor.WithLogLevel(level))
	if err != nil {
		if errors.Is(err, supervisor.ErrNoRepositories) {
			slog.Error("no repository configurations found", "error", err)
		} else {
			slog.Error("repowatch failed", "error", err, "error_type", models.TypeOf(err))
		}
		signal.Stop(sigChan)
		cancel()
		os.Exit(1)
	}
}

// runReset removes state and log files and returns the process exit code.
func runReset(params supervisor.Params) int {
	settings, err := supervisor.LoadSettings(params)
	if err != nil {
		slog.Error("reset failed", "error", err)
		return 1
	}

	// a broken descriptor must not prevent cleaning up the others
	repos, err := supervisor.LoadRepositories(settings, params)
	if err != nil {
		slog.Warn("repository configurations not loaded, resetting process files only", "error", err)
	}

	err = state.Reset(supervisor.ResetTargets(settings, repos), state.ResetOptions{
		Yes: *yes,
		In:  os.Stdin,
		Out: os.Stdout,
	})
	switch {
	case errors.Is(err, state.ErrResetCancelled):
		return 0
	case err != nil:
		slog.Error("reset failed", "error", err)
		return 1
	}
	return 0
}
