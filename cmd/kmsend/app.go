package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"

	"kmsend/internal/automation"
	"kmsend/internal/batch"
	"kmsend/internal/capture"
	"kmsend/internal/config"
	"kmsend/internal/delivery"
	"kmsend/internal/health"
	"kmsend/internal/instance"
	"kmsend/internal/logging"
	"kmsend/internal/metrics"
	"kmsend/internal/progress"
	"kmsend/internal/store"
	"kmsend/internal/verify"
)

// app holds what every command shares: the configuration, the logger and the
// crash handler.
type app struct {
	loader *config.Loader
	cfg    *config.Config
	log    *logging.Logger
	crash  *logging.CrashHandler
}

// configFlag registers the -config flag shared by all commands.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "configuration file (default: ./config.toml or "+config.ConfigPath()+")")
}

// bootstrap reads .env, loads and validates the configuration and installs
// the process logger.
func bootstrap(configPath string) (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: ignoring .env: %v\n", err)
	}

	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	loader := config.NewLoader(configPath, nil)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", loader.Path(), err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logCfg, err := loggingConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logging.SetDefault(logger)

	for _, w := range config.ValidateAll(cfg).Warnings() {
		logger.Warn("configuration warning", "field", w.Field, "message", w.Message)
	}

	crash := logging.NewCrashHandler(logging.CrashHandlerConfig{
		CrashDir:  crashDir(cfg),
		Version:   Version,
		Component: "kmsend",
		Logger:    logger.Logger,
	})
	if err := crash.CleanupOldCrashReports(30 * 24 * time.Hour); err != nil {
		logger.Debug("crash report cleanup", "error", err)
	}

	return &app{loader: loader, cfg: cfg, log: logger, crash: crash}, nil
}

func loggingConfig(cfg *config.Config) (*logging.Config, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = cfg.Logging.Output
	lc.FilePath = cfg.LogPath()
	lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.MaxAge = cfg.Logging.MaxAgeDays
	lc.Compress = cfg.Logging.Compress
	return lc, nil
}

func (a *app) close() {
	a.loader.Close()
	a.log.Sync()
	a.log.Close()
}

func crashDir(cfg *config.Config) string {
	return filepath.Join(cfg.App.DataDir, "crashes")
}

// acquireLock takes the single-instance lock. Two processes driving one
// desktop would interleave keystrokes and clipboard writes.
func (a *app) acquireLock() (*instance.Lock, error) {
	lock, err := instance.Acquire(a.cfg.App.LockFile)
	if errors.Is(err, instance.ErrLocked) {
		return nil, fmt.Errorf("%w; lock file %s", err, a.cfg.App.LockFile)
	}
	return lock, err
}

// openStore opens the run history and prunes runs past retention. An empty
// storage path disables history.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	path := a.cfg.DatabasePath()
	if path == "" {
		return nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if days := a.cfg.Storage.RetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := st.DeleteRunsBefore(ctx, cutoff)
		if err != nil {
			a.log.Warn("prune run history", "error", err)
		} else if n > 0 {
			a.log.Info("pruned run history", "runs", n, "before", cutoff.Format(time.DateOnly))
		}
	}
	return st, nil
}

// claimStore opens the run history for the process holding the instance
// lock. Runs still marked running were left by a process that died.
func (a *app) claimStore(ctx context.Context) (*store.Store, error) {
	st, err := a.openStore(ctx)
	if err != nil || st == nil {
		return st, err
	}
	n, err := st.MarkStaleRuns(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	if n > 0 {
		a.log.Warn("marked interrupted runs as aborted", "runs", n)
	}
	return st, nil
}

// pipeline is the delivery stack: drivers, verification, the state machine
// and the orchestrator with its event stream.
type pipeline struct {
	adapter    automation.Adapter
	finder     capture.Finder
	capturer   capture.Capturer
	recognizer *capture.Tesseract
	verifier   *verify.Engine
	machine    *delivery.Machine
	orch       *batch.Orchestrator
	events     *progress.Stream
	metrics    *metrics.Registry
	observer   *metrics.DeliveryMetrics
}

// drivers builds the platform automation, capture and OCR drivers.
func (a *app) drivers() (*pipeline, error) {
	runner := automation.ExecRunner{}
	adapter, err := automation.New(a.cfg.Automation, runner)
	if err != nil {
		return nil, err
	}
	locator, err := capture.NewLocator(runner)
	if err != nil {
		return nil, err
	}
	capturer, err := capture.NewCapturer(runner)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		adapter:    adapter,
		finder:     capture.Finder{Locator: locator, Config: a.cfg.Capture},
		capturer:   capturer,
		recognizer: capture.NewTesseract(a.cfg.Recognition, runner),
		verifier:   verify.New(a.cfg.Verification),
	}, nil
}

// newPipeline wires the delivery machine and the orchestrator. A nil
// recorder disables run history.
func (a *app) newPipeline(rec batch.Recorder) (*pipeline, error) {
	p, err := a.drivers()
	if err != nil {
		return nil, err
	}

	p.metrics = metrics.NewRegistry("kmsend")
	p.observer = metrics.NewDeliveryMetrics(p.metrics)
	p.events = progress.NewStream()

	p.machine = delivery.New(delivery.Deps{
		Adapter:    p.adapter,
		Clipboard:  automation.SystemClipboard{},
		Windows:    p.finder,
		Capturer:   p.capturer,
		Recognizer: p.recognizer,
		Verifier:   p.verifier,
		Observer:   p.observer,
		Logger:     a.log.Logger,
		Timing:     a.cfg.Timing,
	})
	p.orch = batch.New(batch.Deps{
		Deliverer: p.machine,
		Events:    p.events,
		Recorder:  rec,
		Observer:  p.observer,
		Logger:    a.log.Logger,
		Settings:  settingsFrom(a.cfg),
	})
	return p, nil
}

func settingsFrom(cfg *config.Config) batch.Settings {
	return batch.Settings{
		Filter:   cfg.Filter,
		Template: cfg.Message.Template,
		Delay:    cfg.Message.Delay,
	}
}

// watchConfig applies reloaded settings to the running pipeline. Recipients
// in flight finish with the values they started with.
func (a *app) watchConfig(p *pipeline) {
	a.loader.OnChange(func(cfg *config.Config) {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			a.log.SetLevel(level)
		}
		p.verifier.SetConfig(cfg.Verification)
		p.machine.SetTiming(cfg.Timing)
		p.orch.SetSettings(settingsFrom(cfg))
		a.log.Info("settings updated", "delay", cfg.Message.Delay, "level", logging.LevelString(a.log.Level()))
	})
	if err := a.loader.Watch(); err != nil {
		a.log.Warn("configuration hot reload unavailable", "error", err)
	}
}

// sinks returns the optional sinks enabled in the configuration: the Redis
// mirror and the desktop notification. The Redis sink is also returned so the
// caller can close it and probe it from health checks.
func (a *app) sinks(ctx context.Context) ([]progress.Sink, *progress.RedisSink) {
	var (
		sinks []progress.Sink
		rs    *progress.RedisSink
	)
	if rc := a.cfg.Progress.Redis; rc.Addr != "" {
		var err error
		rs, err = progress.NewRedisSink(ctx, rc, a.cfg.Progress.ValidateWire)
		if err != nil {
			a.log.Warn("redis progress mirror disabled", "addr", rc.Addr, "error", err)
			rs = nil
		} else {
			sinks = append(sinks, rs)
		}
	}
	if a.cfg.Notify.Enabled {
		n, err := progress.NewDesktopNotifier()
		if err != nil {
			a.log.Debug("desktop notifications unavailable", "error", err)
		} else {
			sinks = append(sinks, progress.NotifySink{Notifier: n, Title: a.cfg.Notify.Title})
		}
	}
	return sinks, rs
}

// healthChecker registers the checks shared by `serve` and `doctor`. st and
// rs may be nil.
func (a *app) healthChecker(st *store.Store, rs *progress.RedisSink) *health.Checker {
	hc := health.NewChecker()
	for _, tool := range health.RequiredTools(runtime.GOOS, a.cfg.Recognition.Command) {
		hc.RegisterFunc("tool:"+tool, true, health.CommandCheck(tool, automation.LookPath))
	}
	hc.RegisterFunc("uploads", true, health.WritableDirCheck(a.cfg.Server.UploadDir))
	if st != nil {
		hc.RegisterFunc("store", false, schemaCheck(st))
	}
	if rs != nil {
		hc.RegisterFunc("redis", false, health.PingCheck("redis", rs.Ping))
	}
	return hc
}

// schemaCheck reports the history database's schema version.
func schemaCheck(st *store.Store) health.Check {
	return func(ctx context.Context) health.CheckResult {
		status, err := st.CheckSchema(ctx)
		if err != nil {
			return health.CheckResult{
				Status:  health.StatusUnhealthy,
				Message: "history database unusable",
				Error:   err.Error(),
			}
		}
		return health.CheckResult{
			Status:  health.StatusHealthy,
			Message: fmt.Sprintf("schema version %d", status.CurrentVersion),
			Details: map[string]any{"schema_version": status.CurrentVersion, "migrations": len(status.Applied)},
		}
	}
}

// recorderFor avoids handing a typed nil store to interfaces.
func recorderFor(st *store.Store) batch.Recorder {
	if st == nil {
		return nil
	}
	return st
}
