package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siapxml/internal/bridge"
	"siapxml/internal/config"
	"siapxml/internal/domain"
	"siapxml/internal/layout"
	"siapxml/internal/secret"
	"siapxml/internal/service"
	"siapxml/internal/storage"
	"siapxml/internal/telemetry"
	"siapxml/internal/worker"
)

// app carries what one CLI invocation loads and opens.
type app struct {
	opts    *RootOptions
	cfg     *config.Config
	log     *zap.Logger
	secrets secret.SecretStore
	layouts *layout.Registry

	store storage.Store
	svc   *service.ExtractionService
}

// init loads the config and builds the logger. Runs before every command.
func (a *app) init(cmd *cobra.Command) error {
	path := a.opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	} else if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "config", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if a.opts.StoreDSN != "" {
		cfg.Store.DSN = a.opts.StoreDSN
	}
	if a.opts.WorkerPath != "" {
		cfg.Worker.Path = a.opts.WorkerPath
	}

	level := cfg.Log.Level
	if a.opts.Verbose {
		level = "debug"
	}
	log, err := telemetry.NewLogger(level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "logging", err)
	}

	reg, err := loadLayouts(cfg.LayoutsFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "layouts", err)
	}

	a.cfg, a.log, a.layouts = cfg, log, reg
	if a.secrets == nil {
		a.secrets = secret.Default()
	}
	return nil
}

func loadLayouts(path string) (*layout.Registry, error) {
	if path == "" {
		return layout.Default()
	}
	return layout.LoadFile(path)
}

// storeDSN makes a bare SQLite path absolute so the worker, which may run
// from another directory, writes the same file.
func storeDSN(dsn string) string {
	if strings.Contains(dsn, "://") || dsn == ":memory:" {
		return dsn
	}
	if abs, err := filepath.Abs(dsn); err == nil {
		return abs
	}
	return dsn
}

// service opens the store, resolves the worker and selects the configured
// sources. Callers defer a.close.
func (a *app) service(ctx context.Context) (*service.ExtractionService, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	dsn := storeDSN(a.cfg.Store.DSN)
	store, err := storage.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	exe, err := bridge.ResolveWorker(a.cfg.Worker.Path)
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "worker", err)
	}
	env := []string{worker.LogLevelEnv + "=" + a.cfg.Log.Level}
	if a.opts.Verbose {
		env = []string{worker.LogLevelEnv + "=debug"}
	}
	if a.cfg.LayoutsFile != "" {
		abs, err := filepath.Abs(a.cfg.LayoutsFile)
		if err != nil {
			store.Close()
			return nil, err
		}
		env = append(env, worker.LayoutsEnv+"="+abs)
	}
	b := bridge.New(exe,
		bridge.WithTimeout(a.cfg.Worker.Timeout),
		bridge.WithEnv(env...),
		bridge.WithLogger(a.log.Named("bridge")),
	)
	a.log.Debug("worker resolved", zap.String("path", exe.Path), zap.Bool("bundled", exe.Bundled))

	sess := service.NewSession()
	for src := range a.cfg.Sources {
		p, err := a.cfg.Connection(src, a.secrets)
		if err != nil {
			a.log.Warn("source skipped", zap.String("source", string(src)), zap.Error(err))
			continue
		}
		sess.SetSource(src, p)
	}
	sess.SetHeader(a.cfg.Header)

	a.store = store
	a.svc = service.NewExtractionService(service.Deps{
		Worker:      b,
		Store:       store,
		StoreDSN:    dsn,
		Layouts:     a.layouts,
		Session:     sess,
		Metrics:     telemetry.NewMetrics(),
		Emitter:     service.LogEmitter{Log: a.log.Named("events")},
		Log:         a.log.Named("service"),
		MetricsFile: a.cfg.MetricsFile,
	})
	return a.svc, nil
}

// selectDatabase overrides the configured database of src for this run.
func (a *app) selectDatabase(svc *service.ExtractionService, src domain.SourceSystem, path string) {
	if path == "" {
		return
	}
	p, err := svc.Session.Source(src)
	if err != nil {
		// Not configured: fall back to the stored password, if any.
		p.Password, _ = secret.Password(a.secrets, string(src))
	}
	p.Path = path
	svc.Session.SetSource(src, p)
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store, a.svc = nil, nil
	}
	if a.log != nil {
		a.log.Sync()
	}
}

func parseSource(s string) (domain.SourceSystem, error) {
	src := domain.SourceSystem(strings.ToUpper(strings.TrimSpace(s)))
	switch src {
	case domain.SourceCNES, domain.SourceFPO, domain.SourceSIA, domain.SourceSIH:
		return src, nil
	case "":
		return "", NewExitError(ExitCommandError, "--source is required (CNES, FPO, SIA or SIH)")
	}
	return "", NewExitError(ExitCommandError, fmt.Sprintf("unknown source %q (want CNES, FPO, SIA or SIH)", s))
}
