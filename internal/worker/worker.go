// Package worker serves the worker side of the bridge: it talks to the
// legacy database and prints exactly one result line on stdout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"siapxml/internal/bridge"
	"siapxml/internal/domain"
	"siapxml/internal/etl"
	"siapxml/internal/layout"
	"siapxml/internal/legacy"
	"siapxml/internal/storage"
	"siapxml/internal/telemetry"
)

// Environment the host sets for its workers.
const (
	LayoutsEnv   = "SIAPXML_LAYOUTS_FILE" // layouts file overriding the embedded registry
	LogLevelEnv  = "SIAPXML_LOG_LEVEL"
	LogFormatEnv = "SIAPXML_LOG_FORMAT"
)

// LoggerFromEnv builds the worker logger on w. Stdout carries the result
// line only, so w is stderr in practice. A bad setting falls back to info.
func LoggerFromEnv(w io.Writer) *zap.Logger {
	log, err := telemetry.NewLogger(os.Getenv(LogLevelEnv), os.Getenv(LogFormatEnv), w)
	if err != nil {
		log, _ = telemetry.NewLogger("info", "console", w)
		log.Warn("ignoring worker log settings", zap.Error(err))
	}
	return log
}

// Options are the protocol flags of one invocation.
type Options struct {
	DSN         string
	User        string
	Password    string
	Role        string
	Charset     string
	Layout      string
	Mapping     string
	Competencia string
	Table       string
	Output      string
	Limit       int
}

func (o Options) params() domain.LegacyConnectionParams {
	return domain.LegacyConnectionParams{
		Path:     o.DSN,
		User:     o.User,
		Password: o.Password,
		Role:     o.Role,
		Charset:  o.Charset,
	}.Normalize()
}

// Runner executes worker operations.
type Runner struct {
	Open      legacy.Opener
	OpenStore func(ctx context.Context, dsn string) (storage.Store, error)
	Layouts   func() (*layout.Registry, error)
	Log       *zap.Logger
}

// NewRunner wires the production legacy driver and store backends.
func NewRunner(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Open:      legacy.OpenFirebird,
		OpenStore: storage.Open,
		Layouts:   registryFromEnv,
		Log:       log,
	}
}

func registryFromEnv() (*layout.Registry, error) {
	if path := os.Getenv(LayoutsEnv); path != "" {
		return layout.LoadFile(path)
	}
	return layout.Default()
}

// Run executes selector and always returns a result to print.
func (r *Runner) Run(ctx context.Context, selector string, o Options) *domain.WorkerResult {
	log := r.Log.With(zap.String("selector", selector))
	var (
		res *domain.WorkerResult
		err error
	)
	switch selector {
	case bridge.SelectCheck:
		res, err = r.check(ctx, o)
	case bridge.SelectSchema:
		res, err = r.schema(ctx, o)
	case bridge.SelectPreview:
		res, err = r.preview(ctx, o)
	case bridge.SelectExtract:
		res, err = r.extract(ctx, o)
	default:
		err = fmt.Errorf("unknown operation %q", selector)
	}
	if err != nil {
		log.Error("operation failed",
			zap.Error(err),
			zap.String("kind", string(domain.KindOf(err))),
			zap.String("diagnostic", domain.DiagnosticOf(err)),
		)
		return Failure(err)
	}
	res.Success = true
	return res
}

// Failure converts err into a protocol failure, keeping its kind.
func Failure(err error) *domain.WorkerResult {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.KindExtraction
	}
	msg := err.Error()
	var e *domain.Error
	if errors.As(err, &e) {
		msg = e.Message
		if e.Err != nil {
			msg = strings.TrimPrefix(msg+": "+e.Err.Error(), ": ")
		}
	}
	return &domain.WorkerResult{Success: false, Error: msg, Kind: string(kind)}
}

func (r *Runner) connect(ctx context.Context, o Options) (*legacy.Connection, error) {
	return legacy.Connect(ctx, o.params(), r.Open, r.Log.Named("legacy"))
}

func (r *Runner) check(ctx context.Context, o Options) (*domain.WorkerResult, error) {
	conn, err := r.connect(ctx, o)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return &domain.WorkerResult{Output: string(conn.Strategy())}, nil
}

func (r *Runner) schema(ctx context.Context, o Options) (*domain.WorkerResult, error) {
	conn, err := r.connect(ctx, o)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	info, err := conn.Introspect(ctx)
	if err != nil {
		return nil, domain.ExtractionError("list schema", err)
	}
	return &domain.WorkerResult{Schema: info.Map()}, nil
}

func (r *Runner) preview(ctx context.Context, o Options) (*domain.WorkerResult, error) {
	if strings.TrimSpace(o.Table) == "" {
		return nil, domain.ExtractionError("preview needs --table", nil)
	}
	conn, err := r.connect(ctx, o)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	raw, err := conn.Preview(ctx, o.Table, o.Limit)
	if err != nil {
		return nil, domain.ExtractionError("preview "+o.Table, err)
	}
	data := make([]map[string]any, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		m := make(map[string]any, len(raw.Columns))
		for i, c := range raw.Columns {
			m[c] = row[i]
		}
		data = append(data, m)
	}
	return &domain.WorkerResult{Columns: raw.Columns, Data: data}, nil
}

// extract runs one layout and replaces its stored set. The store is only
// touched after the whole extraction succeeded.
func (r *Runner) extract(ctx context.Context, o Options) (*domain.WorkerResult, error) {
	if o.Mapping == "" {
		return nil, domain.ExtractionError("extract needs --mapping", nil)
	}
	if o.Output == "" {
		return nil, domain.ExtractionError("extract needs --output", nil)
	}
	m, err := layout.DecodeMapping(o.Mapping)
	if err != nil {
		return nil, domain.ExtractionError("mapping", err)
	}
	id, err := layout.LayoutOf(domain.LayoutID(strings.TrimSpace(o.Layout)), m)
	if err != nil {
		return nil, domain.ExtractionError("layout", err)
	}
	reg, err := r.Layouts()
	if err != nil {
		return nil, domain.ExtractionError("load layouts", err)
	}
	base, err := reg.Get(id)
	if err != nil {
		return nil, domain.ExtractionError("mapping", err)
	}
	def, err := layout.Apply(base, m)
	if err != nil {
		return nil, domain.ExtractionError("mapping", err)
	}

	conn, err := r.connect(ctx, o)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filters := map[string]string{}
	if c := strings.TrimSpace(o.Competencia); c != "" {
		filters[layout.FilterCompetence] = c
	}
	engine := &etl.Engine{Source: conn, Logger: r.Log.Named("etl")}
	set, err := engine.Extract(ctx, def, filters)
	if err != nil {
		return nil, err
	}

	store, err := r.OpenStore(ctx, o.Output)
	if err != nil {
		return nil, domain.ExtractionError("open store", err)
	}
	defer store.Close()
	if err := store.Save(ctx, set); err != nil {
		return nil, domain.ExtractionError("save records", err)
	}
	r.Log.Info("layout stored",
		zap.String("layout", string(def.ID)),
		zap.Int("rows", set.Len()),
	)
	return &domain.WorkerResult{Output: o.Output, Layout: def.ID, Rows: set.Len()}, nil
}
