package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"siapxml/internal/bridge"
	"siapxml/internal/domain"
	"siapxml/internal/etl"
	"siapxml/internal/layout"
	"siapxml/internal/storage"
	"siapxml/internal/telemetry"
	"siapxml/internal/xmlout"
)

// ─────────────────────────────────────────────────────────────
// Extraction Service: legacy → store → XML
// ─────────────────────────────────────────────────────────────

// DefaultPreviewLimit bounds PreviewLayout when no limit is given.
const DefaultPreviewLimit = 20

// Invoker runs one worker operation. *bridge.Bridge implements it.
type Invoker interface {
	Invoke(ctx context.Context, selector string, args []bridge.Arg) (*domain.WorkerResult, error)
}

// Deps are the collaborators of an ExtractionService.
type Deps struct {
	Worker   Invoker
	Store    storage.Store
	StoreDSN string // handed to the worker as --output; must reach Store's data
	Layouts  *layout.Registry
	Session  *Session
	Metrics  *telemetry.Metrics
	Emitter  EventEmitter
	Log      *zap.Logger

	// MetricsFile, when set, receives the metrics after every extraction.
	MetricsFile string
}

// ExtractionService drives the worker and the intermediate store. All
// legacy access goes through the worker process.
type ExtractionService struct {
	Deps
	running layoutGuard
}

// NewExtractionService creates an ExtractionService ready for use.
func NewExtractionService(d Deps) *ExtractionService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Emitter == nil {
		d.Emitter = LogEmitter{Log: d.Log}
	}
	if d.Session == nil {
		d.Session = NewSession()
	}
	return &ExtractionService{Deps: d}
}

// ── Legacy inspection ──────────────────────────────────────

// CheckConnection opens the selected database of src through the worker
// and returns the connection strategy that succeeded.
func (s *ExtractionService) CheckConnection(ctx context.Context, src domain.SourceSystem) (string, error) {
	res, err := s.invokeSource(ctx, bridge.SelectCheck, src)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// Schema lists the tables of src and their columns. Results are cached in
// the session unless refresh is set.
func (s *ExtractionService) Schema(ctx context.Context, src domain.SourceSystem, refresh bool) (map[string][]string, error) {
	if !refresh {
		if m, ok := s.Session.Schema(src); ok {
			return m, nil
		}
	}
	res, err := s.invokeSource(ctx, bridge.SelectSchema, src)
	if err != nil {
		return nil, err
	}
	if res.Schema == nil {
		res.Schema = map[string][]string{}
	}
	s.Session.SetSchema(src, res.Schema)
	return res.Schema, nil
}

// PreviewTable returns the first rows of a raw legacy table.
func (s *ExtractionService) PreviewTable(ctx context.Context, src domain.SourceSystem, table string, limit int) (*domain.WorkerResult, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table is required")
	}
	extra := []bridge.Arg{{Key: "table", Value: table}}
	if limit > 0 {
		extra = append(extra, bridge.Arg{Key: "limit", Value: strconv.Itoa(limit)})
	}
	return s.invokeSource(ctx, bridge.SelectPreview, src, extra...)
}

func (s *ExtractionService) invokeSource(ctx context.Context, selector string, src domain.SourceSystem, extra ...bridge.Arg) (*domain.WorkerResult, error) {
	p, err := s.Session.Source(src)
	if err != nil {
		return nil, err
	}
	args := append(connectionArgs(p), extra...)
	return s.invoke(ctx, selector, args)
}

// invoke runs the worker and folds an unsuccessful result into an error.
func (s *ExtractionService) invoke(ctx context.Context, selector string, args []bridge.Arg) (*domain.WorkerResult, error) {
	res, err := s.Worker.Invoke(ctx, selector, args)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case !res.Success:
		outcome = "failure"
		err = res.Failure()
	}
	s.Metrics.ObserveWorker(selector, outcome)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func connectionArgs(p domain.LegacyConnectionParams) []bridge.Arg {
	return []bridge.Arg{
		{Key: "dsn", Value: p.Path},
		{Key: "user", Value: p.User},
		{Key: "password", Value: p.Password},
		{Key: "role", Value: p.Role},
		{Key: "charset", Value: p.Charset},
	}
}

// ── Extraction ─────────────────────────────────────────────

// Extract runs one layout through the worker, which replaces the layout's
// stored set. An empty competence extracts every period. The returned run
// is also recorded in the store's history.
func (s *ExtractionService) Extract(ctx context.Context, id domain.LayoutID, competence string) (*domain.RunLog, error) {
	def, err := s.Layouts.Get(id)
	if err != nil {
		return nil, err
	}
	competence = strings.TrimSpace(competence)
	if competence != "" {
		if err := etl.ValidateCompetence(competence); err != nil {
			return nil, domain.ExtractionError("competence", err)
		}
	}
	p, err := s.Session.Source(def.Source)
	if err != nil {
		return nil, err
	}
	mapping, err := layout.EncodeMapping(def)
	if err != nil {
		return nil, domain.ExtractionError("mapping", err)
	}

	if !s.running.TryLock(id) {
		return nil, fmt.Errorf("layout %s: %w", id, domain.ErrAlreadyRunning)
	}
	defer s.running.Unlock(id)

	run := &domain.RunLog{
		ID:         uuid.NewString(),
		LayoutID:   id,
		Source:     string(def.Source),
		Competence: competence,
		StartedAt:  time.Now().UTC(),
		Status:     domain.RunRunning,
	}
	log := s.Log.With(zap.String("layout", string(id)), zap.String("run", run.ID))
	s.recordRun(ctx, log, run)
	s.Emitter.Emit(ctx, EventExtractionStarted, *run)
	log.Info("extraction started", zap.String("competence", competence))

	args := append(connectionArgs(p),
		bridge.Arg{Key: "layout", Value: string(def.ID)},
		bridge.Arg{Key: "mapping", Value: mapping},
		bridge.Arg{Key: "competencia", Value: competence},
		bridge.Arg{Key: "output", Value: s.StoreDSN},
	)
	res, err := s.invoke(ctx, bridge.SelectExtract, args)

	run.FinishedAt = time.Now().UTC()
	elapsed := run.FinishedAt.Sub(run.StartedAt)
	if err != nil {
		run.Status = domain.RunError
		run.Error = err.Error()
		log.Error("extraction failed",
			zap.Error(err),
			zap.String("kind", string(domain.KindOf(err))),
			zap.String("diagnostic", domain.DiagnosticOf(err)),
		)
	} else {
		run.Status = domain.RunSuccess
		run.Rows = res.Rows
		log.Info("extraction finished", zap.Int("rows", run.Rows), zap.Duration("elapsed", elapsed))
	}

	// History and metrics are written even when the caller gave up.
	bg := context.WithoutCancel(ctx)
	s.recordRun(bg, log, run)
	s.Metrics.ObserveExtraction(string(id), run.Status, run.Rows, elapsed)
	if s.MetricsFile != "" {
		if werr := s.Metrics.WriteTextfile(s.MetricsFile); werr != nil {
			log.Warn("write metrics file", zap.Error(werr))
		}
	}

	if err != nil {
		s.Emitter.Emit(bg, EventExtractionFailed, *run)
		return run, err
	}
	s.Emitter.Emit(bg, EventExtractionFinished, *run)
	return run, nil
}

func (s *ExtractionService) recordRun(ctx context.Context, log *zap.Logger, run *domain.RunLog) {
	if err := s.Store.RecordRun(ctx, run); err != nil {
		log.Warn("record run", zap.Error(err))
	}
}

// ExtractSource runs every layout of src in registry order. It stops at
// the first failure and returns the runs completed so far.
func (s *ExtractionService) ExtractSource(ctx context.Context, src domain.SourceSystem, competence string) ([]*domain.RunLog, error) {
	var runs []*domain.RunLog
	for _, def := range s.Layouts.BySource(src) {
		run, err := s.Extract(ctx, def.ID, competence)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

// Running lists the layouts currently being extracted.
func (s *ExtractionService) Running() []domain.LayoutID {
	return s.running.Running()
}

// WaitRunning blocks until all running extractions finish or ctx is
// cancelled. Used for graceful shutdown.
func (s *ExtractionService) WaitRunning(ctx context.Context) {
	s.running.WaitAll(ctx)
}

// ── Stored sets ────────────────────────────────────────────

// PreviewLayout returns the first stored records of a layout.
func (s *ExtractionService) PreviewLayout(ctx context.Context, id domain.LayoutID, limit int) (*domain.RecordSet, error) {
	if _, err := s.Layouts.Get(id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	return s.Store.Preview(ctx, id, limit)
}

// StoredLayouts lists the layouts that have a stored set.
func (s *ExtractionService) StoredLayouts(ctx context.Context) ([]domain.LayoutID, error) {
	return s.Store.Layouts(ctx)
}

// Runs lists extraction history, newest first.
func (s *ExtractionService) Runs(ctx context.Context, id domain.LayoutID, limit int) ([]domain.RunLog, error) {
	return s.Store.Runs(ctx, id, limit)
}

// ── Export ─────────────────────────────────────────────────

// Export serializes the stored set of id into dir and returns the written
// path. A zero header falls back to the session header. The file is
// replaced atomically; a failed export leaves no partial document.
func (s *ExtractionService) Export(ctx context.Context, id domain.LayoutID, dir string, h xmlout.Header) (string, error) {
	def, err := s.Layouts.Get(id)
	if err != nil {
		return "", err
	}
	if h == (xmlout.Header{}) {
		h = s.Session.Header()
	}
	if err := h.Validate(); err != nil {
		return "", err
	}
	set, err := s.Store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("layout %s has not been extracted yet: %w", id, err)
		}
		return "", err
	}
	// the table may have been written by another tool
	if err := xmlout.ValidateColumns(set, def); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, xmlout.FileName(def))
	if err := writeAtomic(path, func(f *os.File) error {
		return xmlout.Write(f, set, def, h)
	}); err != nil {
		return "", err
	}

	s.Log.Info("xml written",
		zap.String("layout", string(id)),
		zap.String("path", path),
		zap.Int("records", set.Len()),
	)
	s.Emitter.Emit(ctx, EventExportWritten, map[string]any{"layout": id, "path": path, "records": set.Len()})
	return path, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".siapxml-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
