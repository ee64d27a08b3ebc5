package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"siapxml/internal/config"
	"siapxml/internal/xmlout"
)

// ─────────────────────────────────────────────────────────────
// Scheduler: periodic extractions on cron expressions
// ─────────────────────────────────────────────────────────────

// PreviousCompetence is the YYYYMM code of the month before t. Monthly
// remittances report the closed month.
func PreviousCompetence(t time.Time) string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, -1, 0).Format("200601")
}

// Scheduler extracts (and optionally exports) layouts on cron schedules.
type Scheduler struct {
	svc       *ExtractionService
	cron      *cron.Cron
	outputDir string
	log       *zap.Logger
	now       func() time.Time
}

// NewScheduler validates every schedule and registers it. Nothing runs
// until Start.
func NewScheduler(svc *ExtractionService, schedules []config.Schedule, outputDir string, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log.Sugar()}
	s := &Scheduler{
		svc:       svc,
		cron:      cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		outputDir: outputDir,
		log:       log,
		now:       time.Now,
	}
	for i, sc := range schedules {
		if _, err := svc.Layouts.Get(sc.Layout); err != nil {
			return nil, fmt.Errorf("schedules[%d]: %w", i, err)
		}
		if _, err := s.cron.AddFunc(sc.Cron, func() { s.runSchedule(context.Background(), sc) }); err != nil {
			return nil, fmt.Errorf("schedules[%d]: invalid cron expression %q: %w", i, sc.Cron, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running ones or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) runSchedule(ctx context.Context, sc config.Schedule) {
	competence := PreviousCompetence(s.now())
	log := s.log.With(zap.String("layout", string(sc.Layout)), zap.String("competence", competence))
	log.Info("scheduled extraction")
	if _, err := s.svc.Extract(ctx, sc.Layout, competence); err != nil {
		log.Error("scheduled extraction failed", zap.Error(err))
		return
	}
	if !sc.Export {
		return
	}
	path, err := s.svc.Export(ctx, sc.Layout, s.outputDir, periodHeader(s.svc.Session, competence))
	if err != nil {
		log.Error("scheduled export failed", zap.Error(err))
		return
	}
	log.Info("scheduled export written", zap.String("path", path))
}

// periodHeader is the session header with its period set to competence.
func periodHeader(sess *Session, competence string) xmlout.Header {
	h := sess.Header()
	h.Exercicio, h.Mes = competence[:4], competence[4:]
	return h
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
