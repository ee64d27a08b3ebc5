package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siapxml/internal/domain"
	"siapxml/internal/service"
)

// shutdownGrace bounds how long a stopping daemon waits for running
// extractions.
const shutdownGrace = 30 * time.Second

func newScheduleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured cron schedules until interrupted",
		Long: `Run every entry of the schedules section. Each run extracts the month
before the trigger time and, with export: true, writes the XML document.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(a.cfg.Schedules) == 0 {
				return NewExitError(ExitCommandError, "no schedules configured")
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()

			s, err := service.NewScheduler(svc, a.cfg.Schedules, a.cfg.OutputDir, a.log.Named("scheduler"))
			if err != nil {
				return WrapExitError(ExitCommandError, "schedules", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s.Start()
			<-ctx.Done()
			a.log.Info("stopping scheduler")
			return waitShutdown(svc, func(ctx context.Context) { s.Stop(ctx) })
		},
	}
}

func newWatchCommand(a *app) *cobra.Command {
	var competence string
	cmd := &cobra.Command{
		Use:   "watch [layout...]",
		Short: "Re-extract layouts whenever their local legacy database changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := a.cfg.Watch.Layouts
			if len(args) > 0 {
				ids = ids[:0:0]
				for _, arg := range args {
					ids = append(ids, domain.LayoutID(arg))
				}
			}
			if len(ids) == 0 {
				return NewExitError(ExitCommandError, "name layouts to watch or set watch.layouts")
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()

			w, err := service.NewWatcher(svc, ids, a.cfg.Watch.Debounce, a.log.Named("watch"))
			if err != nil {
				return failed(err)
			}
			if competence != "" {
				w.Competence = func() string { return competence }
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := w.Start(ctx); err != nil {
				return failed(err)
			}
			<-ctx.Done()
			a.log.Info("stopping watcher")
			return waitShutdown(svc, func(context.Context) {
				if err := w.Close(); err != nil {
					a.log.Warn("close watcher", zap.Error(err))
				}
			})
		},
	}
	cmd.Flags().StringVar(&competence, "competencia", "", "competence of triggered runs (default: previous month)")
	return cmd
}

func waitShutdown(svc *service.ExtractionService, stop func(context.Context)) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	stop(ctx)
	svc.WaitRunning(ctx)
	return nil
}
