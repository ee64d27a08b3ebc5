package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"siapxml/internal/domain"
	"siapxml/internal/service"
	"siapxml/internal/xmlout"
)

func newLayoutsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "layouts",
		Short: "List the SIAP layouts and whether they have been extracted",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()

			stored, err := svc.StoredLayouts(cmd.Context())
			if err != nil {
				return failed(err)
			}
			has := make(map[domain.LayoutID]bool, len(stored))
			for _, id := range stored {
				has[id] = true
			}

			defs := svc.Layouts.All()
			rows := make([][]string, 0, len(defs))
			for _, d := range defs {
				mark := ""
				if has[d.ID] {
					mark = "yes"
				}
				rows = append(rows, []string{string(d.ID), string(d.Source), d.Element, mark, d.Title})
			}
			return newOutput(cmd, a.opts).Print([]string{"ID", "SOURCE", "ELEMENT", "STORED", "TITLE"}, rows, defs)
		},
	}
}

func newExtractCommand(a *app) *cobra.Command {
	var (
		competence string
		all        bool
		source     string
		db         string
	)
	cmd := &cobra.Command{
		Use:   "extract [layout...]",
		Short: "Extract layouts from their legacy databases into the store",
		Long: `Extract one or more layouts. Each extraction replaces the layout's stored
records as a whole; a failed extraction leaves the previous records in place.

Without --competencia every period is extracted.`,
		Example: `  siapxml extract 11.5 --competencia 202401
  siapxml extract --source CNES
  siapxml extract --all --competencia 202401`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := extractTargets(a, args, all, source)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()
			if db != "" {
				src, err := parseSource(source)
				if err != nil {
					return WrapExitError(ExitCommandError, "--db needs --source", err)
				}
				a.selectDatabase(svc, src, db)
			}

			var (
				runs  []*domain.RunLog
				first error
			)
			if source != "" && len(args) == 0 && !all {
				// a source shares one database; stop at its first failure
				src, _ := parseSource(source)
				runs, first = svc.ExtractSource(cmd.Context(), src, competence)
			} else {
				for _, id := range ids {
					run, err := svc.Extract(cmd.Context(), id, competence)
					if run != nil {
						runs = append(runs, run)
					}
					if err != nil && first == nil {
						first = err
					}
					if errors.Is(err, domain.ErrUnknownLayout) {
						break
					}
				}
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, runRow(r))
			}
			if err := newOutput(cmd, a.opts).Print(runHeaders, rows, runs); err != nil {
				return err
			}
			return failed(first)
		},
	}
	cmd.Flags().StringVar(&competence, "competencia", "", "competence filter YYYYMM")
	cmd.Flags().BoolVar(&all, "all", false, "extract every layout")
	cmd.Flags().StringVarP(&source, "source", "s", "", "extract every layout of a source system")
	cmd.Flags().StringVar(&db, "db", "", "database path for --source (overrides the configured one)")
	return cmd
}

func extractTargets(a *app, args []string, all bool, source string) ([]domain.LayoutID, error) {
	var ids []domain.LayoutID
	switch {
	case all:
		for _, d := range a.layouts.All() {
			ids = append(ids, d.ID)
		}
	case source != "" && len(args) == 0:
		src, err := parseSource(source)
		if err != nil {
			return nil, err
		}
		for _, d := range a.layouts.BySource(src) {
			ids = append(ids, d.ID)
		}
	default:
		for _, arg := range args {
			ids = append(ids, domain.LayoutID(arg))
		}
	}
	if len(ids) == 0 {
		return nil, NewExitError(ExitCommandError, "name a layout, --source or --all")
	}
	return ids, nil
}

var runHeaders = []string{"RUN", "LAYOUT", "COMPETENCE", "STATUS", "ROWS", "STARTED", "ELAPSED", "ERROR"}

func runRow(r *domain.RunLog) []string {
	elapsed := ""
	if !r.FinishedAt.IsZero() {
		elapsed = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
	}
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return []string{
		id,
		string(r.LayoutID),
		r.Competence,
		r.Status,
		strconv.Itoa(r.Rows),
		r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		elapsed,
		r.Error,
	}
}

func newRunsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [layout]",
		Short: "Show extraction history, newest first",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id domain.LayoutID
			if len(args) == 1 {
				id = domain.LayoutID(args[0])
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()

			runs, err := svc.Runs(cmd.Context(), id, limit)
			if err != nil {
				return failed(err)
			}
			if runs == nil {
				runs = []domain.RunLog{}
			}
			rows := make([][]string, 0, len(runs))
			for i := range runs {
				rows = append(rows, runRow(&runs[i]))
			}
			return newOutput(cmd, a.opts).Print(runHeaders, rows, runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries")
	return cmd
}

func newShowCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <layout>",
		Short: "Show stored records of an extracted layout",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()

			set, err := svc.PreviewLayout(cmd.Context(), domain.LayoutID(args[0]), limit)
			if err != nil {
				return failed(err)
			}
			rows := make([][]string, 0, len(set.Records))
			for _, rec := range set.Records {
				row := make([]string, len(set.Fields))
				for i, f := range set.Fields {
					row[i] = cell(rec[f])
				}
				rows = append(rows, row)
			}
			return newOutput(cmd, a.opts).Print(set.Fields, rows, set)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", service.DefaultPreviewLimit, "maximum records")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var (
		out    string
		all    bool
		header xmlout.Header
	)
	cmd := &cobra.Command{
		Use:   "export [layout...]",
		Short: "Write stored layouts as SIAP XML documents",
		Example: `  siapxml export 11.5 --exercicio 2024 --mes 01
  siapxml export --all --out remessa/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = a.cfg.OutputDir
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()

			ids := make([]domain.LayoutID, 0, len(args))
			for _, arg := range args {
				ids = append(ids, domain.LayoutID(arg))
			}
			if all {
				if ids, err = svc.StoredLayouts(cmd.Context()); err != nil {
					return failed(err)
				}
			}
			if len(ids) == 0 {
				return NewExitError(ExitCommandError, "name a layout or --all")
			}

			h := mergeHeader(svc.Session.Header(), header)
			var (
				written []string
				errs    []string
			)
			for _, id := range ids {
				path, err := svc.Export(cmd.Context(), id, out, h)
				if err != nil {
					if errors.Is(err, domain.ErrUnknownLayout) {
						return failed(err)
					}
					errs = append(errs, fmt.Sprintf("%s: %v", id, err))
					continue
				}
				written = append(written, path)
			}
			o := newOutput(cmd, a.opts)
			if err := o.Message(strings.Join(written, "\n"), map[string]any{"written": written, "errors": errs}); err != nil {
				return err
			}
			if len(errs) > 0 {
				return NewExitError(ExitFailure, strings.Join(errs, "; "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default output_dir)")
	cmd.Flags().BoolVar(&all, "all", false, "export every stored layout")
	cmd.Flags().StringVar(&header.Codigo, "codigo", "", "remittance code (overrides header.codigo)")
	cmd.Flags().StringVar(&header.Exercicio, "exercicio", "", "fiscal year YYYY")
	cmd.Flags().StringVar(&header.Mes, "mes", "", "month 01-12")
	return cmd
}

// mergeHeader overlays the non-empty fields of flags on base.
func mergeHeader(base, flags xmlout.Header) xmlout.Header {
	if flags.Codigo != "" {
		base.Codigo = flags.Codigo
	}
	if flags.Exercicio != "" {
		base.Exercicio = flags.Exercicio
	}
	if flags.Mes != "" {
		base.Mes = flags.Mes
	}
	return base
}
