package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"siapxml/internal/domain"
	"siapxml/internal/legacy"
)

// failed turns a service error into an exit error. Unknown layouts are
// usage errors; everything else is an operation failure.
func failed(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	if errors.Is(err, domain.ErrUnknownLayout) {
		return WrapExitError(ExitCommandError, "", err)
	}
	return WrapExitError(ExitFailure, "", err)
}

type sourceFlags struct {
	source string
	db     string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.source, "source", "s", "", "source system (CNES, FPO, SIA, SIH)")
	cmd.Flags().StringVar(&f.db, "db", "", "database path (overrides the configured one)")
}

func newCheckCommand(a *app) *cobra.Command {
	var sf sourceFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Open a source database through the worker and report the strategy used",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseSource(sf.source)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()
			a.selectDatabase(svc, src, sf.db)

			strategy, err := svc.CheckConnection(cmd.Context(), src)
			if err != nil {
				return failed(err)
			}
			return newOutput(cmd, a.opts).Message(
				fmt.Sprintf("%s: connected (%s)", src, strategy),
				map[string]string{"source": string(src), "strategy": strategy},
			)
		},
	}
	sf.register(cmd)
	return cmd
}

func newSchemaCommand(a *app) *cobra.Command {
	var sf sourceFlags
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List tables and columns of a source database",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseSource(sf.source)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()
			a.selectDatabase(svc, src, sf.db)

			schema, err := svc.Schema(cmd.Context(), src, true)
			if err != nil {
				return failed(err)
			}
			tables := make([]string, 0, len(schema))
			for t := range schema {
				tables = append(tables, t)
			}
			sort.Strings(tables)
			rows := make([][]string, 0, len(tables))
			for _, t := range tables {
				rows = append(rows, []string{t, strings.Join(schema[t], ", ")})
			}
			return newOutput(cmd, a.opts).Print([]string{"TABLE", "COLUMNS"}, rows, schema)
		},
	}
	sf.register(cmd)
	return cmd
}

func newPreviewCommand(a *app) *cobra.Command {
	var (
		sf    sourceFlags
		table string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the first rows of a raw legacy table",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseSource(sf.source)
			if err != nil {
				return err
			}
			if strings.TrimSpace(table) == "" {
				return NewExitError(ExitCommandError, "--table is required")
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()
			a.selectDatabase(svc, src, sf.db)

			res, err := svc.PreviewTable(cmd.Context(), src, table, limit)
			if err != nil {
				return failed(err)
			}
			rows := make([][]string, 0, len(res.Data))
			for _, m := range res.Data {
				row := make([]string, len(res.Columns))
				for i, c := range res.Columns {
					row[i] = cell(m[c])
				}
				rows = append(rows, row)
			}
			return newOutput(cmd, a.opts).Print(res.Columns, rows, res.Data)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVarP(&table, "table", "t", "", "table name")
	cmd.Flags().IntVarP(&limit, "limit", "n", legacy.DefaultPreviewLimit, "maximum rows")
	return cmd
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
