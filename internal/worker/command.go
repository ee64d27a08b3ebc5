package worker

import (
	"errors"

	"github.com/spf13/cobra"

	"siapxml/internal/bridge"
	"siapxml/internal/domain"
	"siapxml/internal/legacy"
)

// ErrFailed is returned by the command after a failure result has been
// printed; callers exit with status 1 without printing anything else.
var ErrFailed = errors.New("worker operation failed")

// NewCommand builds the worker protocol command:
//
//	<use> <check|schema|preview|extract> --dsn <path> --user <u> --password <p> [...]
func NewCommand(use string, r *Runner) *cobra.Command {
	var o Options

	root := &cobra.Command{
		Use:           use,
		Short:         "Legacy database worker (one JSON result line on stdout)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		bridge.WriteResult(cmd.OutOrStdout(), Failure(domain.ExtractionError("arguments", err)))
		return ErrFailed
	})

	selectors := []struct {
		name, short string
	}{
		{bridge.SelectCheck, "Open a connection and report the strategy used"},
		{bridge.SelectSchema, "List tables and their columns"},
		{bridge.SelectPreview, "Return the first rows of --table"},
		{bridge.SelectExtract, "Extract a layout into the store at --output"},
	}
	for _, s := range selectors {
		selector := s.name
		sub := &cobra.Command{
			Use:   selector,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				res := r.Run(cmd.Context(), selector, o)
				if err := bridge.WriteResult(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return ErrFailed
				}
				return nil
			},
		}
		f := sub.Flags()
		f.StringVar(&o.DSN, "dsn", "", "legacy database path (host:path or local file)")
		f.StringVar(&o.User, "user", domain.DefaultUser, "database user")
		f.StringVar(&o.Password, "password", "", "database password")
		f.StringVar(&o.Role, "role", "", "SQL role")
		f.StringVar(&o.Charset, "charset", domain.DefaultCharset, "connection charset")
		f.StringVar(&o.Layout, "layout", "", "layout id to extract (e.g. 11.5)")
		f.StringVar(&o.Mapping, "mapping", "", "layout mapping JSON")
		f.StringVar(&o.Competencia, "competencia", "", "competence filter (YYYYMM)")
		f.StringVar(&o.Table, "table", "", "table to preview")
		f.StringVar(&o.Output, "output", "", "intermediate store DSN")
		f.IntVar(&o.Limit, "limit", legacy.DefaultPreviewLimit, "preview row limit")
		root.AddCommand(sub)
	}
	return root
}
