// Package cli is the siapxml host command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"siapxml/internal/bridge"
	"siapxml/internal/worker"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
	StoreDSN   string
	WorkerPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the siapxml CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{opts: &RootOptions{}})
}

func newRootCommand(a *app) *cobra.Command {
	opts := a.opts

	cmd := &cobra.Command{
		Use:   "siapxml",
		Short: "Legacy health databases to SIAP XML",
		Long: `siapxml extracts the SIAP reporting layouts (11.1 to 11.8) from the
legacy CNES, FPO, SIA and SIH Firebird databases, keeps the normalized records
in an intermediate store and serializes them as SIAP XML documents.

Legacy access always runs in a separate worker process.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return a.init(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./siapxml.yaml)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.StoreDSN, "store", "", "intermediate store DSN (overrides store.dsn)")
	pf.StringVar(&opts.WorkerPath, "worker", "", "worker executable (overrides worker.path)")

	cmd.AddCommand(newLayoutsCommand(a))
	cmd.AddCommand(newCheckCommand(a))
	cmd.AddCommand(newSchemaCommand(a))
	cmd.AddCommand(newPreviewCommand(a))
	cmd.AddCommand(newExtractCommand(a))
	cmd.AddCommand(newShowCommand(a))
	cmd.AddCommand(newExportCommand(a))
	cmd.AddCommand(newRunsCommand(a))
	cmd.AddCommand(newScheduleCommand(a))
	cmd.AddCommand(newWatchCommand(a))
	cmd.AddCommand(newMCPCommand(a))
	cmd.AddCommand(newSecretCommand(a))
	cmd.AddCommand(newWorkerCommand())

	return cmd
}

// newWorkerCommand serves the worker protocol from the host binary when
// no bundled worker runtime is installed.
func newWorkerCommand() *cobra.Command {
	r := worker.NewRunner(nil)
	cmd := worker.NewCommand(bridge.HostWorkerCommand, r)
	cmd.Hidden = true
	// Replaces the root hook: the worker reads no config file.
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		r.Log = worker.LoggerFromEnv(cmd.ErrOrStderr()).Named("worker")
		return nil
	}
	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
