package cli

import (
	"github.com/spf13/cobra"

	mcpserver "siapxml/internal/mcp"
)

func newMCPCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the extraction tools over MCP on stdin/stdout",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return failed(err)
			}
			defer a.close()

			srv := mcpserver.New(mcpserver.Deps{
				Service:   svc,
				OutputDir: a.cfg.OutputDir,
				Log:       a.log.Named("mcp"),
			})
			svc.Emitter = srv.Emitter(svc.Emitter)
			return srv.ServeStdio()
		},
	}
}
