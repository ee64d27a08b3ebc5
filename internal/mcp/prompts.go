package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("monthly_remittance",
		mcp.WithPromptDescription("Extract every layout for one competence and export the SIAP XML files"),
		mcp.WithArgument("competencia",
			mcp.ArgumentDescription("Competence to report, YYYYMM"),
			mcp.RequiredArgument(),
		),
	), s.handleRemittancePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("diagnose_connection",
		mcp.WithPromptDescription("Find out why a legacy database cannot be opened"),
		mcp.WithArgument("source",
			mcp.ArgumentDescription("Source system: CNES, FPO, SIA or SIH"),
			mcp.RequiredArgument(),
		),
	), s.handleDiagnosePrompt)
}

func (s *Server) handleRemittancePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	competence := req.Params.Arguments["competencia"]
	year, month := competence, ""
	if len(competence) == 6 {
		year, month = competence[:4], competence[4:]
	}
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("SIAP remittance for %s", competence),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Prepare the SIAP remittance for competence %s.

1. Call list_sources and make sure every source has a database selected (select_database otherwise).
2. Call check_connection for each source in use. Stop and report if a connection fails, quoting the error kind.
3. Call list_layouts, then extract_layout for each layout with competencia=%s.
4. Use preview_layout on each extracted layout to spot empty or odd fields.
5. Call export_xml for each layout with exercicio=%s and mes=%s.

Finish with a table of layouts, row counts and written files.`, competence, competence, year, month),
				},
			},
		},
	}, nil
}

func (s *Server) handleDiagnosePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	source := req.Params.Arguments["source"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Diagnose the %s connection", source),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`The %s database cannot be opened. Call check_connection with source=%s and read the error kind:

- path_not_found: the file does not exist. Ask for the right path and call select_database.
- connection_local_access_denied: another program holds the file. Suggest host:path through the local server.
- connection_transport_failed: the server is unreachable. Check host and port.
- connection_driver_incompatible: the client library does not match. Suggest the bundled worker runtime.

Report the kind, what it means and the next step.`, source, source),
				},
			},
		},
	}, nil
}
