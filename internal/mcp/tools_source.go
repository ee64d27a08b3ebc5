package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"siapxml/internal/domain"
	"siapxml/internal/legacy"
)

func (s *Server) registerSourceTools() {
	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List the legacy source systems and the database selected for each"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("select_database",
		mcp.WithDescription("Select the legacy Firebird database of a source system for this session. Paths may be local (C:\\CNES\\CNES.GDB) or host:path."),
		mcp.WithString("source", mcp.Description("Source system"), mcp.Required(), mcp.Enum("CNES", "FPO", "SIA", "SIH")),
		mcp.WithString("path", mcp.Description("Database path"), mcp.Required()),
		mcp.WithString("user", mcp.Description("Database user (default SYSDBA)")),
		mcp.WithString("password", mcp.Description("Database password (default: keep the configured one)")),
	), s.handleSelectDatabase)

	s.mcp.AddTool(mcp.NewTool("check_connection",
		mcp.WithDescription("Open the selected database of a source and report the connection strategy that worked"),
		mcp.WithString("source", mcp.Description("Source system"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleCheckConnection)

	s.mcp.AddTool(mcp.NewTool("list_schema",
		mcp.WithDescription("List tables and columns of a source database"),
		mcp.WithString("source", mcp.Description("Source system"), mcp.Required()),
		mcp.WithBoolean("refresh", mcp.Description("Ignore the cached listing")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListSchema)

	s.mcp.AddTool(mcp.NewTool("preview_table",
		mcp.WithDescription("Return the first rows of a raw legacy table"),
		mcp.WithString("source", mcp.Description("Source system"), mcp.Required()),
		mcp.WithString("table", mcp.Description("Table name"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum rows (default %d)", legacy.DefaultPreviewLimit))),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handlePreviewTable)
}

func sourceArg(req mcp.CallToolRequest) (domain.SourceSystem, error) {
	src := domain.SourceSystem(strings.ToUpper(strings.TrimSpace(req.GetString("source", ""))))
	switch src {
	case domain.SourceCNES, domain.SourceFPO, domain.SourceSIA, domain.SourceSIH:
		return src, nil
	case "":
		return "", fmt.Errorf("source is required")
	}
	return "", fmt.Errorf("unknown source %q (want CNES, FPO, SIA or SIH)", src)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type sourceInfo struct {
		Source  domain.SourceSystem `json:"source"`
		Path    string              `json:"path,omitempty"`
		User    string              `json:"user,omitempty"`
		Layouts []domain.LayoutID   `json:"layouts"`
	}
	selected := s.svc.Session.Sources()
	var out []sourceInfo
	for _, src := range []domain.SourceSystem{domain.SourceCNES, domain.SourceFPO, domain.SourceSIA, domain.SourceSIH} {
		info := sourceInfo{Source: src, Layouts: []domain.LayoutID{}}
		if p, ok := selected[src]; ok {
			info.Path, info.User = p.Path, p.User
		}
		for _, def := range s.svc.Layouts.BySource(src) {
			info.Layouts = append(info.Layouts, def.ID)
		}
		out = append(out, info)
	}
	return jsonResult(out)
}

func (s *Server) handleSelectDatabase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := sourceArg(req)
	if err != nil {
		return nil, err
	}
	path := req.GetString("path", "")
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	p := domain.LegacyConnectionParams{Path: path, User: req.GetString("user", "")}
	prev, _ := s.svc.Session.Source(src)
	p.Password = req.GetString("password", prev.Password)
	s.svc.Session.SetSource(src, p)

	sel, _ := s.svc.Session.Source(src)
	return textResult(fmt.Sprintf("%s database set to %s (user %s)", src, sel.Path, sel.User)), nil
}

func (s *Server) handleCheckConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := sourceArg(req)
	if err != nil {
		return nil, err
	}
	strategy, err := s.svc.CheckConnection(ctx, src)
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(map[string]string{"source": string(src), "strategy": strategy})
}

func (s *Server) handleListSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := sourceArg(req)
	if err != nil {
		return nil, err
	}
	schema, err := s.svc.Schema(ctx, src, req.GetBool("refresh", false))
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(schema)
}

func (s *Server) handlePreviewTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := sourceArg(req)
	if err != nil {
		return nil, err
	}
	table := req.GetString("table", "")
	if table == "" {
		return nil, fmt.Errorf("table is required")
	}
	res, err := s.svc.PreviewTable(ctx, src, table, req.GetInt("limit", legacy.DefaultPreviewLimit))
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(map[string]any{"columns": res.Columns, "rows": res.Data})
}
