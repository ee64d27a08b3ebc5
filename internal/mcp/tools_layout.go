package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"siapxml/internal/domain"
	"siapxml/internal/service"
)

func (s *Server) registerLayoutTools() {
	s.mcp.AddTool(mcp.NewTool("list_layouts",
		mcp.WithDescription("List the SIAP layouts (11.1 to 11.8), their source system and whether a stored set exists"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListLayouts)

	s.mcp.AddTool(mcp.NewTool("extract_layout",
		mcp.WithDescription("Extract one layout from its legacy database into the intermediate store. Replaces the layout's previous stored set."),
		mcp.WithString("layout", mcp.Description("Layout ID, e.g. 11.5"), mcp.Required()),
		mcp.WithString("competencia", mcp.Description("Competence filter YYYYMM (empty extracts every period)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleExtractLayout)

	s.mcp.AddTool(mcp.NewTool("extract_source",
		mcp.WithDescription("Extract every layout of one legacy system (CNES, FPO, SIA or SIH) in order, stopping at the first failure"),
		mcp.WithString("source", mcp.Description("Source system"), mcp.Required()),
		mcp.WithString("competencia", mcp.Description("Competence filter YYYYMM (empty extracts every period)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleExtractSource)

	s.mcp.AddTool(mcp.NewTool("preview_layout",
		mcp.WithDescription("Show the first stored records of an extracted layout"),
		mcp.WithString("layout", mcp.Description("Layout ID"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum records (default %d)", service.DefaultPreviewLimit))),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handlePreviewLayout)

	s.mcp.AddTool(mcp.NewTool("export_xml",
		mcp.WithDescription("Serialize a stored layout as a SIAP XML document in the output directory"),
		mcp.WithString("layout", mcp.Description("Layout ID"), mcp.Required()),
		mcp.WithString("codigo", mcp.Description("Remittance code (default: configured header)")),
		mcp.WithString("exercicio", mcp.Description("Fiscal year YYYY")),
		mcp.WithString("mes", mcp.Description("Month 01-12")),
		mcp.WithString("outputDir", mcp.Description("Target directory (default: configured output dir)")),
	), s.handleExportXML)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List extraction history, newest first"),
		mcp.WithString("layout", mcp.Description("Only runs of this layout")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 50)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListRuns)
}

func layoutArg(req mcp.CallToolRequest) (domain.LayoutID, error) {
	id := req.GetString("layout", "")
	if id == "" {
		return "", fmt.Errorf("layout is required")
	}
	return domain.LayoutID(id), nil
}

func (s *Server) handleListLayouts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stored, err := s.svc.StoredLayouts(ctx)
	if err != nil {
		return failure(err), nil
	}
	has := make(map[domain.LayoutID]bool, len(stored))
	for _, id := range stored {
		has[id] = true
	}

	type layoutInfo struct {
		ID      domain.LayoutID     `json:"id"`
		Title   string              `json:"title"`
		Source  domain.SourceSystem `json:"source"`
		Element string              `json:"element"`
		Stored  bool                `json:"stored"`
	}
	var out []layoutInfo
	for _, def := range s.svc.Layouts.All() {
		out = append(out, layoutInfo{
			ID:      def.ID,
			Title:   def.Title,
			Source:  def.Source,
			Element: def.Element,
			Stored:  has[def.ID],
		})
	}
	return jsonResult(out)
}

func (s *Server) handleExtractLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := layoutArg(req)
	if err != nil {
		return nil, err
	}
	run, err := s.svc.Extract(ctx, id, req.GetString("competencia", ""))
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(run)
}

func (s *Server) handleExtractSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := sourceArg(req)
	if err != nil {
		return nil, err
	}
	runs, err := s.svc.ExtractSource(ctx, src, req.GetString("competencia", ""))
	if err != nil {
		return failure(fmt.Errorf("%s stopped after %d run(s): %w", src, len(runs), err)), nil
	}
	return jsonResult(runs)
}

func (s *Server) handlePreviewLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := layoutArg(req)
	if err != nil {
		return nil, err
	}
	set, err := s.svc.PreviewLayout(ctx, id, req.GetInt("limit", service.DefaultPreviewLimit))
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(set)
}

func (s *Server) handleExportXML(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := layoutArg(req)
	if err != nil {
		return nil, err
	}
	h := s.svc.Session.Header()
	h.Codigo = req.GetString("codigo", h.Codigo)
	h.Exercicio = req.GetString("exercicio", h.Exercicio)
	h.Mes = req.GetString("mes", h.Mes)

	path, err := s.svc.Export(ctx, id, req.GetString("outputDir", s.outputDir), h)
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(map[string]any{"layout": id, "path": path, "header": h})
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.svc.Runs(ctx, domain.LayoutID(req.GetString("layout", "")), req.GetInt("limit", 50))
	if err != nil {
		return failure(err), nil
	}
	if runs == nil {
		runs = []domain.RunLog{}
	}
	return jsonResult(runs)
}
