package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"siapxml/internal/domain"
)

const (
	layoutsURI        = "siapxml://layouts"
	layoutURIPrefix   = "siapxml://layout/"
	layoutURITemplate = layoutURIPrefix + "{id}"
)

func (s *Server) registerResources() {
	// ── siapxml://layouts ──────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		layoutsURI,
		"All SIAP layout definitions",
		mcp.WithMIMEType("application/json"),
	), s.handleLayoutsResource)

	// ── siapxml://layout/{id} ──────────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			layoutURITemplate,
			"One layout definition: query, column mapping and field rules",
		),
		s.handleLayoutResource,
	)
}

func (s *Server) handleLayoutsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(layoutsURI, s.svc.Layouts.All())
}

func (s *Server) handleLayoutResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	id := strings.TrimPrefix(uri, layoutURIPrefix)
	if id == uri || id == "" {
		return nil, fmt.Errorf("invalid layout URI %q", uri)
	}
	def, err := s.svc.Layouts.Get(domain.LayoutID(id))
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, def)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
