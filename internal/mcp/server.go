// Package mcpserver exposes the extraction service as MCP tools so an
// agent can inspect legacy databases, extract layouts and export XML.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"siapxml/internal/service"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Server is the MCP server of siapxml.
type Server struct {
	mcp       *server.MCPServer
	svc       *service.ExtractionService
	outputDir string
	log       *zap.Logger
}

// Deps holds what the CLI passes to the MCP server.
type Deps struct {
	Service   *service.ExtractionService
	OutputDir string
	Log       *zap.Logger
}

// New creates and configures a new MCP server with all tools, resources
// and prompts.
func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	s := &Server{
		svc:       deps.Service,
		outputDir: deps.OutputDir,
		log:       deps.Log,
	}

	s.mcp = server.NewMCPServer(
		"siapxml",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
		server.WithLogging(),
	)

	s.registerSourceTools()
	s.registerLayoutTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// Emitter forwards service events to connected clients as log
// notifications, and to next.
func (s *Server) Emitter(next service.EventEmitter) service.EventEmitter {
	return notifyEmitter{srv: s.mcp, next: next}
}

// ServeStdio starts the MCP server on stdin/stdout. Logs must go to
// stderr while it runs.
func (s *Server) ServeStdio() error {
	s.log.Info("starting MCP stdio server")
	return server.ServeStdio(s.mcp)
}

// HandleMessage processes one JSON-RPC message. Used by tests.
func (s *Server) HandleMessage(ctx context.Context, msg json.RawMessage) mcp.JSONRPCMessage {
	return s.mcp.HandleMessage(ctx, msg)
}

type notifyEmitter struct {
	srv  *server.MCPServer
	next service.EventEmitter
}

func (e notifyEmitter) Emit(ctx context.Context, event string, data any) {
	e.srv.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  "info",
		"logger": "siapxml",
		"data":   map[string]any{"event": event, "payload": data},
	})
	if e.next != nil {
		e.next.Emit(ctx, event, data)
	}
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// failure reports an operation failure to the agent. The message starts
// with the error kind so the agent can tell a missing file from a driver
// problem.
func failure(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func boolPtr(v bool) *bool { return &v }
