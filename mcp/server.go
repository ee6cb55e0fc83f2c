// Package mcp exposes the x402 handshake as an MCP tool, so an agent can
// fetch paid resources through a configured payment client.
package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"

	httpx402 "github.com/Gate402/gate-fe-sub000/http"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// FetchToolName is the name under which the fetch tool is registered.
const FetchToolName = "x402_fetch"

// defaultMaxBody bounds the response body returned to the agent.
const defaultMaxBody = 32 << 10

// Server is an MCP server whose single tool performs paid HTTP requests.
type Server struct {
	mcpServer *mcpserver.MCPServer
	client    *httpx402.Client
	logger    *zap.Logger
	maxBody   int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for tool calls.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxBodyBytes bounds how much of the response body a tool result carries.
func WithMaxBodyBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// NewServer creates an MCP server that pays for requests with client.
func NewServer(name, version string, client *httpx402.Client, opts ...Option) (*Server, error) {
	if client == nil {
		return nil, fmt.Errorf("payment client cannot be nil")
	}

	s := &Server{
		mcpServer: mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(false)),
		client:    client,
		logger:    zap.NewNop(),
		maxBody:   defaultMaxBody,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer.AddTool(FetchTool(), s.handleFetch)
	return s, nil
}

// FetchTool describes the x402_fetch tool.
func FetchTool() mcpproto.Tool {
	return mcpproto.NewTool(FetchToolName,
		mcpproto.WithDescription("Fetch an HTTP resource, paying for it with x402 when the server answers 402 Payment Required. Returns the status, handshake steps and settlement receipt as JSON."),
		mcpproto.WithString("url",
			mcpproto.Required(),
			mcpproto.Description("Absolute http or https URL of the resource"),
		),
		mcpproto.WithString("method",
			mcpproto.Description("HTTP method"),
			mcpproto.Enum(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete),
			mcpproto.DefaultString(http.MethodGet),
		),
		mcpproto.WithString("body",
			mcpproto.Description("Request body, sent unchanged on both handshake requests"),
		),
		mcpproto.WithObject("headers",
			mcpproto.Description("Extra request headers as a string map"),
		),
	)
}

// Handler returns the streamable HTTP transport for the server.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

// ServeStdio serves the MCP protocol over in and out until ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
