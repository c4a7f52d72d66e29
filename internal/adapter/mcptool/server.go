package mcptool

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"cadence/internal/domain"
	"cadence/internal/usecase/branch"
)

// Server registers branch tools with an MCP server instance. Each call runs
// under the branch runtime; tool failures come back as error results, never
// as protocol errors, so one bad call cannot take the session down.
type Server struct {
	mcp     *mcpserver.MCPServer
	runtime *branch.Runtime
	logger  *slog.Logger
}

// NewServer wraps the runtime's registered tools as MCP tools.
func NewServer(name, version string, runtime *branch.Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp: mcpserver.NewMCPServer(name, version,
			mcpserver.WithToolCapabilities(true),
		),
		runtime: runtime,
		logger:  logger,
	}
	for _, spec := range runtime.Tools() {
		s.register(spec)
	}
	return s
}

// MCP exposes the underlying server for transport wiring (stdio, HTTP).
func (s *Server) MCP() *mcpserver.MCPServer { return s.mcp }

func (s *Server) register(spec *domain.BranchToolSpec) {
	tool := mcp.NewTool(spec.Name, toolOptions(spec)...)
	name := spec.Name
	s.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callID := domain.NewID()
		params, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := s.runtime.Run(ctx, callID, name, params, nil)
		if err != nil {
			s.logger.Warn("mcp tool call failed",
				"tool", name,
				"call_id", callID,
				"error", err,
			)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	})
	s.logger.Debug("mcp tool registered", "tool", spec.Name)
}
