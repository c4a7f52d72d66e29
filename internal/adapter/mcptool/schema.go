// Package mcptool exposes branch tools over the Model Context Protocol: the
// parameter schema translates property by property into the tool's input
// schema, elicitation maps to the host's elicitInput RPC, sampling to
// createMessage, and progress to progress notifications.
package mcptool

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"cadence/internal/domain"
)

// toolOptions translates a branch tool's declaration into MCP tool options.
func toolOptions(spec *domain.BranchToolSpec) []mcp.ToolOption {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}

	names := make([]string, 0, len(spec.Schema))
	for name := range spec.Schema {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		opts = append(opts, paramOption(name, spec.Schema[name]))
	}
	return opts
}

// paramOption maps one parameter spec onto the matching typed option.
func paramOption(name string, spec domain.ParamSpec) mcp.ToolOption {
	switch spec.Type {
	case domain.ParamNumber:
		var opts []mcp.PropertyOption
		if spec.Description != "" {
			opts = append(opts, mcp.Description(spec.Description))
		}
		if !spec.Optional {
			opts = append(opts, mcp.Required())
		}
		if def, ok := spec.Default.(float64); ok {
			opts = append(opts, mcp.DefaultNumber(def))
		}
		return mcp.WithNumber(name, opts...)

	case domain.ParamBoolean:
		var opts []mcp.PropertyOption
		if spec.Description != "" {
			opts = append(opts, mcp.Description(spec.Description))
		}
		if !spec.Optional {
			opts = append(opts, mcp.Required())
		}
		if def, ok := spec.Default.(bool); ok {
			opts = append(opts, mcp.DefaultBool(def))
		}
		return mcp.WithBoolean(name, opts...)

	default:
		var opts []mcp.PropertyOption
		if spec.Description != "" {
			opts = append(opts, mcp.Description(spec.Description))
		}
		if !spec.Optional {
			opts = append(opts, mcp.Required())
		}
		if len(spec.Enum) > 0 {
			opts = append(opts, mcp.Enum(spec.Enum...))
		}
		if def, ok := spec.Default.(string); ok {
			opts = append(opts, mcp.DefaultString(def))
		}
		return mcp.WithString(name, opts...)
	}
}
