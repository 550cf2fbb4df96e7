package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// DecodeFunc extracts the typed endpoint request from MCP tool arguments.
type DecodeFunc func(mcp.CallToolRequest) (any, error)

// RegisterMCPTool exposes endpoint as an MCP tool. Decode and endpoint
// errors become tool errors, not protocol errors. The response is returned
// as JSON text. The transport defaults to "mcp" unless the session set one.
func RegisterMCPTool(srv *server.MCPServer, tool mcp.Tool, endpoint Endpoint, decode DecodeFunc) {
	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		request, err := decode(req)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if _, ok := ctx.Value(TransportKey).(string); !ok {
			ctx = WithTransport(ctx, "mcp")
		}
		ctx = WithRequestID(ctx, uuid.NewString())

		resp, err := endpoint(ctx, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}
