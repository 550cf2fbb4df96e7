package api

import (
	"errors"
	"strconv"

	"github.com/hazyhaar/censusgdb/pkg/kit"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers the read-only censusgdb tools on srv.
func RegisterMCPTools(srv *server.MCPServer, d Deps) {
	ep := newEndpoints(d)

	kit.RegisterMCPTool(srv, mcp.NewTool("get_codebook",
		mcp.WithDescription("Return the codebook of a dataset (tl, acs or cr) for one year: layer codes, aliases, source files, materialization methods and metadata."),
		mcp.WithString("dataset", mcp.Required(), mcp.Description("Dataset prefix: tl, acs or cr")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Vintage year, e.g. 2020")),
	), ep.codebook, func(req mcp.CallToolRequest) (any, error) {
		args := req.GetArguments()
		ds, _ := args["dataset"].(string)
		year, _ := args["year"].(float64)
		if ds == "" || year == 0 {
			return nil, errors.New("dataset and year are required")
		}
		return &codebookReq{Dataset: ds, Year: strconv.Itoa(int(year))}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("lookup_variable",
		mcp.WithDescription("Return every reconciled row of an ACS estimate variable, one per distinct label, with the years each label was published."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Variable name, e.g. B19013_001E")),
	), ep.variable, func(req mcp.CallToolRequest) (any, error) {
		name, _ := req.GetArguments()["name"].(string)
		return &variableReq{Name: name}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("search_variables",
		mcp.WithDescription("Search reconciled ACS variables by name, label or alias."),
		mcp.WithString("q", mcp.Required(), mcp.Description("Search term")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 50, max 200)")),
	), ep.search, func(req mcp.CallToolRequest) (any, error) {
		args := req.GetArguments()
		q, _ := args["q"].(string)
		limit, _ := args["limit"].(float64)
		if limit < 0 {
			return nil, errors.New("limit must be positive")
		}
		return &searchReq{Term: q, Limit: int(limit)}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("list_catalog",
		mcp.WithDescription("List the crawled TIGERweb catalog: service, year, layer name, geometry type and join method."),
		mcp.WithNumber("year", mcp.Description("Only entries of this year")),
	), ep.catalog, func(req mcp.CallToolRequest) (any, error) {
		year, _ := req.GetArguments()["year"].(float64)
		return &catalogReq{Year: int(year)}, nil
	})

	kit.RegisterMCPTool(srv, mcp.NewTool("list_sources",
		mcp.WithDescription("List registered data sources with their URL and last health check."),
	), ep.listSources, func(mcp.CallToolRequest) (any, error) {
		return nil, nil
	})
}
