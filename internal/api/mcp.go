package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bizpilot/bizpilot/internal/retrieval"
	"github.com/bizpilot/bizpilot/internal/storage"
)

// MCPRetriever abstracts semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, text string) (retrieval.Context, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store             *storage.Store
	Retriever         MCPRetriever
	AutoSendThreshold float64
}

// NewMCPServer creates an MCP server exposing the triage data to agent
// clients: knowledge search, lead lookup and the review queue.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"bizpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("bizpilot — lead triage pipeline: search business knowledge, inspect leads, and list drafts awaiting review."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search the business knowledge base and return the most relevant snippets."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("get_lead",
			mcp.WithDescription("Fetch a lead with its current tier, status and classification history."),
			mcp.WithString("id", mcp.Description("Lead id"), mcp.Required()),
		),
		mcpGetLead(deps),
	)

	s.AddTool(
		mcp.NewTool("list_pending_messages",
			mcp.WithDescription("List generated messages awaiting human review."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListPendingMessages(deps),
	)

	return s
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		rctx, err := deps.Retriever.Retrieve(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if rctx.Empty() {
			return mcpText(retrieval.NoContextMarker), nil
		}

		type hit struct {
			DocID   string  `json:"doc_id"`
			Title   string  `json:"title"`
			DocType string  `json:"doc_type"`
			Text    string  `json:"text"`
			Score   float32 `json:"score"`
		}
		hits := make([]hit, len(rctx.Entries))
		for i, e := range rctx.Entries {
			hits[i] = hit{DocID: e.DocID, Title: e.Title, DocType: e.DocType, Text: e.Text, Score: e.Score}
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetLead(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		lead, err := deps.Store.GetLead(id)
		if err != nil {
			return mcpError(fmt.Sprintf("lead lookup failed: %v", err)), nil
		}
		history, err := deps.Store.ListClassifications(id)
		if err != nil {
			return mcpError(fmt.Sprintf("classification lookup failed: %v", err)), nil
		}

		detail := leadDetail{
			leadJSON:        toLeadJSON(lead),
			Classifications: make([]classificationJSON, 0, len(history)),
		}
		for _, c := range history {
			detail.Classifications = append(detail.Classifications, toClassificationJSON(c))
		}

		b, err := json.Marshal(detail)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal lead: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListPendingMessages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		messages, err := deps.Store.ListMessages(storage.MessageFilter{
			Status: storage.MessageStatusGenerated,
			Limit:  limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("listing messages failed: %v", err)), nil
		}
		if len(messages) == 0 {
			return mcpText("[]"), nil
		}

		out := make([]messageJSON, len(messages))
		for i, m := range messages {
			out[i] = toMessageJSON(m, deps.AutoSendThreshold)
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal messages: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
