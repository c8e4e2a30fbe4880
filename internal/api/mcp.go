package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/oshelest/shopmate/internal/content"
	"github.com/oshelest/shopmate/internal/conversation"
	"github.com/oshelest/shopmate/internal/persona"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Library   *content.Library
	Assistant AssistantFactory
	Sessions  SessionStore
}

// SessionStore resolves conversation stores for MCP callers. MCP clients
// identify themselves with an opaque session string.
type SessionStore interface {
	Get(id string) *conversation.Store
}

// NewMCPServer creates an MCP server exposing the assistant and the content
// library as tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"shopmate",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("shopmate — retail staff companion: AI assistant personas, knowledge base, and shift checklists."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask_assistant",
			mcp.WithDescription("Send a message to one of the assistant personas and return the reply with related resources."),
			mcp.WithString("persona", mcp.Description("Persona id: seller, psychologist, or companion"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The message text"), mcp.Required()),
			mcp.WithString("session", mcp.Description("Opaque session id (optional, defaults to a shared session)")),
		),
		mcpAskAssistant(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge_base",
			mcp.WithDescription("Search knowledge base articles by title and return matching summaries."),
			mcp.WithString("query", mcp.Description("Title filter; empty returns everything")),
		),
		mcpSearchKB(deps),
	)

	s.AddTool(
		mcp.NewTool("get_checklist",
			mcp.WithDescription("Return one shift checklist with its items."),
			mcp.WithString("id", mcp.Description("Checklist id"), mcp.Required()),
		),
		mcpGetChecklist(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"shopmate://personas",
			"Assistant Personas",
			mcp.WithResourceDescription("Available assistant personas as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePersonas(),
	)

	s.AddResource(
		mcp.NewResource(
			"shopmate://kb",
			"Knowledge Base",
			mcp.WithResourceDescription("All knowledge base article summaries as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceKB(deps),
	)

	return s
}

func mcpAskAssistant(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawPersona, err := req.RequireString("persona")
		if err != nil {
			return mcpError("persona is required"), nil
		}
		p, err := persona.Parse(rawPersona)
		if err != nil {
			return mcpError(fmt.Sprintf("unknown persona %q", rawPersona)), nil
		}

		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		sessionID := req.GetString("session", "mcp")
		// MCP callers have no embedding host, so no auth context travels.
		a := deps.Assistant(deps.Sessions.Get(sessionID), "")

		msg, err := a.SendText(ctx, p, text)
		if err != nil {
			return mcpError(fmt.Sprintf("exchange failed: %v", err)), nil
		}

		b, err := json.Marshal(msg)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reply: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchKB(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")

		summaries := deps.Library.ArticleSummaries(query)
		if summaries == nil {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetChecklist(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		cl, err := deps.Library.Checklist(id)
		if err != nil {
			return mcpError(fmt.Sprintf("checklist %q not found", id)), nil
		}

		b, err := json.Marshal(cl)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal checklist: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePersonas() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(persona.All())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal personas: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceKB(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Library.ArticleSummaries(""))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal articles: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
