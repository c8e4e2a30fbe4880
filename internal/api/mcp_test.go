package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/oshelest/shopmate/internal/content"
	"github.com/oshelest/shopmate/internal/conversation"
)

func newTestMCPDeps(t *testing.T, backend *stubBackend) MCPDeps {
	t.Helper()
	deps, _ := newTestDeps(t, backend)
	return MCPDeps{
		Library:   deps.Library,
		Assistant: deps.Assistant,
		Sessions:  deps.Sessions,
	}
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("tool handler returned error: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestMCPAskAssistant(t *testing.T) {
	deps := newTestMCPDeps(t, &stubBackend{})
	res := callTool(t, mcpAskAssistant(deps), map[string]any{
		"persona": "seller",
		"text":    "привіт",
	})
	if res.IsError {
		t.Fatalf("tool errored: %s", resultText(t, res))
	}

	var msg conversation.Message
	if err := json.Unmarshal([]byte(resultText(t, res)), &msg); err != nil {
		t.Fatalf("reply is not a message: %v", err)
	}
	if msg.Content != "echo: привіт" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Related == nil {
		t.Error("reply must carry related resources")
	}
}

func TestMCPAskAssistant_UnknownPersona(t *testing.T) {
	deps := newTestMCPDeps(t, &stubBackend{})
	res := callTool(t, mcpAskAssistant(deps), map[string]any{
		"persona": "wizard",
		"text":    "hi",
	})
	if !res.IsError {
		t.Error("unknown persona must be a tool error")
	}
}

func TestMCPAskAssistant_MissingText(t *testing.T) {
	deps := newTestMCPDeps(t, &stubBackend{})
	res := callTool(t, mcpAskAssistant(deps), map[string]any{"persona": "seller"})
	if !res.IsError {
		t.Error("missing text must be a tool error")
	}
}

func TestMCPSearchKnowledgeBase(t *testing.T) {
	deps := newTestMCPDeps(t, &stubBackend{})

	res := callTool(t, mcpSearchKB(deps), map[string]any{"query": "скарг"})
	if res.IsError {
		t.Fatalf("tool errored: %s", resultText(t, res))
	}

	var summaries []content.ArticleSummary
	if err := json.Unmarshal([]byte(resultText(t, res)), &summaries); err != nil {
		t.Fatalf("result is not a summary list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != "complaints" {
		t.Errorf("summaries = %+v, want only complaints", summaries)
	}

	// Empty query returns the whole catalog.
	res = callTool(t, mcpSearchKB(deps), map[string]any{})
	if err := json.Unmarshal([]byte(resultText(t, res)), &summaries); err != nil {
		t.Fatalf("result is not a summary list: %v", err)
	}
	if len(summaries) < 6 {
		t.Errorf("got %d summaries, want the full catalog", len(summaries))
	}
}

func TestMCPGetChecklist(t *testing.T) {
	deps := newTestMCPDeps(t, &stubBackend{})

	res := callTool(t, mcpGetChecklist(deps), map[string]any{"id": "closing"})
	if res.IsError {
		t.Fatalf("tool errored: %s", resultText(t, res))
	}

	var cl content.Checklist
	if err := json.Unmarshal([]byte(resultText(t, res)), &cl); err != nil {
		t.Fatalf("result is not a checklist: %v", err)
	}
	if cl.ID != "closing" || len(cl.Items) == 0 {
		t.Errorf("checklist = %+v", cl)
	}

	res = callTool(t, mcpGetChecklist(deps), map[string]any{"id": "nope"})
	if !res.IsError {
		t.Error("missing checklist must be a tool error")
	}
}

func TestMCPResources(t *testing.T) {
	deps := newTestMCPDeps(t, &stubBackend{})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "shopmate://personas"
	contents, err := mcpResourcePersonas()(context.Background(), req)
	if err != nil {
		t.Fatalf("personas resource: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	var personas []map[string]any
	if err := json.Unmarshal([]byte(text), &personas); err != nil || len(personas) != 3 {
		t.Errorf("personas resource = %s", text)
	}

	req.Params.URI = "shopmate://kb"
	contents, err = mcpResourceKB(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("kb resource: %v", err)
	}
	text = contents[0].(mcp.TextResourceContents).Text
	var summaries []content.ArticleSummary
	if err := json.Unmarshal([]byte(text), &summaries); err != nil || len(summaries) == 0 {
		t.Errorf("kb resource = %s", text)
	}
}
