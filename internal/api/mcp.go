package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/translator"
)

// MCPDeps holds dependencies for the MCP server. History may be nil,
// which disables the recent-requests resource.
type MCPDeps struct {
	Translator   Translator
	Models       ModelLister
	History      HistoryReader
	DefaultModel string
}

// NewMCPServer creates an MCP server exposing the daemon's translation
// tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"lingod",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("lingod — local translation daemon for translating text with on-device or Ollama-hosted models."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("translate",
			mcp.WithDescription("Translate text to a target language using a local model."),
			mcp.WithString("text", mcp.Description("Text to translate"), mcp.Required()),
			mcp.WithString("target", mcp.Description("Target language (e.g. de, French)"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Source language; omit to let the model detect it")),
			mcp.WithString("model", mcp.Description("Model name; omit for the configured default")),
		),
		mcpTranslate(deps),
	)

	s.AddTool(
		mcp.NewTool("list_models",
			mcp.WithDescription("List the translation models available to the daemon."),
		),
		mcpListModels(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"lingod://recent",
			"Recent Translations",
			mcp.WithResourceDescription("Last 10 translation requests (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpTranslate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		target, err := req.RequireString("target")
		if err != nil {
			return mcpError("target is required"), nil
		}
		source := req.GetString("source", "")
		model := req.GetString("model", deps.DefaultModel)

		job, err := deps.Translator.Translate(ctx, translator.Request{
			Fragments: []string{text},
			Source:    source,
			Target:    target,
			Mode:      translator.ModeSimple,
			Model:     model,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("translation rejected: %v", err)), nil
		}

		var terminal *event.Event
		for e := range job.Events {
			if e.Kind.Terminal() {
				terminal = &e
			}
		}
		if terminal == nil {
			return mcpError("translation cancelled"), nil
		}
		if terminal.Kind == event.Error {
			return mcpError(fmt.Sprintf("translation failed: %s", terminal.Message)), nil
		}
		return mcpText(terminal.Text), nil
	}
}

func mcpListModels(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names, err := deps.Models.ListModels(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing models failed: %v", err)), nil
		}
		if len(names) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(names)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal models: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.History == nil {
			return nil, fmt.Errorf("history disabled")
		}

		requests, err := deps.History.ListRequests(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list requests: %w", err)
		}

		type requestSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Mode      string `json:"mode"`
			Model     string `json:"model"`
			Target    string `json:"target"`
			Status    string `json:"status"`
			Error     string `json:"error,omitempty"`
		}

		summaries := make([]requestSummary, len(requests))
		for i, r := range requests {
			errMsg := r.Error
			if utf8.RuneCountInString(errMsg) > 200 {
				runes := []rune(errMsg)
				errMsg = string(runes[:200]) + "..."
			}
			summaries[i] = requestSummary{
				ID:        r.ID,
				CreatedAt: r.CreatedAt.Format(time.RFC3339),
				Mode:      r.Mode,
				Model:     r.Model,
				Target:    r.TargetLang,
				Status:    r.Status,
				Error:     errMsg,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal requests: %w", err)
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
