// Package mcpadapter exposes the answering, claim validation and evidence search use cases as
// MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/legal-rag/internal/core/domain"
	"github.com/kirillkom/legal-rag/internal/core/ports"
)

const (
	toolAnswer   = "answer_legal_question"
	toolValidate = "validate_legal_claim"
	toolSearch   = "search_legal_evidence"

	defaultSearchResults = 5
)

type Handlers struct {
	answers   ports.AnsweringService
	claims    ports.ClaimValidator
	retriever ports.EvidenceRetriever
	logger    *slog.Logger
}

func NewHandlers(answers ports.AnsweringService, claims ports.ClaimValidator, retriever ports.EvidenceRetriever, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{answers: answers, claims: claims, retriever: retriever, logger: logger}
}

// NewServer registers the legal tools on a fresh MCP server.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer("legal-rag", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	filterOptions := []mcp.ToolOption{
		mcp.WithString("jurisdiction", mcp.Description("Restrict evidence to one jurisdiction code, e.g. FR.")),
		mcp.WithString("article_number", mcp.Description("Restrict evidence to one article number.")),
		mcp.WithString("document_type", mcp.Description("Restrict evidence to one document type (law, regulation, contract, case_file, research, memo, template).")),
	}

	s.AddTool(mcp.NewTool(toolAnswer, append([]mcp.ToolOption{
		mcp.WithDescription("Answer a legal question from the ingested corpus, citing articles as [Article N]."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Natural-language legal question.")),
	}, filterOptions...)...), h.Answer)

	s.AddTool(mcp.NewTool(toolValidate,
		mcp.WithDescription("Check a legal statement against the corpus and return a verdict with the supporting passage."),
		mcp.WithString("claim", mcp.Required(), mcp.Description("Statement to verify.")),
	), h.ValidateClaim)

	s.AddTool(mcp.NewTool(toolSearch, append([]mcp.ToolOption{
		mcp.WithDescription("Return ranked evidence passages for a query without generating an answer."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query.")),
		mcp.WithNumber("max_results", mcp.Description("Number of passages to return (1-50).")),
	}, filterOptions...)...), h.SearchEvidence)

	return s
}

func (h *Handlers) Answer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filter, err := filterFromRequest(req)
	if err != nil {
		return h.toolError(toolAnswer, err), nil
	}
	answer, err := h.answers.Answer(ctx, question, filter)
	if err != nil {
		return h.toolError(toolAnswer, err), nil
	}
	return jsonResult(answer)
}

func (h *Handlers) ValidateClaim(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	claim, err := req.RequireString("claim")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	verdict, err := h.claims.ValidateClaim(ctx, claim)
	if err != nil {
		return h.toolError(toolValidate, err), nil
	}
	return jsonResult(verdict)
}

type evidence struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	ArticleNumber string  `json:"article_number,omitempty"`
	Page          int     `json:"page,omitempty"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	MatchedBy     string  `json:"matched_by"`
}

func (h *Handlers) SearchEvidence(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filter, err := filterFromRequest(req)
	if err != nil {
		return h.toolError(toolSearch, err), nil
	}
	k := int(req.GetFloat("max_results", defaultSearchResults))
	candidates, err := h.retriever.Retrieve(ctx, query, k, filter)
	if err != nil {
		return h.toolError(toolSearch, err), nil
	}
	out := make([]evidence, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, evidence{
			DocumentID:    c.Chunk.DocumentID,
			DocumentTitle: c.DocumentTitle,
			ArticleNumber: c.Chunk.Metadata.ArticleNumber,
			Page:          c.Chunk.Metadata.Page,
			Text:          c.Chunk.Text,
			Confidence:    c.Confidence,
			MatchedBy:     c.MatchedBy,
		})
	}
	return jsonResult(map[string]any{"results": out})
}

func filterFromRequest(req mcp.CallToolRequest) (domain.SearchFilter, error) {
	filter := domain.SearchFilter{
		Jurisdiction:  strings.TrimSpace(req.GetString("jurisdiction", "")),
		ArticleNumber: strings.TrimSpace(req.GetString("article_number", "")),
	}
	if raw := strings.TrimSpace(req.GetString("document_type", "")); raw != "" {
		t, err := domain.ParseDocumentType(raw)
		if err != nil {
			return filter, err
		}
		filter.DocumentTypes = []domain.DocumentType{t}
	}
	return filter, nil
}

// toolError reports a failure to the MCP client. Generation and unclassified failures carry
// only the generic message.
func (h *Handlers) toolError(tool string, err error) *mcp.CallToolResult {
	message := err.Error()
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrValidationParse):
	default:
		message = domain.GenerationFailureMessage
		h.logger.Error("mcp_tool_failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(message)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}
