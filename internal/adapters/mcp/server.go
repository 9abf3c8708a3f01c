package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wenda-project/wenda/internal/core/domain"
	"github.com/wenda-project/wenda/internal/core/ports"
)

const version = "1.0.0"

// Server exposes the retrieval and answer services as MCP tools over
// stdio, so editors and agents can query the same corpus as the HTTP
// API.
type Server struct {
	answer    ports.AnswerService
	retriever ports.RetrieveService
	logger    *slog.Logger
}

func NewServer(answer ports.AnswerService, retriever ports.RetrieveService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		answer:    answer,
		retriever: retriever,
		logger:    logger,
	}
}

func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer(
		"wenda",
		version,
		server.WithInstructions("Hybrid document retrieval and question answering over the indexed corpus."),
	)

	srv.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Run hybrid (vector + lexical) retrieval and return the fused candidate chunks."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query text")),
			mcp.WithNumber("topK", mcp.Description("Maximum candidates to return")),
			mcp.WithBoolean("useRerank", mcp.Description("Apply the LLM re-rank pass")),
		),
		s.handleSearch,
	)

	srv.AddTool(
		mcp.NewTool("answer",
			mcp.WithDescription("Answer a question with citations, using documents first and web search as fallback."),
			mcp.WithString("query", mcp.Required(), mcp.Description("The question to answer")),
			mcp.WithString("sessionId", mcp.Description("Session id for follow-up context")),
			mcp.WithBoolean("docOnly", mcp.Description("Never fall back to general knowledge or web")),
			mcp.WithString("webMode", mcp.Description("Web search mode: off, upgrade or only")),
		),
		s.handleAnswer,
	)

	return srv
}

// Serve blocks on the stdio transport until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.MCPServer())
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	result, err := s.retriever.Retrieve(ctx, ports.RetrieveInput{
		Query:     query,
		TopK:      req.GetInt("topK", 0),
		UseRerank: req.GetBool("useRerank", false),
	})
	if err != nil {
		s.logger.Warn("mcp_search_failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	resp, err := s.answer.Answer(ctx, domain.AnswerRequest{
		Query:     query,
		SessionID: req.GetString("sessionId", ""),
		DocOnly:   req.GetBool("docOnly", false),
		WebMode:   domain.WebMode(req.GetString("webMode", "")),
	})
	if err != nil {
		s.logger.Warn("mcp_answer_failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
