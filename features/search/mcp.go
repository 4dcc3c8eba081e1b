package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"vecsync/internal/apperr"
	"vecsync/internal/rerank"
	"vecsync/internal/retrieval"
	"vecsync/internal/vector"
)

// MCPHandler exposes search as a tool over JSON-RPC so agents can query the
// index directly.
type MCPHandler struct {
	searcher Searcher
}

func NewMCPHandler(s Searcher) *MCPHandler {
	return &MCPHandler{searcher: s}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   any    `json:"error,omitempty"`
	ID      any    `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query     string            `json:"query"`
	Limit     *int              `json:"limit,omitempty"`
	Lambda    *float64          `json:"lambda,omitempty"`
	Diversity *float64          `json:"diversity,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
)

const (
	toolSearch = "vecsync_search"
	maxLimit   = 50
)

var searchTool = Tool{
	Name: toolSearch,
	Description: `Semantic search over the synced document index. Results are reranked for diversity so near-duplicate chunks do not crowd the top.

[Lambda: relevance vs. novelty] 1.0 is pure relevance, 0.0 pure novelty. Default comes from server settings.
[Diversity: alternative reranker] Weight in [0,1]; mutually exclusive with lambda.
[Filters] Exact matches on payload fields, e.g. {"source": "wiki"}.`,
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":     map[string]string{"type": "string", "description": "The search query"},
			"limit":     map[string]any{"type": "integer", "minimum": 1, "maximum": maxLimit},
			"lambda":    map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"diversity": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"filters":   map[string]string{"type": "object"},
		},
		"required": []string{"query"},
	},
}

// processRequest returns nil for notifications.
func (h *MCPHandler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"protocolVersion": "2024-11-05",
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "vecsync-mcp", "version": "1.0.0"},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: []Tool{searchTool}}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}
		if params.Name != toolSearch {
			slog.WarnContext(ctx, "tool not found", "tool", params.Name)
			resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
			return &resp
		}
		return h.callSearch(ctx, req.ID, params.Arguments)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *MCPHandler) callSearch(ctx context.Context, id any, raw json.RawMessage) *JSONRPCResponse {
	var args SearchArgs
	if err := json.Unmarshal(raw, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid params: query is required")
		return &resp
	}

	q, err := args.toQuery()
	if err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, err.Error())
		return &resp
	}

	results, err := h.searcher.Search(ctx, q)
	if err != nil {
		slog.WarnContext(ctx, "mcp search failed", "error", err)
		if apperr.IsInput(err) {
			resp := makeErrorResponse(id, ErrInvalidParams, err.Error())
			return &resp
		}
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      id,
			Result:  ToolResult{IsError: true, Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}}},
		}
	}

	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: formatResults(results)}}},
	}
}

func (a SearchArgs) toQuery() (retrieval.Query, error) {
	q := retrieval.Query{Text: a.Query}
	if a.Limit != nil {
		if *a.Limit < 1 || *a.Limit > maxLimit {
			return q, fmt.Errorf("limit must be within [1,%d]", maxLimit)
		}
		q.TopK = *a.Limit
	}
	if a.Lambda != nil {
		q.MMR = &rerank.MMROptions{Lambda: *a.Lambda}
	}
	q.Diversity = a.Diversity
	if len(a.Filters) > 0 {
		f := &vector.Filter{}
		for k, v := range a.Filters {
			f.Must = append(f.Must, vector.MatchField(k, v))
		}
		q.Filter = f
	}
	return q, nil
}

func formatResults(results []retrieval.Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "Result %d (doc %s, score %.3f):\n%s\n\n", i+1, r.DocumentID, r.Score, r.Content)
	}
	return strings.TrimSpace(b.String())
}

func makeErrorResponse(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   map[string]any{"code": code, "message": message},
		ID:      id,
	}
}

func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(makeErrorResponse(nil, ErrParse, "Parse error"))
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
