// ABOUTME: HTTP handlers for the shared knowledge graph
// ABOUTME: Lists, searches and extends nodes and weighted edges under /api/knowledge-graph

package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/xeno-gateway/internal/store"
)

// defaultEdgeWeight applies when a new edge names no weight.
const defaultEdgeWeight = 1.0

// KnowledgeNodeResponse is the data of GET /api/knowledge-graph/node/{id}.
type KnowledgeNodeResponse struct {
	Node        *store.KnowledgeNode         `json:"node"`
	Connections []*store.KnowledgeConnection `json:"connections"`
}

// KnowledgeSearchResponse is the data of GET /api/knowledge-graph/search.
type KnowledgeSearchResponse struct {
	Results []*store.KnowledgeNode `json:"results"`
	Count   int                    `json:"count"`
}

// CreateKnowledgeNodeRequest is the body of POST /api/knowledge-graph/node.
type CreateKnowledgeNodeRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

// CreateKnowledgeEdgeRequest is the body of POST /api/knowledge-graph/edge.
type CreateKnowledgeEdgeRequest struct {
	SourceID         int64    `json:"sourceId"`
	TargetID         int64    `json:"targetId"`
	RelationshipType string   `json:"relationshipType"`
	Weight           *float64 `json:"weight,omitempty"`
}

// knowledgeEnabled answers 503 when no knowledge store is configured.
func (g *Gateway) knowledgeEnabled(w http.ResponseWriter) bool {
	if g.knowledge == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "Knowledge graph is not enabled")
		return false
	}
	return true
}

func (g *Gateway) knowledgeError(w http.ResponseWriter, err error, logMsg string) {
	g.logger.Error(logMsg, "error", err)
	sendJSONError(w, http.StatusInternalServerError, "Internal server error")
}

// handleKnowledgeGraph handles GET /api/knowledge-graph.
// Query: limit (default 100), category.
func (g *Gateway) handleKnowledgeGraph(w http.ResponseWriter, r *http.Request) {
	if !g.knowledgeEnabled(w) {
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), store.DefaultKnowledgeLimit)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	graph, err := g.knowledge.KnowledgeGraph(r.Context(), strings.TrimSpace(q.Get("category")), limit)
	if err != nil {
		g.knowledgeError(w, err, "failed to load knowledge graph")
		return
	}
	writeData(w, http.StatusOK, graph)
}

// handleKnowledgeNode handles GET /api/knowledge-graph/node/{id}.
func (g *Gateway) handleKnowledgeNode(w http.ResponseWriter, r *http.Request) {
	if !g.knowledgeEnabled(w) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		sendJSONError(w, http.StatusBadRequest, "Node ID must be a positive integer")
		return
	}

	node, conns, err := g.knowledge.KnowledgeNode(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "Node not found")
		return
	}
	if err != nil {
		g.knowledgeError(w, err, "failed to load knowledge node")
		return
	}
	writeData(w, http.StatusOK, KnowledgeNodeResponse{Node: node, Connections: conns})
}

// handleKnowledgeSearch handles GET /api/knowledge-graph/search.
// Query: q (required), limit (default 20).
func (g *Gateway) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if !g.knowledgeEnabled(w) {
		return
	}
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		sendJSONError(w, http.StatusBadRequest, "Search query is required")
		return
	}
	limit, err := parseLimit(q.Get("limit"), store.DefaultSearchLimit)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := g.knowledge.SearchKnowledge(r.Context(), query, limit)
	if err != nil {
		g.knowledgeError(w, err, "failed to search knowledge graph")
		return
	}
	writeData(w, http.StatusOK, KnowledgeSearchResponse{Results: results, Count: len(results)})
}

// handleCreateKnowledgeNode handles POST /api/knowledge-graph/node.
func (g *Gateway) handleCreateKnowledgeNode(w http.ResponseWriter, r *http.Request) {
	if !g.knowledgeEnabled(w) {
		return
	}
	var req CreateKnowledgeNodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		sendJSONError(w, http.StatusBadRequest, "Title and content are required")
		return
	}

	node, err := g.knowledge.CreateKnowledgeNode(r.Context(), req.Title, req.Content, strings.TrimSpace(req.Category))
	if err != nil {
		g.knowledgeError(w, err, "failed to create knowledge node")
		return
	}
	writeData(w, http.StatusCreated, node)
}

// handleCreateKnowledgeEdge handles POST /api/knowledge-graph/edge.
func (g *Gateway) handleCreateKnowledgeEdge(w http.ResponseWriter, r *http.Request) {
	if !g.knowledgeEnabled(w) {
		return
	}
	var req CreateKnowledgeEdgeRequest
	if err := decodeBody(w, r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SourceID <= 0 || req.TargetID <= 0 || strings.TrimSpace(req.RelationshipType) == "" {
		sendJSONError(w, http.StatusBadRequest, "Source ID, target ID, and relationship type are required")
		return
	}
	weight := defaultEdgeWeight
	if req.Weight != nil {
		weight = *req.Weight
	}

	edge, err := g.knowledge.CreateKnowledgeEdge(r.Context(), req.SourceID, req.TargetID, req.RelationshipType, weight)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "Source or target node not found")
	case errors.Is(err, store.ErrConflict):
		sendJSONError(w, http.StatusConflict, "Edge already exists")
	case err != nil:
		g.knowledgeError(w, err, "failed to create knowledge edge")
	default:
		writeData(w, http.StatusCreated, edge)
	}
}
