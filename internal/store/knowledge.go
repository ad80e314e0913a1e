// ABOUTME: Knowledge graph nodes and weighted edges shared by every conversation
// ABOUTME: KnowledgeStore interface plus its SQLite implementation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConflict is returned when a write would duplicate a unique entity.
var ErrConflict = errors.New("already exists")

// Knowledge graph paging defaults.
const (
	DefaultKnowledgeLimit = 100
	DefaultSearchLimit    = 20
)

// KnowledgeNode is one concept in the knowledge graph.
type KnowledgeNode struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// KnowledgeEdge is a directed, typed relation between two nodes. At most
// one edge exists per (source, target) pair.
type KnowledgeEdge struct {
	ID               int64     `json:"id"`
	SourceID         int64     `json:"sourceId"`
	TargetID         int64     `json:"targetId"`
	RelationshipType string    `json:"relationshipType"`
	Weight           float64   `json:"weight"`
	CreatedAt        time.Time `json:"createdAt"`
}

// KnowledgeConnection is an edge touching a node, with both endpoints named.
type KnowledgeConnection struct {
	Edge           KnowledgeEdge `json:"edge"`
	SourceTitle    string        `json:"sourceTitle"`
	SourceCategory string        `json:"sourceCategory,omitempty"`
	TargetTitle    string        `json:"targetTitle"`
	TargetCategory string        `json:"targetCategory,omitempty"`
}

// KnowledgeGraph is a page of nodes and every edge touching them.
type KnowledgeGraph struct {
	Nodes []*KnowledgeNode `json:"nodes"`
	Edges []*KnowledgeEdge `json:"edges"`
}

// KnowledgeStore persists the knowledge graph.
type KnowledgeStore interface {
	// KnowledgeGraph returns up to limit nodes, optionally only those in
	// category, and every edge with either end among them.
	KnowledgeGraph(ctx context.Context, category string, limit int) (*KnowledgeGraph, error)

	// KnowledgeNode returns a node and the edges touching it.
	// Returns ErrNotFound for an unknown id.
	KnowledgeNode(ctx context.Context, id int64) (*KnowledgeNode, []*KnowledgeConnection, error)

	// SearchKnowledge matches query case-insensitively against node titles
	// and content.
	SearchKnowledge(ctx context.Context, query string, limit int) ([]*KnowledgeNode, error)

	CreateKnowledgeNode(ctx context.Context, title, content, category string) (*KnowledgeNode, error)

	// CreateKnowledgeEdge links two existing nodes. Returns ErrNotFound when
	// either node is missing and ErrConflict when the pair is already linked.
	CreateKnowledgeEdge(ctx context.Context, sourceID, targetID int64, relationshipType string, weight float64) (*KnowledgeEdge, error)
}

var _ KnowledgeStore = (*SQLiteStore)(nil)

func validateKnowledgeNode(title, content string) error {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: title and content are required", ErrInvalidArgument)
	}
	return nil
}

func validateKnowledgeEdge(sourceID, targetID int64, relationshipType string) error {
	if sourceID <= 0 || targetID <= 0 || strings.TrimSpace(relationshipType) == "" {
		return fmt.Errorf("%w: source, target and relationship type are required", ErrInvalidArgument)
	}
	return nil
}

// likePattern escapes LIKE wildcards in q and wraps it for a substring match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

const knowledgeNodeColumns = `id, title, content, category, created_at, updated_at`

func scanKnowledgeNode(row interface{ Scan(...any) error }) (*KnowledgeNode, error) {
	var (
		node                 KnowledgeNode
		category             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&node.ID, &node.Title, &node.Content, &category, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	node.Category = category.String
	var err error
	if node.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if node.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *SQLiteStore) queryKnowledgeNodes(ctx context.Context, query string, args ...any) ([]*KnowledgeNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*KnowledgeNode{}
	for rows.Next() {
		node, err := scanKnowledgeNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning knowledge node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// KnowledgeGraph returns a page of nodes, oldest first, with their edges.
func (s *SQLiteStore) KnowledgeGraph(ctx context.Context, category string, limit int) (*KnowledgeGraph, error) {
	limit = clampLimit(limit, DefaultKnowledgeLimit)

	query := `SELECT ` + knowledgeNodeColumns + ` FROM knowledge_nodes`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	nodes, err := s.queryKnowledgeNodes(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	graph := &KnowledgeGraph{Nodes: nodes, Edges: []*KnowledgeEdge{}}
	if len(nodes) == 0 {
		return graph, nil
	}

	ids := make([]any, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	edgeArgs := append(append([]any{}, ids...), ids...)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relationship_type, weight, created_at
		FROM knowledge_edges
		WHERE source_id IN (`+in+`) OR target_id IN (`+in+`)
		ORDER BY id
	`, edgeArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			edge      KnowledgeEdge
			createdAt string
		)
		if err := rows.Scan(&edge.ID, &edge.SourceID, &edge.TargetID, &edge.RelationshipType, &edge.Weight, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning knowledge edge: %w", err)
		}
		if edge.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		graph.Edges = append(graph.Edges, &edge)
	}
	return graph, rows.Err()
}

// KnowledgeNode returns a node with its incoming and outgoing edges.
func (s *SQLiteStore) KnowledgeNode(ctx context.Context, id int64) (*KnowledgeNode, []*KnowledgeConnection, error) {
	node, err := scanKnowledgeNode(s.db.QueryRowContext(ctx,
		`SELECT `+knowledgeNodeColumns+` FROM knowledge_nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying knowledge node: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.source_id, e.target_id, e.relationship_type, e.weight, e.created_at,
			n1.title, n1.category, n2.title, n2.category
		FROM knowledge_edges e
		JOIN knowledge_nodes n1 ON e.source_id = n1.id
		JOIN knowledge_nodes n2 ON e.target_id = n2.id
		WHERE e.source_id = ? OR e.target_id = ?
		ORDER BY e.id
	`, id, id)
	if err != nil {
		return nil, nil, fmt.Errorf("querying knowledge connections: %w", err)
	}
	defer rows.Close()

	conns := []*KnowledgeConnection{}
	for rows.Next() {
		var (
			c              KnowledgeConnection
			createdAt      string
			srcCat, dstCat sql.NullString
		)
		if err := rows.Scan(&c.Edge.ID, &c.Edge.SourceID, &c.Edge.TargetID, &c.Edge.RelationshipType,
			&c.Edge.Weight, &createdAt, &c.SourceTitle, &srcCat, &c.TargetTitle, &dstCat); err != nil {
			return nil, nil, fmt.Errorf("scanning knowledge connection: %w", err)
		}
		if c.Edge.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, nil, err
		}
		c.SourceCategory, c.TargetCategory = srcCat.String, dstCat.String
		conns = append(conns, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return node, conns, nil
}

// SearchKnowledge matches query as a substring of title or content. LIKE is
// case-insensitive for ASCII in SQLite.
func (s *SQLiteStore) SearchKnowledge(ctx context.Context, query string, limit int) ([]*KnowledgeNode, error) {
	limit = clampLimit(limit, DefaultSearchLimit)
	pattern := likePattern(query)
	return s.queryKnowledgeNodes(ctx, `
		SELECT `+knowledgeNodeColumns+` FROM knowledge_nodes
		WHERE title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\'
		ORDER BY id LIMIT ?
	`, pattern, pattern, limit)
}

// CreateKnowledgeNode inserts a node.
func (s *SQLiteStore) CreateKnowledgeNode(ctx context.Context, title, content, category string) (*KnowledgeNode, error) {
	if err := validateKnowledgeNode(title, content); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var cat sql.NullString
	if category != "" {
		cat = sql.NullString{String: category, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_nodes (title, content, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, title, content, cat, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting knowledge node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading knowledge node id: %w", err)
	}

	s.logger.Debug("knowledge node created", "node_id", id, "category", category)
	return &KnowledgeNode{
		ID:        id,
		Title:     title,
		Content:   content,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CreateKnowledgeEdge links sourceID to targetID.
func (s *SQLiteStore) CreateKnowledgeEdge(ctx context.Context, sourceID, targetID int64, relationshipType string, weight float64) (*KnowledgeEdge, error) {
	if err := validateKnowledgeEdge(sourceID, targetID, relationshipType); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	want := 2
	if sourceID == targetID {
		want = 1
	}
	var found int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_nodes WHERE id IN (?, ?)`, sourceID, targetID).Scan(&found); err != nil {
		return nil, fmt.Errorf("checking knowledge nodes: %w", err)
	}
	if found < want {
		return nil, ErrNotFound
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM knowledge_edges WHERE source_id = ? AND target_id = ?`, sourceID, targetID).Scan(&exists)
	switch {
	case err == nil:
		return nil, ErrConflict
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("checking knowledge edge: %w", err)
	}

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO knowledge_edges (source_id, target_id, relationship_type, weight, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sourceID, targetID, relationshipType, weight, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inserting knowledge edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading knowledge edge id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing knowledge edge: %w", err)
	}

	return &KnowledgeEdge{
		ID:               id,
		SourceID:         sourceID,
		TargetID:         targetID,
		RelationshipType: relationshipType,
		Weight:           weight,
		CreatedAt:        now,
	}, nil
}
