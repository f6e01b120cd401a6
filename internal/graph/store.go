package graph

import (
	"sort"
	"sync"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/models"
)

// Neighbor is an adjacent node reached through an edge, in either direction.
type Neighbor struct {
	Edge   models.Edge
	NodeID string
}

// Store is the evidence graph for a single run: node and edge tables keyed
// by ID plus an adjacency index. Nodes and edges refer to each other by ID
// only, so cycles are harmless.
type Store struct {
	mu        sync.RWMutex
	nodes     map[string]models.Node
	edges     map[string]models.Edge
	adjacency map[string][]string // node ID -> edge IDs
}

// NewStore creates an empty graph
func NewStore() *Store {
	return &Store{
		nodes:     make(map[string]models.Node),
		edges:     make(map[string]models.Edge),
		adjacency: make(map[string][]string),
	}
}

// AddNode inserts a node. A node ID may only be inserted once per run.
func (s *Store) AddNode(node models.Node) error {
	if node.ID == "" {
		return errors.ValidationErrorf("node id is empty")
	}
	if !node.Kind.Valid() {
		return errors.ValidationErrorf("node %s: unknown kind %q", node.ID, node.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[node.ID]; exists {
		return errors.DuplicateNode(node.ID)
	}
	s.nodes[node.ID] = node
	return nil
}

// AddEdge validates and inserts an edge, returning it with its ID assigned.
// Re-adding an edge with the same ID is a no-op.
func (s *Store) AddEdge(edge models.Edge) (models.Edge, error) {
	if err := edge.Validate(); err != nil {
		return edge, errors.Wrap(err, errors.ErrorTypeValidation, errors.SeverityHigh, "invalid edge")
	}
	if edge.ID == "" {
		edge.ID = models.EdgeID(edge.Source, edge.Kind, edge.Target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, endpoint := range []string{edge.Source, edge.Target} {
		if _, ok := s.nodes[endpoint]; !ok {
			return edge, errors.DanglingEdge(edge.ID, endpoint)
		}
	}
	if existing, ok := s.edges[edge.ID]; ok {
		return existing, nil
	}

	s.edges[edge.ID] = edge
	s.adjacency[edge.Source] = append(s.adjacency[edge.Source], edge.ID)
	if edge.Target != edge.Source {
		s.adjacency[edge.Target] = append(s.adjacency[edge.Target], edge.ID)
	}
	return edge, nil
}

// GetNode returns a node by ID
func (s *Store) GetNode(id string) (models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// GetEdge returns an edge by ID
func (s *Store) GetEdge(id string) (models.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	return e, ok
}

// HasEdgeBetween reports whether any edge links a and b, in either direction.
func (s *Store) HasEdgeBetween(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.adjacency[a] {
		e := s.edges[id]
		if (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a) {
			return true
		}
	}
	return false
}

// Neighbors returns adjacent nodes ordered by edge ID.
func (s *Store) Neighbors(id string) []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := append([]string(nil), s.adjacency[id]...)
	sort.Strings(ids)

	out := make([]Neighbor, 0, len(ids))
	for _, eid := range ids {
		e := s.edges[eid]
		other := e.Target
		if other == id {
			other = e.Source
		}
		out = append(out, Neighbor{Edge: e, NodeID: other})
	}
	return out
}

// Nodes returns all nodes ordered by ID
func (s *Store) Nodes() []models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges ordered by ID
func (s *Store) Edges() []models.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}
