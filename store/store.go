// ABOUTME: Persistence boundary for canvas nodes, with an in-memory implementation.
// ABOUTME: Stores hold the durable copy of the graph; the Graph itself is the live working set.
package store

import (
	"sync"

	"github.com/2389-research/loom/graph"
)

// NodeStore persists canvas nodes. Implementations must be safe for
// concurrent use; the dispatcher writes terminal results from poller
// goroutines while the HTTP layer reads.
type NodeStore interface {
	// SaveNode writes the full node, inserting or replacing by id.
	SaveNode(n *graph.Node) error
	// DeleteNode removes a node. Deleting a missing node is a no-op.
	DeleteNode(id string) error
	// LoadNodes returns every stored node.
	LoadNodes() ([]*graph.Node, error)
	Close() error
}

// MemoryStore is a NodeStore backed by a map, for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*graph.Node
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]*graph.Node)}
}

func (s *MemoryStore) SaveNode(n *graph.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n.Clone()
	return nil
}

func (s *MemoryStore) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	return nil
}

func (s *MemoryStore) LoadNodes() ([]*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// Restore rebuilds a live graph from a store's contents. Edges referencing
// nodes that no longer exist are dropped silently. Nodes persisted mid-job
// come back Idle: the job died with the process, and a Loading node with no
// active job can never leave that state.
func Restore(s NodeStore) (*graph.Graph, error) {
	nodes, err := s.LoadNodes()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	g := graph.New()
	for _, n := range nodes {
		if n.Status == graph.StatusLoading {
			n.Status = graph.StatusIdle
			if err := s.SaveNode(n); err != nil {
				return nil, err
			}
		}
		parents := n.ParentIDs
		n.ParentIDs = nil
		if _, err := g.AddNode(n); err != nil {
			return nil, err
		}
		n.ParentIDs = parents
	}
	for _, n := range nodes {
		for _, pid := range n.ParentIDs {
			if !known[pid] {
				continue
			}
			if err := g.Connect(pid, n.ID); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}
