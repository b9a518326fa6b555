// ABOUTME: Thread-safe container for canvas nodes with derived connections and DAG enforcement.
// ABOUTME: Connections exist only as entries in a child's ordered ParentIDs list.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNodeNotFound is returned when an operation references an unknown node id.
var ErrNodeNotFound = errors.New("node not found")

// ErrCycle is returned when a connection would make the graph cyclic.
var ErrCycle = errors.New("connection would create a cycle")

// Graph holds the canvas nodes. All methods are safe for concurrent use.
// Accessors return clones; the only mutation path is AddNode, Connect,
// Disconnect, Remove, and Apply.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode inserts a node. A missing ID is filled with a fresh UUID and a zero
// status becomes Idle. Returns the stored node's id.
func (g *Graph) AddNode(n *Node) (string, error) {
	if n == nil {
		return "", errors.New("nil node")
	}
	if !n.Type.Valid() {
		return "", fmt.Errorf("unknown node type %q", n.Type)
	}
	cp := n.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = StatusIdle
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[cp.ID]; exists {
		return "", fmt.Errorf("node %q already exists", cp.ID)
	}
	g.nodes[cp.ID] = cp
	return cp.ID, nil
}

// Node returns a clone of the node with the given id.
func (g *Graph) Node(id string) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.Clone(), nil
}

// Nodes returns clones of all nodes in unspecified order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.Clone())
	}
	return out
}

// Connect appends parentID to child's ordered parent list. Duplicate
// connections are no-ops. Returns ErrCycle if the edge would make the graph
// cyclic.
func (g *Graph) Connect(parentID, childID string) error {
	if parentID == childID {
		return ErrCycle
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	parent, ok := g.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, parentID)
	}
	child, ok := g.nodes[childID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, childID)
	}

	for _, id := range child.ParentIDs {
		if id == parentID {
			return nil
		}
	}

	// The edge parent->child is cyclic iff child is already an ancestor of parent.
	if g.isAncestorLocked(childID, parent) {
		return ErrCycle
	}

	child.ParentIDs = append(child.ParentIDs, parentID)
	return nil
}

// isAncestorLocked walks the parent chain of n looking for ancestorID.
// Caller must hold g.mu.
func (g *Graph) isAncestorLocked(ancestorID string, n *Node) bool {
	for _, pid := range n.ParentIDs {
		if pid == ancestorID {
			return true
		}
		if p, ok := g.nodes[pid]; ok && g.isAncestorLocked(ancestorID, p) {
			return true
		}
	}
	return false
}

// Disconnect removes parentID from child's parent list and drops any frame
// role assigned to that parent. Unknown connections are no-ops.
func (g *Graph) Disconnect(parentID, childID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	child, ok := g.nodes[childID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, childID)
	}

	kept := child.ParentIDs[:0]
	for _, id := range child.ParentIDs {
		if id != parentID {
			kept = append(kept, id)
		}
	}
	child.ParentIDs = kept
	delete(child.FrameInputs, parentID)
	return nil
}

// Remove deletes a node and removes it from every other node's parent list.
func (g *Graph) Remove(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	delete(g.nodes, id)

	for _, n := range g.nodes {
		kept := n.ParentIDs[:0]
		for _, pid := range n.ParentIDs {
			if pid != id {
				kept = append(kept, pid)
			}
		}
		n.ParentIDs = kept
		delete(n.FrameInputs, id)
	}
	return nil
}

// Parents returns clones of the node's parents in connection order.
// Missing parents (removed nodes) are skipped.
func (g *Graph) Parents(id string) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	out := make([]*Node, 0, len(n.ParentIDs))
	for _, pid := range n.ParentIDs {
		if p, ok := g.nodes[pid]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// SuccessParents returns the ordered parents whose status is Success — the
// only parents that count as usable generation inputs.
func (g *Graph) SuccessParents(id string) ([]*Node, error) {
	parents, err := g.Parents(id)
	if err != nil {
		return nil, err
	}
	out := parents[:0]
	for _, p := range parents {
		if p.Status == StatusSuccess {
			out = append(out, p)
		}
	}
	return out, nil
}

// Apply writes a partial update onto the node and returns the updated clone.
func (g *Graph) Apply(id string, u Update) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	u.apply(n)
	return n.Clone(), nil
}
