// ABOUTME: Tests for the memory store and graph restoration from persisted nodes.
package store

import (
	"testing"

	"github.com/2389-research/loom/graph"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	n := &graph.Node{
		ID:     "n1",
		Type:   graph.NodeImage,
		Status: graph.StatusSuccess,
		Prompt: "a lighthouse",
	}
	if err := s.SaveNode(n); err != nil {
		t.Fatalf("SaveNode() error = %v", err)
	}

	// Mutating the original after save must not leak into the store.
	n.Prompt = "changed"

	nodes, err := s.LoadNodes()
	if err != nil {
		t.Fatalf("LoadNodes() error = %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("len(nodes) = %d", len(nodes))
	}
	if nodes[0].Prompt != "a lighthouse" {
		t.Errorf("Prompt = %q, store shares memory with caller", nodes[0].Prompt)
	}

	if err := s.DeleteNode("n1"); err != nil {
		t.Fatalf("DeleteNode() error = %v", err)
	}
	nodes, _ = s.LoadNodes()
	if len(nodes) != 0 {
		t.Errorf("len(nodes) = %d after delete", len(nodes))
	}
}

func TestMemoryStoreDeleteMissingIsNoOp(t *testing.T) {
	s := NewMemoryStore()
	if err := s.DeleteNode("ghost"); err != nil {
		t.Errorf("DeleteNode(missing) error = %v", err)
	}
}

func TestRestoreRebuildsGraph(t *testing.T) {
	s := NewMemoryStore()
	parent := &graph.Node{ID: "p", Type: graph.NodeImage, Status: graph.StatusSuccess, ResultURL: "https://cdn.example.com/p.png"}
	child := &graph.Node{
		ID: "c", Type: graph.NodeVideo, Status: graph.StatusIdle,
		ParentIDs:   []string{"p"},
		FrameInputs: graph.FrameInputs{"p": graph.FrameStart},
	}
	for _, n := range []*graph.Node{parent, child} {
		if err := s.SaveNode(n); err != nil {
			t.Fatalf("SaveNode(%s) error = %v", n.ID, err)
		}
	}

	g, err := Restore(s)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, err := g.Node("c")
	if err != nil {
		t.Fatalf("Node(c) error = %v", err)
	}
	if len(got.ParentIDs) != 1 || got.ParentIDs[0] != "p" {
		t.Errorf("ParentIDs = %v", got.ParentIDs)
	}
	if got.FrameInputs["p"] != graph.FrameStart {
		t.Errorf("FrameInputs = %v", got.FrameInputs)
	}
}

func TestRestoreResetsLoadingToIdle(t *testing.T) {
	// A node persisted mid-job restores with no job attached; left Loading
	// it could never reach a terminal state.
	s := NewMemoryStore()
	n := &graph.Node{
		ID: "stuck", Type: graph.NodeImage, Status: graph.StatusLoading,
		Prompt: "interrupted",
	}
	if err := s.SaveNode(n); err != nil {
		t.Fatalf("SaveNode() error = %v", err)
	}

	g, err := Restore(s)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, err := g.Node("stuck")
	if err != nil {
		t.Fatalf("Node(stuck) error = %v", err)
	}
	if got.Status != graph.StatusIdle {
		t.Errorf("Status = %q, want %q", got.Status, graph.StatusIdle)
	}

	// The durable copy is reset too, not just the live graph.
	nodes, err := s.LoadNodes()
	if err != nil {
		t.Fatalf("LoadNodes() error = %v", err)
	}
	if len(nodes) != 1 || nodes[0].Status != graph.StatusIdle {
		t.Errorf("stored status = %q, want %q", nodes[0].Status, graph.StatusIdle)
	}
}

func TestRestoreDropsDanglingEdges(t *testing.T) {
	s := NewMemoryStore()
	child := &graph.Node{
		ID: "c", Type: graph.NodeImage, Status: graph.StatusIdle,
		ParentIDs: []string{"deleted-parent"},
	}
	if err := s.SaveNode(child); err != nil {
		t.Fatalf("SaveNode() error = %v", err)
	}

	g, err := Restore(s)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, err := g.Node("c")
	if err != nil {
		t.Fatalf("Node(c) error = %v", err)
	}
	if len(got.ParentIDs) != 0 {
		t.Errorf("ParentIDs = %v, want dangling edge dropped", got.ParentIDs)
	}
}
