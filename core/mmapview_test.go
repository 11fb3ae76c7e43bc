package core

import (
	"os"
	"path/filepath"
	"testing"
)

// TestGraphViewMaterializeMatchesSource covers scenario S4: a graph
// written to disk, opened through the mmap'd read path, and materialized
// back equals the graph that was written.
func TestGraphViewMaterializeMatchesSource(t *testing.T) {
	g := sampleGraph()
	path := filepath.Join(t.TempDir(), "graph.cnsb")
	if err := WriteGraphFile(path, g, BuildIndex|BuildCompressVarints, 1, nil); err != nil {
		t.Fatalf("WriteGraphFile: %v", err)
	}

	view, err := OpenGraphView(path)
	if err != nil {
		t.Fatalf("OpenGraphView: %v", err)
	}
	defer view.Close()

	if view.NodeCount() != uint64(len(g.Nodes)) {
		t.Fatalf("NodeCount() = %d, want %d", view.NodeCount(), len(g.Nodes))
	}
	if view.EdgeCount() != uint64(len(g.Edges)) {
		t.Fatalf("EdgeCount() = %d, want %d", view.EdgeCount(), len(g.Edges))
	}

	entry, ok := view.NodeIndexEntry(0)
	if !ok {
		t.Fatalf("expected a node index entry for node 0 when BuildIndex is set")
	}
	node, err := view.NodeAt(entry.DataOffset)
	if err != nil {
		t.Fatalf("NodeAt: %v", err)
	}
	if node.ID != g.Nodes[0].ID || string(node.Data) != string(g.Nodes[0].Data) {
		t.Fatalf("NodeAt(0) = %+v, want id/data matching %+v", node, g.Nodes[0])
	}

	got, err := view.Materialize()
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(got.Nodes) != len(g.Nodes) || len(got.Edges) != len(g.Edges) {
		t.Fatalf("materialized counts mismatch: got %d/%d, want %d/%d",
			len(got.Nodes), len(got.Edges), len(g.Nodes), len(g.Edges))
	}
}

// TestGraphViewRejectsBadMagic covers invariant I5 on the mmap read path:
// a file whose magic doesn't match CNSB is rejected at open time.
func TestGraphViewRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cnsb")
	if err := os.WriteFile(path, make([]byte, 256), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := OpenGraphView(path); err == nil {
		t.Fatalf("expected OpenGraphView to reject a file with an invalid magic")
	}
}

// TestGraphViewRejectsTruncatedSections covers invariant I5: a file whose
// header claims offsets beyond the actual file size is rejected rather
// than partially mapped.
func TestGraphViewRejectsTruncatedSections(t *testing.T) {
	g := sampleGraph()
	path := filepath.Join(t.TempDir(), "graph.cnsb")
	if err := WriteGraphFile(path, g, BuildCompressVarints, 1, nil); err != nil {
		t.Fatalf("WriteGraphFile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	truncated := raw[:headerSize+metadataSize+4]
	if err := os.WriteFile(path, truncated, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := OpenGraphView(path); err == nil {
		t.Fatalf("expected OpenGraphView to reject a truncated file")
	}
}
