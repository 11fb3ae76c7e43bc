package core

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleGraph() *Graph {
	g := NewGraph(FlagDirected)
	g.AddNode(Node{ID: 1, Type: 10, Flags: 0, Data: []byte("alice")})
	g.AddNode(Node{ID: 2, Type: 10, Flags: 0, Data: []byte("bob")})
	g.AddEdge(Edge{Src: 1, Dst: 2, Type: 20, Weight: 3.5, Data: []byte("knows")})
	return g
}

// TestBinaryFormatRoundTrip covers P5: writing a graph and reading it back
// yields an equal node/edge set, for both the fixed-width and
// varint-compressed encodings.
func TestBinaryFormatRoundTrip(t *testing.T) {
	for _, flags := range []BuildFlags{0, BuildCompressVarints, BuildIndex | BuildCompressVarints} {
		g := sampleGraph()
		path := filepath.Join(t.TempDir(), "graph.cnsb")
		if err := WriteGraphFile(path, g, flags, 1000, nil); err != nil {
			t.Fatalf("WriteGraphFile(flags=%d): %v", flags, err)
		}
		got, err := ReadGraphFile(path)
		if err != nil {
			t.Fatalf("ReadGraphFile(flags=%d): %v", flags, err)
		}
		if len(got.Nodes) != len(g.Nodes) || len(got.Edges) != len(g.Edges) {
			t.Fatalf("flags=%d: node/edge count mismatch: got %d/%d, want %d/%d",
				flags, len(got.Nodes), len(got.Edges), len(g.Nodes), len(g.Edges))
		}
		for i, n := range got.Nodes {
			if n.ID != g.Nodes[i].ID || string(n.Data) != string(g.Nodes[i].Data) {
				t.Fatalf("flags=%d: node %d mismatch: got %+v, want %+v", flags, i, n, g.Nodes[i])
			}
		}
		for i, e := range got.Edges {
			if e.Src != g.Edges[i].Src || e.Dst != g.Edges[i].Dst || e.Weight != g.Edges[i].Weight {
				t.Fatalf("flags=%d: edge %d mismatch: got %+v, want %+v", flags, i, e, g.Edges[i])
			}
		}
	}
}

// TestBinaryFormatChecksumMismatchRejected covers invariant I5: a corrupted
// body is rejected rather than silently materialized.
func TestBinaryFormatChecksumMismatchRejected(t *testing.T) {
	g := sampleGraph()
	path := filepath.Join(t.TempDir(), "graph.cnsb")
	if err := WriteGraphFile(path, g, BuildCompressVarints, 1, nil); err != nil {
		t.Fatalf("WriteGraphFile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[headerSize+metadataSize] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadGraphFile(path); err == nil {
		t.Fatalf("expected a checksum mismatch error on corrupted body")
	}
}

// TestBinaryFormatSideTableRoundTrip exercises the RLP-encoded side table
// written alongside the graph body (spec.md §4.7, output artifact (d)).
func TestBinaryFormatSideTableRoundTrip(t *testing.T) {
	entries := []SideTableEntry{
		{Name: "PersonShape", TargetClass: 7, IsTransitiveProp: false, MaterializedCount: 42},
		{Name: "partOf", TargetClass: 0, IsTransitiveProp: true, MaterializedCount: 128},
	}
	sideTable, err := EncodeSideTable(entries)
	if err != nil {
		t.Fatalf("EncodeSideTable: %v", err)
	}

	g := sampleGraph()
	path := filepath.Join(t.TempDir(), "graph.cnsb")
	if err := WriteGraphFile(path, g, BuildCompressVarints, 1, sideTable); err != nil {
		t.Fatalf("WriteGraphFile: %v", err)
	}

	got, err := ReadSideTableFromFile(path)
	if err != nil {
		t.Fatalf("ReadSideTableFromFile: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("expected %d side table entries, got %d", len(entries), len(got))
	}
	for i, e := range entries {
		if got[i] != e {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], e)
		}
	}
}

// TestBinaryFormatBadMagicRejected covers scenario S5: a file with the
// wrong magic is rejected rather than partially parsed.
func TestBinaryFormatBadMagicRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cnsb")
	if err := os.WriteFile(path, make([]byte, 128), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadGraphFile(path); err == nil {
		t.Fatalf("expected an error reading a file with a zeroed (invalid) header")
	}
}
