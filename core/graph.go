package core

// GraphFlags carry graph-level characteristics (spec.md §3).
type GraphFlags uint32

const (
	FlagDirected GraphFlags = 1 << iota
	FlagWeighted
	FlagCompressed
)

// BuildFlags select writer-time encoding choices (spec.md §6); named but
// left unspecified by spec.md beyond their presence, resolved concretely
// here per SPEC_FULL.md's C7 expansion.
type BuildFlags uint32

const (
	BuildCompressVarints BuildFlags = 1 << iota
	BuildIndex
)

// Node is one graph vertex (spec.md §3): an identifier, a type tag,
// flags, and an opaque data blob (e.g. an interned IRI or literal).
type Node struct {
	ID    uint64
	Type  uint32
	Flags uint32
	Data  []byte
}

// Edge is one graph arc (spec.md §3): source/destination node ids, a type
// tag, a weight, flags, and an opaque data blob.
type Edge struct {
	Src, Dst uint64
	Type     uint32
	Weight   float64
	Flags    uint32
	Data     []byte
}

// Graph is the in-memory node/edge representation C7 serializes (spec.md
// §3). Nodes and edges are stored in insertion order; AddEdge does not
// require Dst to already exist as a Node so that a Graph can be built
// incrementally during compilation.
type Graph struct {
	Flags GraphFlags
	Nodes []Node
	Edges []Edge
}

// NewGraph creates an empty graph with the given flags.
func NewGraph(flags GraphFlags) *Graph {
	return &Graph{Flags: flags}
}

// AddNode appends a node and returns its index.
func (g *Graph) AddNode(n Node) int {
	g.Nodes = append(g.Nodes, n)
	return len(g.Nodes) - 1
}

// AddEdge appends an edge and returns its index.
func (g *Graph) AddEdge(e Edge) int {
	g.Edges = append(g.Edges, e)
	return len(g.Edges) - 1
}

// OutDegree and InDegree count edges per node id, used to populate the
// node index's degree fields (spec.md §3, node index entries).
func (g *Graph) OutDegree(id uint64) uint32 {
	var n uint32
	for _, e := range g.Edges {
		if e.Src == id {
			n++
		}
	}
	return n
}

func (g *Graph) InDegree(id uint64) uint32 {
	var n uint32
	for _, e := range g.Edges {
		if e.Dst == id {
			n++
		}
	}
	return n
}
