package graph

import "fmt"

// CallGraphVertex is a function in a CallGraph: its address, names, and
// whether it is classified as a library function (imported, or matched
// against a library signature set) rather than user code.
type CallGraphVertex struct {
	Address       Address
	Name          string
	DemangledName string
	IsLibrary     bool

	// FlowGraph is nil for vertices we only know about as call targets
	// (e.g. imports, or functions BinDiff's disassembly pass never
	// reached) but non-nil once the full flow graph has been ingested.
	FlowGraph *FlowGraph
}

// GoodName returns the demangled name if available, the raw name otherwise.
func (v *CallGraphVertex) GoodName() string {
	if v.DemangledName != "" {
		return v.DemangledName
	}
	return v.Name
}

// CallGraph is the set of functions in one binary, sorted by address, plus
// the call edges between them.
type CallGraph struct {
	vertices []CallGraphVertex
	edges    []CallGraphEdge
	out      [][]int
	in       [][]int
}

// CallGraphEdge is a directed call from one function to another, identified
// by vertex index within the owning CallGraph.
type CallGraphEdge struct {
	Source int
	Target int
}

// NewCallGraph builds a CallGraph from vertices sorted by address and the
// call edges between them.
func NewCallGraph(vertices []CallGraphVertex, edges []CallGraphEdge) (*CallGraph, error) {
	addrs := make([]Address, len(vertices))
	for i, v := range vertices {
		addrs[i] = v.Address
	}
	if !IsSorted(addrs) {
		return nil, fmt.Errorf("graph: call graph vertices are not address-sorted")
	}
	cg := &CallGraph{vertices: vertices, edges: edges}
	cg.out = make([][]int, len(vertices))
	cg.in = make([][]int, len(vertices))
	for i, e := range edges {
		if e.Source < 0 || e.Source >= len(vertices) || e.Target < 0 || e.Target >= len(vertices) {
			continue
		}
		cg.out[e.Source] = append(cg.out[e.Source], i)
		cg.in[e.Target] = append(cg.in[e.Target], i)
	}
	for i := range cg.vertices {
		if cg.vertices[i].FlowGraph != nil {
			cg.vertices[i].FlowGraph.SetCallGraph(cg)
			cg.vertices[i].FlowGraph.SetCallGraphVertex(i)
		}
	}
	return cg, nil
}

func (c *CallGraph) VertexCount() int                 { return len(c.vertices) }
func (c *CallGraph) Vertex(v int) *CallGraphVertex    { return &c.vertices[v] }
func (c *CallGraph) Vertices() []CallGraphVertex       { return c.vertices }
func (c *CallGraph) OutEdges(v int) []int             { return c.out[v] }
func (c *CallGraph) InEdges(v int) []int              { return c.in[v] }
func (c *CallGraph) Edges() []CallGraphEdge            { return c.edges }

// GetVertex does an O(log n) binary search for the function at address.
func (c *CallGraph) GetVertex(address Address) int {
	lo, hi := 0, len(c.vertices)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.vertices[mid].Address < address {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(c.vertices) && c.vertices[lo].Address == address {
		return lo
	}
	return -1
}

// CallersOf and CalleesOf return the indices of adjacent vertices, used by
// the call-graph-neighborhood matching step discriminator.
func (c *CallGraph) CalleesOf(v int) []int {
	out := make([]int, 0, len(c.out[v]))
	for _, ei := range c.out[v] {
		out = append(out, c.edges[ei].Target)
	}
	return out
}

func (c *CallGraph) CallersOf(v int) []int {
	out := make([]int, 0, len(c.in[v]))
	for _, ei := range c.in[v] {
		out = append(out, c.edges[ei].Source)
	}
	return out
}
