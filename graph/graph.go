package graph

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Node types. A node's identity is its (type, key) pair: document name,
// chunk id, rule id, element name or entity name.
const (
	NodeDocument = "document"
	NodeChunk    = "chunk"
	NodeRule     = "rule"
	NodeElement  = "element"
	NodeEntity   = "entity"
)

// Edge types.
const (
	EdgeHasChunk     = "HAS_CHUNK"     // Document -> Chunk
	EdgeContainsRule = "contains_rule" // Chunk -> Rule
	EdgeAppliesTo    = "applies_to"    // Rule -> Element
	EdgeMentions     = "MENTIONS"      // Chunk -> Entity
)

// Chunk is an immutable unit of source text, created at ingestion time and
// read-only to the graph layer.
type Chunk struct {
	ID       string `json:"id"`
	Document string `json:"document"`
	Text     string `json:"text"`
}

// Node is a typed graph node with arbitrary attributes.
type Node struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"`
	Key   string            `json:"key"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Edge is a directed typed edge between two nodes.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Graph is an in-process directed multigraph with merge-or-create semantics.
// Node identity is (type, key); an edge is unique per (source, target, type),
// so rebuilding from the same input never grows the graph.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]*Edge
	edgeOrder []string
	outEdges  map[string][]string
	inEdges   map[string][]string
	logger    *zap.Logger
}

// New creates an empty graph.
func New(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		outEdges: make(map[string][]string),
		inEdges:  make(map[string][]string),
		logger:   logger.With(zap.String("component", "graph")),
	}
}

// NodeID returns the canonical node identifier for a (type, key) pair.
func NodeID(nodeType, key string) string {
	return nodeType + ":" + key
}

func edgeID(source, target, edgeType string) string {
	return source + "|" + edgeType + "|" + target
}

// MergeNode adds a node or returns the existing one. Attributes given on a
// later merge fill in keys the existing node does not have yet; they never
// overwrite, matching MERGE ... ON CREATE semantics.
func (g *Graph) MergeNode(nodeType, key string, attrs map[string]string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := NodeID(nodeType, key)
	if n, ok := g.nodes[id]; ok {
		for k, v := range attrs {
			if _, exists := n.Attrs[k]; !exists {
				if n.Attrs == nil {
					n.Attrs = make(map[string]string)
				}
				n.Attrs[k] = v
			}
		}
		return n
	}

	n := &Node{ID: id, Type: nodeType, Key: key}
	if len(attrs) > 0 {
		n.Attrs = make(map[string]string, len(attrs))
		for k, v := range attrs {
			n.Attrs[k] = v
		}
	}
	g.nodes[id] = n
	g.nodeOrder = append(g.nodeOrder, id)
	return n
}

// MergeEdge links source to target, creating either end's adjacency entry
// exactly once. Duplicate (source, target, type) triples are no-ops.
func (g *Graph) MergeEdge(source, target, edgeType string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := edgeID(source, target, edgeType)
	if _, ok := g.edges[id]; ok {
		return
	}

	e := &Edge{Source: source, Target: target, Type: edgeType}
	g.edges[id] = e
	g.edgeOrder = append(g.edgeOrder, id)
	g.outEdges[source] = append(g.outEdges[source], id)
	g.inEdges[target] = append(g.inEdges[target], id)
}

// GetNode retrieves a node by (type, key).
func (g *Graph) GetNode(nodeType, key string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[NodeID(nodeType, key)]
	return n, ok
}

// NodesByType returns nodes of one type in insertion order. Insertion order
// is what makes query results deterministic across identical rebuilds.
func (g *Graph) NodesByType(nodeType string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	for _, id := range g.nodeOrder {
		if n := g.nodes[id]; n.Type == nodeType {
			out = append(out, n)
		}
	}
	return out
}

// Targets returns the nodes reachable from source over edges of the given
// type, in edge insertion order.
func (g *Graph) Targets(sourceID, edgeType string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	for _, eid := range g.outEdges[sourceID] {
		e := g.edges[eid]
		if e.Type == edgeType {
			if n, ok := g.nodes[e.Target]; ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// Sources returns the nodes with an edge of the given type into target,
// in edge insertion order.
func (g *Graph) Sources(targetID, edgeType string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	for _, eid := range g.inEdges[targetID] {
		e := g.edges[eid]
		if e.Type == edgeType {
			if n, ok := g.nodes[e.Source]; ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// HasEdge reports whether the exact (source, target, type) triple exists.
func (g *Graph) HasEdge(source, target, edgeType string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[edgeID(source, target, edgeType)]
	return ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Stats returns a one-line summary suitable for logging.
func (g *Graph) Stats() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	byType := make(map[string]int)
	for _, n := range g.nodes {
		byType[n.Type]++
	}
	return fmt.Sprintf("nodes=%d edges=%d documents=%d chunks=%d rules=%d elements=%d entities=%d",
		len(g.nodes), len(g.edges),
		byType[NodeDocument], byType[NodeChunk], byType[NodeRule], byType[NodeElement], byType[NodeEntity])
}
