package graph

import (
	"encoding/json"
	"fmt"
	"os"
)

// nodeLinkDoc is the file-backed graph form: a mapping with a list of typed
// nodes and a list of directed links. It is the ephemeral alternative to the
// durable graph database backing.
type nodeLinkDoc struct {
	Directed bool           `json:"directed"`
	Nodes    []nodeLinkNode `json:"nodes"`
	Links    []Edge         `json:"links"`
}

type nodeLinkNode struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"`
	Key   string            `json:"key"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// MarshalNodeLink serializes the graph as a node-link document. Nodes and
// links are emitted in insertion order, so identical builds serialize
// identically.
func MarshalNodeLink(g *Graph) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := nodeLinkDoc{Directed: true}
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		doc.Nodes = append(doc.Nodes, nodeLinkNode{ID: n.ID, Type: n.Type, Key: n.Key, Attrs: n.Attrs})
	}
	for _, id := range g.edgeOrder {
		doc.Links = append(doc.Links, *g.edges[id])
	}

	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalNodeLink rebuilds a graph from a node-link document. Links that
// reference unknown nodes are a data-integrity error.
func UnmarshalNodeLink(data []byte) (*Graph, error) {
	var doc nodeLinkDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse node-link document: %w", err)
	}

	g := New(nil)
	for _, n := range doc.Nodes {
		if n.Type == "" || n.Key == "" {
			return nil, fmt.Errorf("node %q missing type or key", n.ID)
		}
		g.MergeNode(n.Type, n.Key, n.Attrs)
	}
	for _, e := range doc.Links {
		g.mu.RLock()
		_, srcOK := g.nodes[e.Source]
		_, dstOK := g.nodes[e.Target]
		g.mu.RUnlock()
		if !srcOK || !dstOK {
			return nil, fmt.Errorf("link %s-[%s]->%s references unknown node", e.Source, e.Type, e.Target)
		}
		g.MergeEdge(e.Source, e.Target, e.Type)
	}
	return g, nil
}

// WriteFile exports the graph to a node-link JSON file.
func WriteFile(g *Graph, path string) error {
	data, err := MarshalNodeLink(g)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile loads a graph from a node-link JSON file.
func ReadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalNodeLink(data)
}
