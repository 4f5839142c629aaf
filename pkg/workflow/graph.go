// Package workflow models ComfyUI API-format job graphs: parsing, parameter
// binding, structural validation and auxiliary-node injection.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ID identifies a node within a Graph. Wire ids are decimal strings, but an ID
// is otherwise opaque; only NextID and SortIDs look at its numeric value.
type ID string

// Link is an edge reference to output Slot of node From.
type Link struct {
	From ID
	Slot int
}

// Input is a single node input: either a Link or a literal JSON value.
type Input struct {
	Link    *Link
	Literal json.RawMessage
}

// LinkTo returns an Input referencing output slot of node id.
func LinkTo(id ID, slot int) Input {
	return Input{Link: &Link{From: id, Slot: slot}}
}

// Literal returns an Input holding the JSON encoding of v.
func Literal(v any) (Input, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Input{}, fmt.Errorf("encode literal: %w", err)
	}
	return Input{Literal: raw}, nil
}

// IsLink reports whether the input references another node.
func (in Input) IsLink() bool { return in.Link != nil }

// Decode unmarshals a literal input into v.
func (in Input) Decode(v any) error {
	if in.Link != nil {
		return fmt.Errorf("input is a link to node %q, not a literal", in.Link.From)
	}
	if len(in.Literal) == 0 {
		return fmt.Errorf("input has no value")
	}
	return json.Unmarshal(in.Literal, v)
}

func (in Input) clone() Input {
	if in.Link != nil {
		l := *in.Link
		return Input{Link: &l}
	}
	if in.Literal == nil {
		return Input{}
	}
	raw := make(json.RawMessage, len(in.Literal))
	copy(raw, in.Literal)
	return Input{Literal: raw}
}

// Node is a single processing step of a job graph.
type Node struct {
	ID        ID
	ClassType string
	Title     string

	inputs map[string]Input
	order  []string
}

// NewNode creates an empty node of the given class.
func NewNode(id ID, classType string) *Node {
	return &Node{ID: id, ClassType: classType, inputs: make(map[string]Input)}
}

// Input returns the named input.
func (n *Node) Input(name string) (Input, bool) {
	in, ok := n.inputs[name]
	return in, ok
}

// SetInput sets or replaces the named input, keeping its original position.
func (n *Node) SetInput(name string, in Input) {
	if n.inputs == nil {
		n.inputs = make(map[string]Input)
	}
	if _, ok := n.inputs[name]; !ok {
		n.order = append(n.order, name)
	}
	n.inputs[name] = in
}

// InputNames returns input names in wire order.
func (n *Node) InputNames() []string {
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

// Links returns the names of inputs that reference other nodes, in wire order.
func (n *Node) Links() []string {
	var out []string
	for _, name := range n.order {
		if n.inputs[name].IsLink() {
			out = append(out, name)
		}
	}
	return out
}

func (n *Node) clone() *Node {
	c := &Node{
		ID:        n.ID,
		ClassType: n.ClassType,
		Title:     n.Title,
		inputs:    make(map[string]Input, len(n.inputs)),
		order:     make([]string, len(n.order)),
	}
	copy(c.order, n.order)
	for k, v := range n.inputs {
		c.inputs[k] = v.clone()
	}
	return c
}

// Graph is a job graph: nodes keyed by ID, kept in insertion (wire) order.
type Graph struct {
	nodes map[ID]*Node
	order []ID
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[ID]*Node)}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// Node looks up a node by id.
func (g *Graph) Node(id ID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// IDs returns node ids in graph order.
func (g *Graph) IDs() []ID {
	out := make([]ID, len(g.order))
	copy(out, g.order)
	return out
}

// Nodes returns nodes in graph order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Add inserts n at the end of the graph. Ids must be unique and non-empty.
func (g *Graph) Add(n *Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	if g.nodes == nil {
		g.nodes = make(map[ID]*Node)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// Clone returns a deep copy; mutations of either graph never affect the other.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes: make(map[ID]*Node, len(g.nodes)),
		order: make([]ID, len(g.order)),
	}
	copy(c.order, g.order)
	for id, n := range g.nodes {
		c.nodes[id] = n.clone()
	}
	return c
}

// NextID returns one more than the largest numeric node id, encoded as a
// decimal string. Non-numeric ids are ignored; an empty graph yields "1".
func (g *Graph) NextID() ID {
	var maxID int64
	for _, id := range g.order {
		if n, ok := numericID(id); ok && n > maxID {
			maxID = n
		}
	}
	return ID(strconv.FormatInt(maxID+1, 10))
}

// Consumer identifies a node input that references a producer.
type Consumer struct {
	Node  ID
	Input string
	Slot  int
}

// Consumers returns every input in the graph that links to producer id.
func (g *Graph) Consumers(id ID) []Consumer {
	var out []Consumer
	for _, n := range g.Nodes() {
		for _, name := range n.Links() {
			l := n.inputs[name].Link
			if l.From == id {
				out = append(out, Consumer{Node: n.ID, Input: name, Slot: l.Slot})
			}
		}
	}
	return out
}

func numericID(id ID) (int64, bool) {
	s := string(id)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortIDs orders ids numerically where both are numeric, numeric before
// non-numeric, and lexically otherwise.
func SortIDs(ids []ID) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, aok := numericID(ids[i])
		b, bok := numericID(ids[j])
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return ids[i] < ids[j]
		}
	})
}
