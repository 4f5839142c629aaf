package workflow

import (
	"fmt"
	"strconv"

	gographviz "github.com/awalterschulze/gographviz"
)

// TopoOrder returns node ids with producers before consumers. Ties keep
// numeric id order. Nodes caught in a cycle are appended at the end.
func TopoOrder(g *Graph) []ID {
	indeg := make(map[ID]int, g.Len())
	users := make(map[ID][]ID)
	for _, n := range g.Nodes() {
		seen := map[ID]bool{}
		for _, name := range n.Links() {
			from := n.inputs[name].Link.From
			if _, ok := g.Node(from); !ok || seen[from] {
				continue
			}
			seen[from] = true
			indeg[n.ID]++
			users[from] = append(users[from], n.ID)
		}
	}

	var ready []ID
	for _, id := range g.order {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	SortIDs(ready)

	order := make([]ID, 0, g.Len())
	done := map[ID]bool{}
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		done[cur] = true
		var next []ID
		for _, u := range users[cur] {
			indeg[u]--
			if indeg[u] == 0 {
				next = append(next, u)
			}
		}
		ready = append(ready, next...)
		SortIDs(ready)
	}

	var rest []ID
	for _, id := range g.order {
		if !done[id] {
			rest = append(rest, id)
		}
	}
	SortIDs(rest)
	return append(order, rest...)
}

// RenderDOT renders g as a Graphviz digraph. Nodes are labelled with their
// id, class and title; edges with "slot→input".
func RenderDOT(g *Graph, name string) (string, error) {
	if name == "" {
		name = "workflow"
	}
	gv := gographviz.NewGraph()
	if err := gv.SetName(strconv.Quote(name)); err != nil {
		return "", fmt.Errorf("render dot: %w", err)
	}
	if err := gv.SetDir(true); err != nil {
		return "", fmt.Errorf("render dot: %w", err)
	}
	graphName := strconv.Quote(name)

	for _, id := range TopoOrder(g) {
		n, _ := g.Node(id)
		label := fmt.Sprintf("%s: %s", n.ID, n.ClassType)
		if n.Title != "" {
			label += "\n" + n.Title
		}
		attrs := map[string]string{
			"label": strconv.Quote(label),
			"shape": "box",
		}
		if err := gv.AddNode(graphName, strconv.Quote(string(n.ID)), attrs); err != nil {
			return "", fmt.Errorf("render dot: node %q: %w", n.ID, err)
		}
	}

	for _, id := range TopoOrder(g) {
		n, _ := g.Node(id)
		for _, input := range n.Links() {
			l := n.inputs[input].Link
			if _, ok := g.Node(l.From); !ok {
				continue
			}
			attrs := map[string]string{
				"label": strconv.Quote(fmt.Sprintf("%d→%s", l.Slot, input)),
			}
			if err := gv.AddEdge(strconv.Quote(string(l.From)), strconv.Quote(string(n.ID)), true, attrs); err != nil {
				return "", fmt.Errorf("render dot: edge %s->%s: %w", l.From, n.ID, err)
			}
		}
	}
	return gv.String(), nil
}
