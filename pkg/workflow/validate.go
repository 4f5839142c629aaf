package workflow

import (
	"fmt"
	"strings"
)

// LintError describes a structural problem in a job graph.
type LintError struct {
	NodeID  ID
	Input   string
	Message string
}

func (e LintError) Error() string {
	switch {
	case e.NodeID != "" && e.Input != "":
		return fmt.Sprintf("node %q input %q: %s", e.NodeID, e.Input, e.Message)
	case e.NodeID != "":
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// SlotTable maps a class type to its number of output slots.
type SlotTable map[string]int

// DefaultSlots covers the stock node classes used by the bundled workflows.
var DefaultSlots = SlotTable{
	"CheckpointLoaderSimple": 3,
	"LoraLoader":             2,
	"KSampler":               1,
	"CLIPTextEncode":         1,
	"VAEDecode":              1,
	"VAEEncode":              1,
	"EmptyLatentImage":       1,
	"LoadImage":              2,
	"SaveImage":              0,
	"PreviewImage":           0,
}

// Validate checks a graph for structural correctness and returns every problem
// found. Links must resolve to an existing node and to an output slot the
// producer's class has; classes missing from slots only need slot >= 0.
func Validate(g *Graph, slots SlotTable) []LintError {
	var errs []LintError
	if g.Len() == 0 {
		return []LintError{{Message: "graph has no nodes"}}
	}

	for _, n := range g.Nodes() {
		if strings.TrimSpace(n.ClassType) == "" {
			errs = append(errs, LintError{NodeID: n.ID, Message: "missing class_type"})
		}
		for _, name := range n.Links() {
			l := n.inputs[name].Link
			producer, ok := g.Node(l.From)
			if !ok {
				errs = append(errs, LintError{NodeID: n.ID, Input: name, Message: fmt.Sprintf("references unknown node %q", l.From)})
				continue
			}
			if l.Slot < 0 {
				errs = append(errs, LintError{NodeID: n.ID, Input: name, Message: fmt.Sprintf("negative output slot %d", l.Slot)})
				continue
			}
			if count, known := slots[producer.ClassType]; known && l.Slot >= count {
				errs = append(errs, LintError{
					NodeID:  n.ID,
					Input:   name,
					Message: fmt.Sprintf("slot %d out of range for %s (has %d outputs)", l.Slot, producer.ClassType, count),
				})
			}
		}
	}

	if cyc := findCycle(g); len(cyc) > 0 {
		parts := make([]string, len(cyc))
		for i, id := range cyc {
			parts[i] = string(id)
		}
		errs = append(errs, LintError{NodeID: cyc[0], Message: "cycle: " + strings.Join(parts, " -> ")})
	}
	return errs
}

// ValidateErr calls Validate and returns nil if there are no errors, or a
// combined error listing all lint errors.
func ValidateErr(g *Graph, slots SlotTable) error {
	errs := Validate(g, slots)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("graph validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// findCycle returns one dependency cycle (closed: first == last) or nil.
func findCycle(g *Graph) []ID {
	const (
		white = iota
		grey
		black
	)
	color := make(map[ID]int, g.Len())
	var stack []ID
	var found []ID

	var visit func(id ID) bool
	visit = func(id ID) bool {
		color[id] = grey
		stack = append(stack, id)
		n, _ := g.Node(id)
		for _, name := range n.Links() {
			dep := n.inputs[name].Link.From
			if _, ok := g.Node(dep); !ok {
				continue
			}
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						found = append(append([]ID{}, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return found
		}
	}
	return nil
}
