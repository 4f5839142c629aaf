package workflow

import (
	"fmt"
	"math"
	"strings"
)

// Rewire points a consumer input at one of the auxiliary node's outputs.
type Rewire struct {
	Node  ID
	Input string
	Slot  int
}

// Adapter describes how to splice an auxiliary node (for example a LoRA
// loader) between a source node and its consumers.
type Adapter struct {
	ClassType      string
	Title          string
	ResourceInput  string
	StrengthInputs [2]string
	// Source is the node whose outputs the auxiliary node takes over.
	Source      ID
	SourceSlots [2]int
	// ForwardInputs are the auxiliary inputs wired to Source's slots.
	ForwardInputs [2]string
	Rewires       []Rewire
}

// SDBasicLoRA splices a LoraLoader between the checkpoint loader (4) and the
// sampler (3) and both text encoders (6, 7) of the sd_basic workflow.
var SDBasicLoRA = Adapter{
	ClassType:      "LoraLoader",
	Title:          "Load LoRA",
	ResourceInput:  "lora_name",
	StrengthInputs: [2]string{"strength_model", "strength_clip"},
	Source:         "4",
	SourceSlots:    [2]int{0, 1},
	ForwardInputs:  [2]string{"model", "clip"},
	Rewires: []Rewire{
		{Node: "3", Input: "model", Slot: 0},
		{Node: "6", Input: "clip", Slot: 1},
		{Node: "7", Input: "clip", Slot: 1},
	},
}

// Anchors returns the node ids that must exist for Inject to succeed.
func (a Adapter) Anchors() []ID {
	out := []ID{a.Source}
	seen := map[ID]bool{a.Source: true}
	for _, r := range a.Rewires {
		if !seen[r.Node] {
			seen[r.Node] = true
			out = append(out, r.Node)
		}
	}
	SortIDs(out)
	return out
}

// Inject returns a copy of g with a new auxiliary node loading resource at the
// given strengths. Non-finite strengths default to 1.0. Only the inputs listed
// in Rewires are redirected; every other edge is left as it was.
func (a Adapter) Inject(g *Graph, resource string, strengthA, strengthB float64) (*Graph, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, fmt.Errorf("inject %s: resource name must not be empty", a.ClassType)
	}
	for _, id := range a.Anchors() {
		if _, ok := g.Node(id); !ok {
			return nil, &GraphValidationError{Anchor: id, Reason: fmt.Sprintf("required by %s injection but not present", a.ClassType)}
		}
	}

	out := g.Clone()
	aux := NewNode(out.NextID(), a.ClassType)
	aux.Title = a.Title

	name, err := Literal(resource)
	if err != nil {
		return nil, err
	}
	aux.SetInput(a.ResourceInput, name)
	for i, s := range [2]float64{strengthA, strengthB} {
		in, err := Literal(finiteOr(s, 1.0))
		if err != nil {
			return nil, err
		}
		aux.SetInput(a.StrengthInputs[i], in)
	}
	for i, input := range a.ForwardInputs {
		aux.SetInput(input, LinkTo(a.Source, a.SourceSlots[i]))
	}
	if err := out.Add(aux); err != nil {
		return nil, fmt.Errorf("inject %s: %w", a.ClassType, err)
	}

	for _, r := range a.Rewires {
		n, _ := out.Node(r.Node)
		n.SetInput(r.Input, LinkTo(aux.ID, r.Slot))
	}
	return out, nil
}

func finiteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
