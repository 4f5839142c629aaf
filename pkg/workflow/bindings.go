package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
)

// SeedParam is the parameter whose value -1 means "pick a random seed".
const SeedParam = "seed"

// randomSeed returns a seed in [0, 2^31). Replaced in tests.
var randomSeed = func() int64 { return rand.Int64N(1 << 31) }

// Target is a single (node, input) location a parameter is written to.
type Target struct {
	Node  ID     `json:"node"`
	Input string `json:"input"`
}

// UnmarshalJSON accepts the node id as either a JSON string or a number.
func (t *Target) UnmarshalJSON(data []byte) error {
	var raw struct {
		Node  json.RawMessage `json:"node"`
		Input string          `json:"input"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Input = raw.Input
	t.Node = ""
	if len(raw.Node) == 0 || string(raw.Node) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Node, &s); err == nil {
		t.Node = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.Node, &n); err != nil {
		return fmt.Errorf("binding target node must be a string or number: %s", raw.Node)
	}
	t.Node = ID(n.String())
	return nil
}

// Bindings maps named parameters onto template node inputs.
type Bindings struct {
	Map      map[string][]Target `json:"map"`
	Defaults map[string]any      `json:"defaults,omitempty"`
	Disabled bool                `json:"disabled,omitempty"`
	Note     string              `json:"note,omitempty"`
}

// Params returns the bound parameter names in sorted order.
func (b *Bindings) Params() []string {
	out := make([]string, 0, len(b.Map))
	for p := range b.Map {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Apply returns a copy of template with every bound parameter written to its
// targets. Caller values win over defaults. A nil caller value is unset; a
// nil or "" default is not applied. The
// template is never modified and no nodes are added or removed.
func (b *Bindings) Apply(template *Graph, values map[string]any) (*Graph, error) {
	if b.Disabled {
		return nil, &DisabledError{Note: b.Note}
	}
	g := template.Clone()

	for _, param := range b.Params() {
		targets := b.Map[param]
		if len(targets) == 0 {
			continue
		}
		value, ok := effectiveValue(values[param], b.Defaults[param])
		if !ok {
			continue
		}
		if param == SeedParam && isRandomSeed(value) {
			value = randomSeed()
		}
		in, err := Literal(value)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", param, err)
		}
		for _, t := range targets {
			if t.Node == "" || t.Input == "" {
				continue
			}
			n, ok := g.Node(t.Node)
			if !ok {
				return nil, &BindingTargetMissingError{Param: param, Node: t.Node}
			}
			n.SetInput(t.Input, in.clone())
		}
	}
	return g, nil
}

func effectiveValue(caller, def any) (any, bool) {
	if caller != nil {
		return caller, true
	}
	if usableDefault(def) {
		return def, true
	}
	return nil, false
}

func usableDefault(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	}
	return true
}

func isRandomSeed(v any) bool {
	switch x := v.(type) {
	case int:
		return x == -1
	case int32:
		return x == -1
	case int64:
		return x == -1
	case float64:
		return x == -1
	case json.Number:
		n, err := x.Int64()
		return err == nil && n == -1
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return err == nil && n == -1
	}
	return false
}

// DecodeBindings parses a JSON binding table. Numbers in defaults are kept as
// json.Number so integers round-trip unchanged.
func DecodeBindings(data []byte) (*Bindings, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var b Bindings
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bindings: %w", err)
	}
	return &b, nil
}
