package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// ParseGraph decodes an API-format job graph. Node and input order follow the
// document. An input is treated as a link only when it is a two-element array
// of a string id and an integer slot; anything else is kept verbatim.
func ParseGraph(data []byte) (*Graph, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse graph: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("parse graph: top level must be an object of nodes")
	}

	g := NewGraph()
	var perr error
	root.ForEach(func(key, value gjson.Result) bool {
		n, err := parseNode(ID(key.String()), value)
		if err != nil {
			perr = err
			return false
		}
		if err := g.Add(n); err != nil {
			perr = fmt.Errorf("parse graph: %w", err)
			return false
		}
		return true
	})
	if perr != nil {
		return nil, perr
	}
	return g, nil
}

func parseNode(id ID, v gjson.Result) (*Node, error) {
	if !v.IsObject() {
		return nil, fmt.Errorf("parse graph: node %q is not an object", id)
	}
	ct := v.Get("class_type")
	if ct.Type != gjson.String {
		return nil, fmt.Errorf("parse graph: node %q has no class_type", id)
	}
	n := NewNode(id, ct.String())
	n.Title = v.Get("_meta.title").String()

	inputs := v.Get("inputs")
	if inputs.Exists() && !inputs.IsObject() {
		return nil, fmt.Errorf("parse graph: node %q inputs is not an object", id)
	}
	inputs.ForEach(func(name, val gjson.Result) bool {
		n.SetInput(name.String(), parseInput(val))
		return true
	})
	return n, nil
}

func parseInput(v gjson.Result) Input {
	if v.IsArray() {
		elems := v.Array()
		if len(elems) == 2 && elems[0].Type == gjson.String && isInteger(elems[1]) {
			return LinkTo(ID(elems[0].String()), int(elems[1].Int()))
		}
	}
	return Input{Literal: json.RawMessage(v.Raw)}
}

func isInteger(v gjson.Result) bool {
	if v.Type != gjson.Number {
		return false
	}
	return float64(v.Int()) == v.Float()
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Graph) UnmarshalJSON(data []byte) error {
	parsed, err := ParseGraph(data)
	if err != nil {
		return err
	}
	*g = *parsed
	return nil
}

// MarshalJSON encodes the graph in API format, preserving node and input order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range g.Nodes() {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, string(n.ID))
		buf.WriteByte(':')
		if err := n.encode(&buf); err != nil {
			return nil, fmt.Errorf("encode node %q: %w", n.ID, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	buf.WriteString(`{"inputs":{`)
	for i, name := range n.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, name)
		buf.WriteByte(':')
		in := n.inputs[name]
		switch {
		case in.Link != nil:
			buf.WriteByte('[')
			writeString(buf, string(in.Link.From))
			fmt.Fprintf(buf, ",%d]", in.Link.Slot)
		case len(in.Literal) == 0:
			buf.WriteString("null")
		default:
			if !json.Valid(in.Literal) {
				return fmt.Errorf("input %q holds invalid JSON", name)
			}
			buf.Write(in.Literal)
		}
	}
	buf.WriteString(`},"class_type":`)
	writeString(buf, n.ClassType)
	if n.Title != "" {
		buf.WriteString(`,"_meta":{"title":`)
		writeString(buf, n.Title)
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
