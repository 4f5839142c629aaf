package workflow

import (
	"errors"
	"fmt"
	"io/fs"
)

// Template is an immutable job graph paired with its binding table.
type Template struct {
	Family   string
	Bindings *Bindings

	graph *Graph
}

// NewTemplate wraps g and b. The graph is copied, so later changes to g do not
// leak into the template.
func NewTemplate(family string, g *Graph, b *Bindings) *Template {
	if b == nil {
		b = &Bindings{}
	}
	return &Template{Family: family, Bindings: b, graph: g.Clone()}
}

// bindingsExts lists the binding table suffixes tried, in order.
var bindingsExts = []string{".bindings.json", ".bindings.yaml", ".bindings.yml"}

// LoadTemplate reads <family>.json and its binding table from fsys.
func LoadTemplate(fsys fs.FS, family string) (*Template, error) {
	data, err := fs.ReadFile(fsys, family+".json")
	if err != nil {
		return nil, fmt.Errorf("load template %q: %w", family, err)
	}
	g, err := ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("load template %q: %w", family, err)
	}

	var b *Bindings
	for _, ext := range bindingsExts {
		raw, err := fs.ReadFile(fsys, family+ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load template %q: %w", family, err)
		}
		if b, err = ParseBindings(raw); err != nil {
			return nil, fmt.Errorf("load template %q: %s: %w", family, family+ext, err)
		}
		break
	}
	if b == nil {
		return nil, fmt.Errorf("load template %q: no binding table found", family)
	}
	return &Template{Family: family, Bindings: b, graph: g}, nil
}

// Graph returns a copy of the unbound template graph.
func (t *Template) Graph() *Graph { return t.graph.Clone() }

// Bind applies values through the template's binding table.
func (t *Template) Bind(values map[string]any) (*Graph, error) {
	g, err := t.Bindings.Apply(t.graph, values)
	if err != nil {
		var de *DisabledError
		if errors.As(err, &de) {
			de.Family = t.Family
		}
		return nil, err
	}
	return g, nil
}

// Lint validates the template graph and checks that every binding target
// names an existing node.
func (t *Template) Lint(slots SlotTable) []LintError {
	errs := Validate(t.graph, slots)
	for _, p := range t.Bindings.Params() {
		for _, target := range t.Bindings.Map[p] {
			if target.Node == "" || target.Input == "" {
				errs = append(errs, LintError{Message: fmt.Sprintf("binding %q has an incomplete target", p)})
				continue
			}
			if _, ok := t.graph.Node(target.Node); !ok {
				errs = append(errs, LintError{NodeID: target.Node, Message: fmt.Sprintf("binding %q targets missing node", p)})
			}
		}
	}
	return errs
}
