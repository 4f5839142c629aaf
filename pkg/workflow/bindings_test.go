package workflow_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/ravi-parthasarathy/comfyflow/pkg/workflow"
	"github.com/ravi-parthasarathy/comfyflow/workflows"
)

func loadSDBasic(t *testing.T) *workflow.Template {
	t.Helper()
	tpl, err := workflow.LoadTemplate(workflows.FS, workflows.DefaultFamily)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	return tpl
}

func literalOf[T any](t *testing.T, g *workflow.Graph, id workflow.ID, input string) T {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("node %q missing", id)
	}
	in, ok := n.Input(input)
	if !ok {
		t.Fatalf("node %q has no input %q", id, input)
	}
	var v T
	if err := in.Decode(&v); err != nil {
		t.Fatalf("decode %s.%s: %v", id, input, err)
	}
	return v
}

func linkOf(t *testing.T, g *workflow.Graph, id workflow.ID, input string) workflow.Link {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("node %q missing", id)
	}
	in, _ := n.Input(input)
	if !in.IsLink() {
		t.Fatalf("%s.%s is not a link", id, input)
	}
	return *in.Link
}

// ─── Binding ──────────────────────────────────────────────────────────────────

func TestApply_SetsEveryTarget(t *testing.T) {
	t.Parallel()
	tpl := loadSDBasic(t)
	g, err := tpl.Bind(map[string]any{
		"prompt":   "a cat in a hat",
		"seed":     42,
		"steps":    30,
		"cfgScale": 6.5,
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := literalOf[string](t, g, "6", "text"); got != "a cat in a hat" {
		t.Errorf("prompt = %q, want %q", got, "a cat in a hat")
	}
	if got := literalOf[int64](t, g, "3", "seed"); got != 42 {
		t.Errorf("seed = %d, want 42", got)
	}
	if got := literalOf[int](t, g, "3", "steps"); got != 30 {
		t.Errorf("steps = %d, want 30", got)
	}
	if got := literalOf[float64](t, g, "3", "cfg"); got != 6.5 {
		t.Errorf("cfg = %v, want 6.5", got)
	}
	// defaults fill unset params
	if got := literalOf[int](t, g, "5", "width"); got != 512 {
		t.Errorf("width = %d, want 512", got)
	}
	if g.Len() != tpl.Graph().Len() {
		t.Errorf("binding changed node count: %d vs %d", g.Len(), tpl.Graph().Len())
	}
}

func TestApply_TemplateUntouched(t *testing.T) {
	t.Parallel()
	tpl := loadSDBasic(t)
	before, _ := json.Marshal(tpl.Graph())
	if _, err := tpl.Bind(map[string]any{"prompt": "changed", "seed": 1}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	after, _ := json.Marshal(tpl.Graph())
	if string(before) != string(after) {
		t.Error("template graph was mutated by Bind")
	}
}

func TestApply_NullDefaultKeepsTemplateValue(t *testing.T) {
	t.Parallel()
	tpl := loadSDBasic(t)
	g, err := tpl.Bind(map[string]any{"seed": 1})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := literalOf[string](t, g, "3", "sampler_name"); got != "euler" {
		t.Errorf("sampler_name = %q, want template value %q", got, "euler")
	}

	g, err = tpl.Bind(map[string]any{"seed": 1, "samplerName": "dpmpp_2m"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := literalOf[string](t, g, "3", "sampler_name"); got != "dpmpp_2m" {
		t.Errorf("sampler_name = %q, want %q", got, "dpmpp_2m")
	}
}

func TestApply_EmptyString(t *testing.T) {
	t.Parallel()
	b := &workflow.Bindings{
		Map:      map[string][]workflow.Target{"prompt": {{Node: "6", Input: "text"}}},
		Defaults: map[string]any{"prompt": "fallback"},
	}
	g, err := b.Apply(mustParse(t, tinyGraph), map[string]any{"prompt": ""})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := literalOf[string](t, g, "6", "text"); got != "" {
		t.Errorf("text = %q, want caller value %q", got, "")
	}

	g, err = b.Apply(mustParse(t, tinyGraph), map[string]any{"prompt": nil})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := literalOf[string](t, g, "6", "text"); got != "fallback" {
		t.Errorf("text = %q, want default %q", got, "fallback")
	}

	b.Defaults["prompt"] = ""
	g, err = b.Apply(mustParse(t, tinyGraph), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := literalOf[string](t, g, "6", "text"); got != "hello" {
		t.Errorf("text = %q, want template value %q", got, "hello")
	}
}

func TestApply_ClearsNegativePrompt(t *testing.T) {
	t.Parallel()
	tpl := loadSDBasic(t)
	g, err := tpl.Bind(map[string]any{"negativePrompt": ""})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := literalOf[string](t, g, "7", "text"); got != "" {
		t.Errorf("got %q, want %q", got, "")
	}

	g, err = tpl.Bind(nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := literalOf[string](t, g, "7", "text"); got != "blurry, low quality" {
		t.Errorf("got %q, want template value %q", got, "blurry, low quality")
	}
}

func TestApply_RandomSeed(t *testing.T) {
	restore := workflow.StubRandomSeed(123456)
	defer restore()

	tpl := loadSDBasic(t)
	for _, seed := range []any{-1, "-1", json.Number("-1"), float64(-1)} {
		g, err := tpl.Bind(map[string]any{"seed": seed})
		if err != nil {
			t.Fatalf("Bind(%v): %v", seed, err)
		}
		if got := literalOf[int64](t, g, "3", "seed"); got != 123456 {
			t.Errorf("seed %v -> %d, want 123456", seed, got)
		}
	}
	// default seed is -1 too
	g, err := tpl.Bind(nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := literalOf[int64](t, g, "3", "seed"); got != 123456 {
		t.Errorf("default seed -> %d, want 123456", got)
	}
}

func TestApply_RandomSeedRange(t *testing.T) {
	t.Parallel()
	b := &workflow.Bindings{Map: map[string][]workflow.Target{"seed": {{Node: "3", Input: "seed"}}}}
	for range 50 {
		g, err := b.Apply(mustParse(t, tinyGraph), map[string]any{"seed": -1})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		got := literalOf[int64](t, g, "3", "seed")
		if got < 0 || got >= 1<<31 {
			t.Fatalf("seed %d outside [0, 2^31)", got)
		}
	}
}

func TestApply_MissingTarget(t *testing.T) {
	t.Parallel()
	b := &workflow.Bindings{
		Map: map[string][]workflow.Target{
			"prompt": {{Node: "6", Input: "text"}},
			"steps":  {{Node: "99", Input: "steps"}},
		},
	}
	_, err := b.Apply(mustParse(t, tinyGraph), map[string]any{"prompt": "x", "steps": 10})
	var missing *workflow.BindingTargetMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected BindingTargetMissingError, got %v", err)
	}
	if missing.Param != "steps" || missing.Node != "99" {
		t.Errorf("error = %+v, want steps/99", missing)
	}

	// no value: the dangling target is never touched
	if _, err := b.Apply(mustParse(t, tinyGraph), map[string]any{"prompt": "x"}); err != nil {
		t.Errorf("unexpected error without a value: %v", err)
	}
}

func TestApply_Disabled(t *testing.T) {
	t.Parallel()
	b := &workflow.Bindings{Disabled: true, Note: "export an API-format workflow first"}
	tpl := workflow.NewTemplate("flux", mustParse(t, tinyGraph), b)
	_, err := tpl.Bind(map[string]any{"prompt": "x"})
	if !errors.Is(err, workflow.ErrTemplateDisabled) {
		t.Fatalf("expected ErrTemplateDisabled, got %v", err)
	}
	if !strings.Contains(err.Error(), "export an API-format workflow first") || !strings.Contains(err.Error(), "flux") {
		t.Errorf("error %q missing note or family", err)
	}
}

func TestApply_SkipsIncompleteTargets(t *testing.T) {
	t.Parallel()
	b := &workflow.Bindings{Map: map[string][]workflow.Target{"prompt": {{Node: "", Input: "text"}, {Node: "6", Input: ""}}}}
	if _, err := b.Apply(mustParse(t, tinyGraph), map[string]any{"prompt": "x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTarget_NodeAsNumber(t *testing.T) {
	t.Parallel()
	var targets []workflow.Target
	if err := json.Unmarshal([]byte(`[{"node": 3, "input": "seed"}, {"node": "6", "input": "text"}]`), &targets); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if targets[0].Node != "3" || targets[1].Node != "6" {
		t.Errorf("targets = %+v", targets)
	}
	if err := json.Unmarshal([]byte(`[{"node": true, "input": "x"}]`), &targets); err == nil {
		t.Error("expected error for boolean node id")
	}
}

// ─── Schema and templates ─────────────────────────────────────────────────────

func TestParseBindings_YAML(t *testing.T) {
	t.Parallel()
	src := `
map:
  prompt:
    - node: 6
      input: text
defaults:
  prompt: a lighthouse
  steps: 25
note: yaml table
`
	b, err := workflow.ParseBindings([]byte(src))
	if err != nil {
		t.Fatalf("ParseBindings: %v", err)
	}
	if b.Map["prompt"][0].Node != "6" {
		t.Errorf("node = %q, want %q", b.Map["prompt"][0].Node, "6")
	}
	if b.Defaults["steps"] != json.Number("25") {
		t.Errorf("steps default = %#v, want json.Number 25", b.Defaults["steps"])
	}
}

func TestParseBindings_SchemaViolations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
	}{
		{"targets not a list", `{"map": {"prompt": {"node": "6", "input": "text"}}}`},
		{"missing input", `{"map": {"prompt": [{"node": "6"}]}}`},
		{"unknown key", `{"map": {}, "bogus": 1}`},
		{"disabled not bool", `{"map": {}, "disabled": "yes"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := workflow.ParseBindings([]byte(tc.src))
			if !errors.Is(err, workflow.ErrSchema) {
				t.Errorf("expected ErrSchema, got %v", err)
			}
		})
	}
}

func TestLoadTemplate_YAMLBindings(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"tiny.json":          {Data: []byte(tinyGraph)},
		"tiny.bindings.yaml": {Data: []byte("map:\n  prompt:\n    - {node: \"6\", input: text}\n")},
	}
	tpl, err := workflow.LoadTemplate(fsys, "tiny")
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	g, err := tpl.Bind(map[string]any{"prompt": "from yaml"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := literalOf[string](t, g, "6", "text"); got != "from yaml" {
		t.Errorf("text = %q, want %q", got, "from yaml")
	}
}

func TestLoadTemplate_MissingBindings(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{"tiny.json": {Data: []byte(tinyGraph)}}
	if _, err := workflow.LoadTemplate(fsys, "tiny"); err == nil {
		t.Error("expected error without a binding table")
	}
}

func TestTemplate_Lint(t *testing.T) {
	t.Parallel()
	if errs := loadSDBasic(t).Lint(workflow.DefaultSlots); len(errs) != 0 {
		t.Errorf("stock template has lint errors: %v", errs)
	}

	b := &workflow.Bindings{Map: map[string][]workflow.Target{"steps": {{Node: "42", Input: "steps"}}}}
	errs := workflow.NewTemplate("tiny", mustParse(t, tinyGraph), b).Lint(workflow.DefaultSlots)
	if len(errs) != 1 || errs[0].NodeID != "42" {
		t.Errorf("lint = %v, want one error for node 42", errs)
	}
}

