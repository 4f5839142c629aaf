package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/comfyflow/pkg/generate"
	"github.com/ravi-parthasarathy/comfyflow/pkg/workflow"
)

func graphCmd(a *app) *cobra.Command {
	var (
		format string
		lora   string
		sets   []string
	)

	cmd := &cobra.Command{
		Use:   "graph [family]",
		Short: "Print a human-readable summary of a bound workflow graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := a.template(args)
			if err != nil {
				return err
			}
			values := map[string]any{}
			for _, s := range sets {
				name, v, err := parseSet(s)
				if err != nil {
					return err
				}
				values[name] = v
			}
			req := generate.Request{Values: values}
			if lora != "" {
				req.LoRA = &generate.LoRA{Name: lora, StrengthModel: 1, StrengthClip: 1}
			}
			g, err := generate.NewRunner(tpl, nil).Prepare(req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "dot":
				s, err := workflow.RenderDOT(g, tpl.Family)
				if err != nil {
					return err
				}
				fmt.Fprint(out, s)
			case "text", "":
				fmt.Fprint(out, renderText(tpl.Family, g))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	cmd.Flags().StringVar(&lora, "lora", "", "show the graph with this LoRA spliced in")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "parameter as name=value; repeatable")
	return cmd
}

// truncate shortens s to maxLen chars, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// renderText lists nodes in dependency order with their literal inputs,
// followed by every link.
func renderText(name string, g *workflow.Graph) string {
	var sb strings.Builder

	order := workflow.TopoOrder(g)
	links := 0
	for _, n := range g.Nodes() {
		links += len(n.Links())
	}
	fmt.Fprintf(&sb, "Workflow: %s  (%d nodes, %d links)\n", name, g.Len(), links)

	maxIDLen, maxClassLen := 2, 5
	for _, n := range g.Nodes() {
		maxIDLen = max(maxIDLen, len(n.ID))
		maxClassLen = max(maxClassLen, len(n.ClassType))
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for _, id := range order {
		n, _ := g.Node(id)
		var attrs []string
		for _, in := range n.InputNames() {
			v, _ := n.Input(in)
			if v.IsLink() {
				continue
			}
			attrs = append(attrs, in+"="+truncate(string(v.Literal), 60))
		}
		fmt.Fprintf(&sb, "  %-*s  %-*s  %s\n", maxIDLen, id, maxClassLen, n.ClassType, strings.Join(attrs, " "))
	}

	fmt.Fprintf(&sb, "\nLinks:\n")
	for _, id := range order {
		n, _ := g.Node(id)
		for _, in := range n.InputNames() {
			v, _ := n.Input(in)
			if !v.IsLink() {
				continue
			}
			from := fmt.Sprintf("%s:%d", v.Link.From, v.Link.Slot)
			fmt.Fprintf(&sb, "  %-*s  →  %s.%s\n", maxIDLen+2, from, id, in)
		}
	}
	return sb.String()
}
