package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/comfyflow/pkg/artifact"
	"github.com/ravi-parthasarathy/comfyflow/pkg/comfy"
	"github.com/ravi-parthasarathy/comfyflow/pkg/generate"
	"github.com/ravi-parthasarathy/comfyflow/pkg/llm"
	"github.com/ravi-parthasarathy/comfyflow/pkg/prompt"
)

type generateFlags struct {
	prompt      string
	negative    string
	seed        int64
	width       int
	height      int
	steps       int
	cfgScale    float64
	sampler     string
	scheduler   string
	ckpt        string
	sets        []string
	lora        string
	loraModel   float64
	loraClip    float64
	count       int
	concurrency int
	output      string
	manifest    string
	enhance     bool
	dryRun      bool
}

func generateCmd(a *app) *cobra.Command {
	var f generateFlags

	cmd := &cobra.Command{
		Use:   "generate [family]",
		Short: "Bind parameters, submit a job and fetch its first image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			tpl, err := a.template(args)
			if err != nil {
				return err
			}
			values, err := f.values(cmd)
			if err != nil {
				return err
			}
			if f.enhance {
				if err := enhanceValue(ctx, a, values); err != nil {
					return err
				}
			}
			req := generate.Request{Values: values, LoRA: f.loraFor(cmd, a)}

			if f.dryRun {
				runner := generate.NewRunner(tpl, nil)
				g, err := runner.Prepare(req)
				if err != nil {
					return err
				}
				js, err := g.MarshalJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(js))
				return nil
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			opts := []generate.Option{generate.WithPollOptions(
				comfy.WithTimeout(a.cfg.Comfy.PollTimeout),
				comfy.WithInterval(a.cfg.Comfy.PollInterval),
			)}
			loc := a.cfg.Output.Location
			if cmd.Flags().Changed("out") {
				loc = f.output
			}
			if loc != "" {
				store, err := artifact.Open(ctx, loc)
				if err != nil {
					return err
				}
				opts = append(opts, generate.WithStore(store, a.cfg.Output.EmbedMetadata))
			}
			runner := generate.NewRunner(tpl, client, opts...)

			reqs := make([]generate.Request, max(f.count, 1))
			for i := range reqs {
				reqs[i] = req
			}
			results, runErr := runner.RunBatch(ctx, reqs, f.concurrency)
			printResults(cmd.OutOrStdout(), results)
			if err := writeManifest(f.manifest, results); err != nil {
				return errors.Join(runErr, err)
			}
			return runErr
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.prompt, "prompt", "p", "", "positive prompt text")
	fl.StringVar(&f.negative, "negative", "", "negative prompt text")
	fl.Int64Var(&f.seed, "seed", -1, "sampler seed; -1 picks a random seed per job")
	fl.IntVar(&f.width, "width", 0, "image width")
	fl.IntVar(&f.height, "height", 0, "image height")
	fl.IntVar(&f.steps, "steps", 0, "sampling steps")
	fl.Float64Var(&f.cfgScale, "cfg", 0, "classifier-free guidance scale")
	fl.StringVar(&f.sampler, "sampler", "", "sampler name")
	fl.StringVar(&f.scheduler, "scheduler", "", "scheduler name")
	fl.StringVar(&f.ckpt, "ckpt", "", "checkpoint file name")
	fl.StringArrayVar(&f.sets, "set", nil, "extra parameter as name=value (value parsed as JSON when possible); repeatable")
	fl.StringVar(&f.lora, "lora", "", "LoRA file to splice in (overrides config)")
	fl.Float64Var(&f.loraModel, "lora-strength-model", 1.0, "LoRA model strength")
	fl.Float64Var(&f.loraClip, "lora-strength-clip", 1.0, "LoRA clip strength")
	fl.IntVarP(&f.count, "count", "n", 1, "number of independent jobs to run")
	fl.IntVar(&f.concurrency, "concurrency", 2, "maximum jobs in flight (0 = all)")
	fl.StringVarP(&f.output, "out", "o", "", "artifact directory or s3://bucket/prefix (overrides config)")
	fl.StringVar(&f.manifest, "manifest", "", "write a JSON summary of the results to this path")
	fl.BoolVar(&f.enhance, "enhance", false, "expand --prompt with the configured LLM first")
	fl.BoolVar(&f.dryRun, "dry-run", false, "print the prepared graph instead of submitting it")
	return cmd
}

// values collects only the flags the user set, so template defaults apply to
// the rest.
func (f *generateFlags) values(cmd *cobra.Command) (map[string]any, error) {
	v := map[string]any{}
	changed := cmd.Flags().Changed
	if changed("prompt") {
		v["prompt"] = f.prompt
	}
	if changed("negative") {
		v["negativePrompt"] = f.negative
	}
	if changed("seed") {
		v["seed"] = f.seed
	}
	if changed("width") {
		v["width"] = f.width
	}
	if changed("height") {
		v["height"] = f.height
	}
	if changed("steps") {
		v["steps"] = f.steps
	}
	if changed("cfg") {
		v["cfgScale"] = f.cfgScale
	}
	if changed("sampler") {
		v["samplerName"] = f.sampler
	}
	if changed("scheduler") {
		v["schedulerName"] = f.scheduler
	}
	if changed("ckpt") {
		v["ckptName"] = f.ckpt
	}
	for _, s := range f.sets {
		name, val, err := parseSet(s)
		if err != nil {
			return nil, err
		}
		v[name] = val
	}
	return v, nil
}

func (f *generateFlags) loraFor(cmd *cobra.Command, a *app) *generate.LoRA {
	l := generate.LoRA{
		Name:          a.cfg.LoRA.Name,
		StrengthModel: a.cfg.LoRA.StrengthModel,
		StrengthClip:  a.cfg.LoRA.StrengthClip,
	}
	if cmd.Flags().Changed("lora") {
		l.Name = f.lora
	}
	if cmd.Flags().Changed("lora-strength-model") {
		l.StrengthModel = f.loraModel
	}
	if cmd.Flags().Changed("lora-strength-clip") {
		l.StrengthClip = f.loraClip
	}
	if l.Name == "" {
		return nil
	}
	return &l
}

// parseSet splits "name=value". The value is decoded as JSON when it parses,
// otherwise kept as a string.
func parseSet(s string) (string, any, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("--set %q: want name=value", s)
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return name, raw, nil
	}
	return name, v, nil
}

func enhanceValue(ctx context.Context, a *app, values map[string]any) error {
	idea, _ := values["prompt"].(string)
	if idea == "" {
		return errors.New("--enhance needs --prompt")
	}
	client, err := llm.NewClient(a.cfg.Prompt.Model)
	if err != nil {
		return err
	}
	text, err := prompt.NewEnhancer(client, prompt.WithMaxTokens(a.cfg.Prompt.MaxTokens)).
		Enhance(ctx, prompt.Subject{Description: idea})
	if err != nil {
		return err
	}
	values["prompt"] = text
	return nil
}

func printResults(w io.Writer, results []generate.Result) {
	for _, r := range results {
		if r.Job == nil {
			continue
		}
		where := r.Location
		if where == "" {
			where = r.Output.Filename
		}
		fmt.Fprintf(w, "%s  %-9s  %s\n", r.Job.ID, r.Job.State, where)
	}
}

type manifestEntry struct {
	JobID    string         `json:"job_id"`
	State    comfy.JobState `json:"state"`
	Error    string         `json:"error,omitempty"`
	Output   string         `json:"output,omitempty"`
	Location string         `json:"location,omitempty"`
}

// writeManifest writes results as JSON to path. An empty path is a no-op.
func writeManifest(path string, results []generate.Result) error {
	if path == "" {
		return nil
	}
	entries := make([]manifestEntry, 0, len(results))
	for _, r := range results {
		if r.Job == nil {
			continue
		}
		e := manifestEntry{JobID: r.Job.ID, State: r.Job.State, Output: r.Output.Filename, Location: r.Location}
		if r.Job.Err != nil {
			e.Error = r.Job.Err.Error()
		}
		entries = append(entries, e)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
