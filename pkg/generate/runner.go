// Package generate runs a bound, optionally LoRA-injected job graph through a
// ComfyUI backend: submit, poll for the first image, fetch, and store.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ravi-parthasarathy/comfyflow/pkg/artifact"
	"github.com/ravi-parthasarathy/comfyflow/pkg/comfy"
	"github.com/ravi-parthasarathy/comfyflow/pkg/workflow"
)

// MetadataKeyword is the PNG text keyword holding the submitted graph.
const MetadataKeyword = "prompt"

// Backend is the subset of *comfy.Client a Runner needs.
type Backend interface {
	comfy.HistorySource
	Submit(ctx context.Context, g *workflow.Graph) (*comfy.Job, error)
	FetchArtifact(ctx context.Context, ref comfy.OutputRef) ([]byte, error)
}

// LoRA selects an auxiliary adapter resource and its strengths.
type LoRA struct {
	Name          string
	StrengthModel float64
	StrengthClip  float64
}

// Request is one generation: binding values plus an optional LoRA.
type Request struct {
	Values map[string]any
	LoRA   *LoRA
}

// Result describes a finished (or failed) generation.
type Result struct {
	Job    *comfy.Job
	Graph  *workflow.Graph
	Output comfy.OutputRef
	Data   []byte
	// Location is where the artifact was stored; empty without a store.
	Location string
}

// Runner executes Requests against one template and backend.
type Runner struct {
	template *workflow.Template
	backend  Backend
	adapter  workflow.Adapter
	slots    workflow.SlotTable
	pollOpts []comfy.PollOption
	store    artifact.Store
	embed    bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithAdapter replaces the stock SD LoRA adapter.
func WithAdapter(a workflow.Adapter) Option { return func(r *Runner) { r.adapter = a } }

// WithSlots replaces the output slot table used for validation.
func WithSlots(s workflow.SlotTable) Option { return func(r *Runner) { r.slots = s } }

// WithPollOptions configures the poller created for each job.
func WithPollOptions(opts ...comfy.PollOption) Option {
	return func(r *Runner) { r.pollOpts = append(r.pollOpts, opts...) }
}

// WithStore saves every fetched artifact to s. When embed is set, PNG
// artifacts carry the submitted graph as text metadata.
func WithStore(s artifact.Store, embed bool) Option {
	return func(r *Runner) {
		r.store = s
		r.embed = embed
	}
}

// NewRunner returns a Runner for t on backend.
func NewRunner(t *workflow.Template, backend Backend, opts ...Option) *Runner {
	r := &Runner{
		template: t,
		backend:  backend,
		adapter:  workflow.SDBasicLoRA,
		slots:    workflow.DefaultSlots,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Prepare binds req onto a fresh copy of the template, injects the LoRA if
// one is named, and validates the result.
func (r *Runner) Prepare(req Request) (*workflow.Graph, error) {
	g, err := r.template.Bind(req.Values)
	if err != nil {
		return nil, err
	}
	if req.LoRA != nil && req.LoRA.Name != "" {
		g, err = r.adapter.Inject(g, req.LoRA.Name, req.LoRA.StrengthModel, req.LoRA.StrengthClip)
		if err != nil {
			return nil, fmt.Errorf("inject %q: %w", req.LoRA.Name, err)
		}
	}
	if err := workflow.ValidateErr(g, r.slots); err != nil {
		return nil, err
	}
	return g, nil
}

// Run submits req, waits for its first image and fetches it. The returned
// Result carries the Job even when waiting fails.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	g, err := r.Prepare(req)
	if err != nil {
		return Result{}, fmt.Errorf("prepare %s: %w", r.template.Family, err)
	}
	res := Result{Graph: g}

	job, err := r.backend.Submit(ctx, g)
	if err != nil {
		return res, err
	}
	res.Job = job
	slog.Info("job submitted", "job", job.ID, "family", r.template.Family, "queue", job.Number)

	start := time.Now()
	ref, err := comfy.NewPoller(r.backend, r.pollOpts...).WaitForOutput(ctx, job.ID)
	job.Finish(err)
	if err != nil {
		slog.Warn("job did not produce an image", "job", job.ID, "state", job.State, "error", err)
		return res, err
	}
	res.Output = ref
	slog.Info("job complete", "job", job.ID, "file", ref.Filename, "elapsed", time.Since(start).Round(time.Millisecond))

	// a failed fetch or store downgrades the job from succeeded to failed
	fail := func(err error) (Result, error) {
		err = fmt.Errorf("job %s: %w", job.ID, err)
		job.Finish(err)
		return res, err
	}
	data, err := r.backend.FetchArtifact(ctx, ref)
	if err != nil {
		return fail(err)
	}
	res.Data = data

	if r.store == nil {
		return res, nil
	}
	if r.embed && artifact.IsPNG(data) {
		if data, err = embedGraph(data, g); err != nil {
			return fail(err)
		}
		res.Data = data
	}
	loc, err := r.store.Put(ctx, ref.Filename, data, artifact.ContentType(ref.Filename))
	if err != nil {
		return fail(fmt.Errorf("store: %w", err))
	}
	res.Location = loc
	slog.Debug("artifact stored", "job", job.ID, "location", loc)
	return res, nil
}

func embedGraph(data []byte, g *workflow.Graph) ([]byte, error) {
	js, err := g.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode graph metadata: %w", err)
	}
	return artifact.EmbedPNGText(data, MetadataKeyword, string(js))
}
