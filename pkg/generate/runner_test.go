package generate_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ravi-parthasarathy/comfyflow/pkg/artifact"
	"github.com/ravi-parthasarathy/comfyflow/pkg/comfy"
	"github.com/ravi-parthasarathy/comfyflow/pkg/generate"
	"github.com/ravi-parthasarathy/comfyflow/pkg/workflow"
	"github.com/ravi-parthasarathy/comfyflow/workflows"
)

// fakeBackend completes every job on its second history fetch.
type fakeBackend struct {
	mu        sync.Mutex
	submitted []*workflow.Graph
	fetches   map[string]int
	failJobs  map[string]bool
	image     []byte
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return &fakeBackend{fetches: map[string]int{}, failJobs: map[string]bool{}, image: buf.Bytes()}
}

func (f *fakeBackend) Submit(_ context.Context, g *workflow.Graph) (*comfy.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := promptOf(g)
	if text == "reject" {
		return nil, &comfy.SubmitError{StatusCode: 400, Type: "prompt_outputs_failed_validation", Message: "rejected"}
	}
	f.submitted = append(f.submitted, g)
	id := fmt.Sprintf("job-%d", len(f.submitted))
	if text == "explode" {
		f.failJobs[id] = true
	}
	return &comfy.Job{ID: id, State: comfy.JobPending, SubmittedAt: time.Now()}, nil
}

func (f *fakeBackend) History(_ context.Context, id string) (*comfy.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[id]++
	if f.fetches[id] < 2 {
		return nil, nil
	}
	if f.failJobs[id] {
		return &comfy.HistoryRecord{JobID: id, Status: comfy.JobStatus{Completed: true, StatusStr: "error"}}, nil
	}
	return &comfy.HistoryRecord{
		JobID: id,
		Outputs: []comfy.NodeOutput{{NodeID: "9", Images: []comfy.ImageRef{
			{Filename: "ComfyUI_" + id + ".png", Type: "output"},
		}}},
		Status: comfy.JobStatus{Completed: true, StatusStr: "success"},
	}, nil
}

func (f *fakeBackend) FetchArtifact(_ context.Context, ref comfy.OutputRef) ([]byte, error) {
	if !strings.HasPrefix(ref.Filename, "ComfyUI_") {
		return nil, &comfy.FetchError{Ref: ref, StatusCode: 404}
	}
	return f.image, nil
}

func promptOf(g *workflow.Graph) string {
	n, ok := g.Node("6")
	if !ok {
		return ""
	}
	in, _ := n.Input("text")
	var s string
	_ = in.Decode(&s)
	return s
}

func newRunner(t *testing.T, b generate.Backend, opts ...generate.Option) *generate.Runner {
	t.Helper()
	tpl, err := workflow.LoadTemplate(workflows.FS, workflows.DefaultFamily)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	opts = append([]generate.Option{generate.WithPollOptions(
		comfy.WithTimeoutFloor(0),
		comfy.WithTimeout(5*time.Second),
		comfy.WithInterval(time.Millisecond),
	)}, opts...)
	return generate.NewRunner(tpl, b, opts...)
}

// ─── Run ──────────────────────────────────────────────────────────────────────

func TestRun(t *testing.T) {
	t.Parallel()
	b := newFakeBackend(t)
	r := newRunner(t, b)

	res, err := r.Run(t.Context(), generate.Request{Values: map[string]any{"prompt": "a red fox", "seed": 42}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Job == nil || res.Job.State != comfy.JobSucceeded {
		t.Fatalf("job = %+v", res.Job)
	}
	if res.Output.Filename != "ComfyUI_job-1.png" || res.Output.NodeID != "9" {
		t.Errorf("output = %+v", res.Output)
	}
	if !bytes.Equal(res.Data, b.image) {
		t.Error("data differs from fetched artifact")
	}
	if res.Location != "" {
		t.Errorf("location = %q, want empty without a store", res.Location)
	}
	if got := promptOf(b.submitted[0]); got != "a red fox" {
		t.Errorf("submitted prompt = %q, want %q", got, "a red fox")
	}
}

func TestRun_LoRAAndStore(t *testing.T) {
	t.Parallel()
	b := newFakeBackend(t)
	dir := t.TempDir()
	store, err := artifact.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	r := newRunner(t, b, generate.WithStore(store, true))
	req := generate.Request{
		Values: map[string]any{"prompt": "castle"},
		LoRA:   &generate.LoRA{Name: "detail.safetensors", StrengthModel: 0.8, StrengthClip: 0.6},
	}

	res, err := r.Run(t.Context(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	aux, ok := b.submitted[0].Node("10")
	if !ok || aux.ClassType != "LoraLoader" {
		t.Fatalf("submitted graph lacks LoraLoader at 10")
	}

	stored, err := os.ReadFile(res.Location)
	if err != nil {
		t.Fatalf("read stored artifact: %v", err)
	}
	text, ok, err := artifact.PNGText(stored, generate.MetadataKeyword)
	if err != nil || !ok {
		t.Fatalf("PNGText = %v, %v", ok, err)
	}
	g, err := workflow.ParseGraph([]byte(text))
	if err != nil {
		t.Fatalf("embedded graph: %v", err)
	}
	if _, ok := g.Node("10"); !ok {
		t.Error("embedded graph lacks the injected node")
	}

	// Each run starts from a fresh bound copy, so the aux id does not drift.
	if _, err := r.Run(t.Context(), req); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if _, ok := b.submitted[1].Node("11"); ok {
		t.Error("second submission chained a second adapter node")
	}
}

func TestRun_JobFailed(t *testing.T) {
	t.Parallel()
	r := newRunner(t, newFakeBackend(t))
	res, err := r.Run(t.Context(), generate.Request{Values: map[string]any{"prompt": "explode"}})
	var jf *comfy.JobFailedError
	if !errors.As(err, &jf) {
		t.Fatalf("expected JobFailedError, got %v", err)
	}
	if res.Job == nil || res.Job.State != comfy.JobFailed {
		t.Errorf("job = %+v, want failed", res.Job)
	}
}

func TestRun_SubmitRejected(t *testing.T) {
	t.Parallel()
	r := newRunner(t, newFakeBackend(t))
	res, err := r.Run(t.Context(), generate.Request{Values: map[string]any{"prompt": "reject"}})
	var se *comfy.SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if res.Job != nil {
		t.Errorf("job = %+v, want nil", res.Job)
	}
	if res.Graph == nil {
		t.Error("result should carry the prepared graph")
	}
}

// unreachableArtifacts completes jobs normally but cannot serve their files.
type unreachableArtifacts struct{ *fakeBackend }

func (unreachableArtifacts) FetchArtifact(_ context.Context, ref comfy.OutputRef) ([]byte, error) {
	return nil, &comfy.FetchError{Ref: ref, StatusCode: 500}
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("disk full")
}

func TestRun_FetchFailed(t *testing.T) {
	t.Parallel()
	r := newRunner(t, unreachableArtifacts{newFakeBackend(t)})
	res, err := r.Run(t.Context(), generate.Request{Values: map[string]any{"prompt": "a red fox"}})
	var fe *comfy.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if !strings.Contains(err.Error(), "job-1") {
		t.Errorf("error %q does not name the job", err)
	}
	if res.Job == nil || res.Job.State != comfy.JobFailed {
		t.Fatalf("job = %+v, want failed", res.Job)
	}
	if !errors.Is(res.Job.Err, err) {
		t.Errorf("job err = %v, want %v", res.Job.Err, err)
	}
	if res.Output.Filename == "" {
		t.Error("result should carry the output reference")
	}
}

func TestRun_StoreFailed(t *testing.T) {
	t.Parallel()
	r := newRunner(t, newFakeBackend(t), generate.WithStore(failingStore{}, false))
	res, err := r.Run(t.Context(), generate.Request{Values: map[string]any{"prompt": "a red fox"}})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want store failure", err)
	}
	if res.Job == nil || res.Job.State != comfy.JobFailed {
		t.Errorf("job = %+v, want failed", res.Job)
	}
	if res.Location != "" {
		t.Errorf("location = %q, want empty", res.Location)
	}
}

func TestPrepare_Errors(t *testing.T) {
	t.Parallel()
	r := newRunner(t, newFakeBackend(t))
	if _, err := r.Prepare(generate.Request{LoRA: &generate.LoRA{Name: "   "}}); err == nil {
		t.Error("expected error for blank LoRA name")
	}

	broken := workflow.SDBasicLoRA
	broken.Source = "99"
	r = newRunner(t, newFakeBackend(t), generate.WithAdapter(broken))
	_, err := r.Prepare(generate.Request{LoRA: &generate.LoRA{Name: "x.safetensors"}})
	var gv *workflow.GraphValidationError
	if !errors.As(err, &gv) {
		t.Errorf("expected GraphValidationError, got %v", err)
	}
}

// ─── RunBatch ─────────────────────────────────────────────────────────────────

func TestRunBatch(t *testing.T) {
	t.Parallel()
	b := newFakeBackend(t)
	r := newRunner(t, b)
	reqs := []generate.Request{
		{Values: map[string]any{"prompt": "one"}},
		{Values: map[string]any{"prompt": "explode"}},
		{Values: map[string]any{"prompt": "three"}},
	}

	results, err := r.RunBatch(t.Context(), reqs, 2)
	if err == nil || !strings.Contains(err.Error(), "request 1") {
		t.Fatalf("err = %v, want failure of request 1", err)
	}
	var jf *comfy.JobFailedError
	if !errors.As(err, &jf) {
		t.Errorf("joined error does not wrap JobFailedError: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, i := range []int{0, 2} {
		if results[i].Job == nil || results[i].Job.State != comfy.JobSucceeded {
			t.Errorf("results[%d].Job = %+v", i, results[i].Job)
		}
	}
	if len(b.submitted) != 3 {
		t.Errorf("submitted = %d, want 3", len(b.submitted))
	}
}
