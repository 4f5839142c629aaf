package comfy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.t = c.t.Add(d)
	return nil
}

func withClock(c *fakeClock) PollOption {
	return func(p *Poller) {
		p.now = c.now
		p.sleep = c.sleep
	}
}

// scriptedHistory replays records in order, repeating the last one.
type scriptedHistory struct {
	records []*HistoryRecord
	err     error
	calls   int
	onCall  func(n int)
}

func (s *scriptedHistory) History(_ context.Context, _ string) (*HistoryRecord, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.records) == 0 {
		return nil, nil
	}
	i := s.calls - 1
	if i >= len(s.records) {
		i = len(s.records) - 1
	}
	return s.records[i], nil
}

func pendingRecord() *HistoryRecord {
	return &HistoryRecord{JobID: "job-1"}
}

func imageRecord(file string) *HistoryRecord {
	return &HistoryRecord{
		JobID: "job-1",
		Outputs: []NodeOutput{
			{NodeID: "8"},
			{NodeID: "9", Images: []ImageRef{{Filename: file, Subfolder: ""}}},
		},
		Status: JobStatus{Completed: true, StatusStr: "success"},
	}
}

func fastPoller(src HistorySource, clock *fakeClock, timeout time.Duration) *Poller {
	return NewPoller(src,
		WithTimeoutFloor(0),
		WithTimeout(timeout),
		WithInterval(time.Second),
		withClock(clock),
	)
}

func TestWaitForOutput_PendingThenImage(t *testing.T) {
	t.Parallel()
	src := &scriptedHistory{records: []*HistoryRecord{nil, pendingRecord(), imageRecord("out_00001_.png")}}
	clock := &fakeClock{t: time.Unix(0, 0)}

	ref, err := fastPoller(src, clock, 120*time.Second).WaitForOutput(t.Context(), "job-1")
	if err != nil {
		t.Fatalf("WaitForOutput: %v", err)
	}
	if ref.Filename != "out_00001_.png" || ref.NodeID != "9" || ref.Type != "output" {
		t.Errorf("ref = %+v", ref)
	}
	if src.calls != 3 {
		t.Errorf("fetches = %d, want 3", src.calls)
	}
}

func TestWaitForOutput_Timeout(t *testing.T) {
	t.Parallel()
	src := &scriptedHistory{records: []*HistoryRecord{pendingRecord()}}
	clock := &fakeClock{t: time.Unix(0, 0)}

	_, err := fastPoller(src, clock, 3*time.Second).WaitForOutput(t.Context(), "job-1")
	var te *PollTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected PollTimeoutError, got %v", err)
	}
	if te.Fetches != 3 || src.calls != 3 {
		t.Errorf("fetches = %d (calls %d), want 3", te.Fetches, src.calls)
	}
	if te.Elapsed != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s", te.Elapsed)
	}
	if te.JobID != "job-1" {
		t.Errorf("job = %q", te.JobID)
	}
}

func TestWaitForOutput_ImageAfterDeadline(t *testing.T) {
	t.Parallel()
	records := []*HistoryRecord{pendingRecord(), pendingRecord(), pendingRecord(), pendingRecord(), imageRecord("late.png")}
	src := &scriptedHistory{records: records}
	clock := &fakeClock{t: time.Unix(0, 0)}

	if _, err := fastPoller(src, clock, 3*time.Second).WaitForOutput(t.Context(), "job-1"); !isTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestWaitForOutput_Terminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		rec   *HistoryRecord
		check func(t *testing.T, err error)
	}{
		{
			name: "failed status",
			rec: &HistoryRecord{Status: JobStatus{
				Completed: true,
				StatusStr: "error",
				Messages: []StatusMessage{
					{Event: "execution_start"},
					{Event: "execution_error", NodeID: "3", NodeType: "KSampler", Exception: "CUDA out of memory"},
				},
			}},
			check: func(t *testing.T, err error) {
				var jf *JobFailedError
				if !errors.As(err, &jf) {
					t.Fatalf("expected JobFailedError, got %v", err)
				}
				if jf.Status != "error" || jf.JobID != "job-1" {
					t.Errorf("err = %+v", jf)
				}
				if len(jf.Messages) != 1 || !strings.Contains(jf.Messages[0], "CUDA out of memory") {
					t.Errorf("messages = %v", jf.Messages)
				}
			},
		},
		{
			name: "success without outputs",
			rec:  &HistoryRecord{Status: JobStatus{Completed: true, StatusStr: "success"}},
			check: func(t *testing.T, err error) {
				var eo *EmptyOutputError
				if !errors.As(err, &eo) {
					t.Fatalf("expected EmptyOutputError, got %v", err)
				}
				if !strings.Contains(err.Error(), "seed or prompt") {
					t.Errorf("message %q lacks cache advice", err)
				}
			},
		},
		{
			name: "completed outputs without images",
			rec:  &HistoryRecord{Outputs: []NodeOutput{{NodeID: "9"}}, Status: JobStatus{Completed: true}},
			check: func(t *testing.T, err error) {
				var eo *EmptyOutputError
				if !errors.As(err, &eo) {
					t.Fatalf("expected EmptyOutputError, got %v", err)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			src := &scriptedHistory{records: []*HistoryRecord{tc.rec}}
			_, err := fastPoller(src, &fakeClock{}, 10*time.Second).WaitForOutput(t.Context(), "job-1")
			tc.check(t, err)
			if src.calls != 1 {
				t.Errorf("fetches = %d, want 1", src.calls)
			}
		})
	}
}

func TestWaitForOutput_ErrorsNotRetried(t *testing.T) {
	t.Parallel()
	src := &scriptedHistory{err: &StatusError{Op: "history job-1", StatusCode: 500}}
	_, err := fastPoller(src, &fakeClock{}, 10*time.Second).WaitForOutput(t.Context(), "job-1")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if src.calls != 1 {
		t.Errorf("fetches = %d, want 1", src.calls)
	}
}

func TestWaitForOutput_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	src := &scriptedHistory{records: []*HistoryRecord{pendingRecord()}}
	src.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	p := NewPoller(src, WithTimeoutFloor(0), WithTimeout(time.Minute), WithInterval(5*time.Millisecond))

	start := time.Now()
	_, err := p.WaitForOutput(ctx, "job-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !strings.Contains(err.Error(), "job-1") {
		t.Errorf("error %q does not name the job", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation was not prompt")
	}
}

func TestNewPoller_Clamping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		opts         []PollOption
		wantTimeout  time.Duration
		wantInterval time.Duration
	}{
		{"defaults", nil, 120 * time.Second, time.Second},
		{"below floor", []PollOption{WithTimeout(5 * time.Second)}, 120 * time.Second, time.Second},
		{"invalid", []PollOption{WithTimeout(-1), WithInterval(-1)}, 120 * time.Second, time.Second},
		{"above floor", []PollOption{WithTimeout(300 * time.Second), WithInterval(2 * time.Second)}, 300 * time.Second, 2 * time.Second},
		{"lowered floor", []PollOption{WithTimeoutFloor(0), WithTimeout(2 * time.Second)}, 2 * time.Second, time.Second},
		{"lowered floor default", []PollOption{WithTimeoutFloor(time.Second)}, 120 * time.Second, time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewPoller(&scriptedHistory{}, tc.opts...)
			if p.Timeout() != tc.wantTimeout {
				t.Errorf("timeout = %v, want %v", p.Timeout(), tc.wantTimeout)
			}
			if p.Interval() != tc.wantInterval {
				t.Errorf("interval = %v, want %v", p.Interval(), tc.wantInterval)
			}
		})
	}
}

func TestJobFinish(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want JobState
	}{
		{nil, JobSucceeded},
		{&PollTimeoutError{JobID: "x"}, JobTimedOut},
		{&EmptyOutputError{JobID: "x"}, JobFailed},
		{errors.New("boom"), JobFailed},
	}
	for _, tc := range tests {
		j := &Job{ID: "x", State: JobPending}
		j.Finish(tc.err)
		if j.State != tc.want {
			t.Errorf("Finish(%v) state = %q, want %q", tc.err, j.State, tc.want)
		}
	}
}
