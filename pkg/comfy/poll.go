package comfy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultPollTimeout bounds how long WaitForOutput waits for a result.
	DefaultPollTimeout = 120 * time.Second
	// DefaultPollInterval is the pause between history fetches.
	DefaultPollInterval = time.Second
	// MinPollTimeout is the default lower bound applied to any timeout.
	MinPollTimeout = 120 * time.Second
)

// HistorySource fetches job history records.
type HistorySource interface {
	History(ctx context.Context, jobID string) (*HistoryRecord, error)
}

// Poller waits for jobs to produce output by polling their history.
type Poller struct {
	src      HistorySource
	timeout  time.Duration
	interval time.Duration
	floor    time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// PollOption configures a Poller.
type PollOption func(*Poller)

// WithTimeout sets the overall wait. Values <= 0 select DefaultPollTimeout;
// the result is never below the timeout floor.
func WithTimeout(d time.Duration) PollOption {
	return func(p *Poller) { p.timeout = d }
}

// WithInterval sets the pause between fetches. Values <= 0 select
// DefaultPollInterval.
func WithInterval(d time.Duration) PollOption {
	return func(p *Poller) { p.interval = d }
}

// WithTimeoutFloor replaces MinPollTimeout as the lower bound for the
// timeout. Use it for fast local backends and tests.
func WithTimeoutFloor(d time.Duration) PollOption {
	return func(p *Poller) {
		if d < 0 {
			d = 0
		}
		p.floor = d
	}
}

// NewPoller creates a Poller reading history from src.
func NewPoller(src HistorySource, opts ...PollOption) *Poller {
	p := &Poller{
		src:   src,
		floor: MinPollTimeout,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.timeout <= 0 {
		p.timeout = DefaultPollTimeout
	}
	if p.timeout < p.floor {
		p.timeout = p.floor
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	return p
}

// Timeout returns the effective timeout after defaults and clamping.
func (p *Poller) Timeout() time.Duration { return p.timeout }

// Interval returns the effective pause between fetches.
func (p *Poller) Interval() time.Duration { return p.interval }

// WaitForOutput polls the history of jobID until it yields an image, reports
// a failure, completes empty, or the timeout passes. Fetches are strictly
// sequential. Only a pending record is retried; transport, status and parse
// errors end the wait.
func (p *Poller) WaitForOutput(ctx context.Context, jobID string) (OutputRef, error) {
	start := p.now()
	fetches := 0
	for {
		elapsed := p.now().Sub(start)
		if elapsed >= p.timeout {
			return OutputRef{}, &PollTimeoutError{JobID: jobID, Elapsed: elapsed, Fetches: fetches}
		}

		rec, err := p.src.History(ctx, jobID)
		fetches++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return OutputRef{}, fmt.Errorf("poll job %s: %w", jobID, ctxErr)
			}
			return OutputRef{}, fmt.Errorf("poll job %s: %w", jobID, err)
		}

		if rec != nil {
			if ref, ok := rec.FirstImage(); ok {
				slog.Debug("comfy job produced output", "job", jobID, "file", ref.Filename, "fetches", fetches)
				return ref, nil
			}
			if rec.Status.Completed {
				if s := rec.Status.StatusStr; s != "" && s != "success" {
					return OutputRef{}, &JobFailedError{JobID: jobID, Status: s, Messages: rec.Status.Problems()}
				}
				return OutputRef{}, &EmptyOutputError{JobID: jobID}
			}
		}

		slog.Debug("comfy job pending", "job", jobID, "fetches", fetches)
		if err := p.sleep(ctx, p.interval); err != nil {
			return OutputRef{}, fmt.Errorf("poll job %s: %w", jobID, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTimeout(err error) bool {
	var te *PollTimeoutError
	return errors.As(err, &te)
}
