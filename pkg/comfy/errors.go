package comfy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClassNotFound is wrapped by the StatusError returned when object_info
// has no entry for the requested node class.
var ErrClassNotFound = errors.New("node class not found in object_info")

// SubmitError is returned when the backend rejects a job graph.
type SubmitError struct {
	StatusCode int
	Type       string
	Message    string
	Details    string
	NodeErrors map[string]NodeError
	// Summary lists at most two diagnostics per node, one per line.
	Summary string
}

func (e *SubmitError) Error() string {
	var sb strings.Builder
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, "submit failed (%d): %s", e.StatusCode, e.Message)
	} else {
		fmt.Fprintf(&sb, "submit failed: %s", e.Message)
	}
	if e.Details != "" {
		sb.WriteString(": " + e.Details)
	}
	if e.Summary != "" {
		sb.WriteString("\n" + e.Summary)
	}
	return sb.String()
}

// JobFailedError is returned when a job completes with a non-success status.
type JobFailedError struct {
	JobID    string
	Status   string
	Messages []string
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("job %s completed with status %q", e.JobID, e.Status)
	if len(e.Messages) > 0 {
		msg += ": " + strings.Join(e.Messages, "; ")
	}
	return msg
}

// EmptyOutputError is returned when a job completes without producing an
// image. Fully cached runs do this; changing the seed or prompt avoids it.
type EmptyOutputError struct {
	JobID string
}

func (e *EmptyOutputError) Error() string {
	return fmt.Sprintf("job %s completed but returned no outputs; change the seed or prompt to avoid a fully cached run", e.JobID)
}

// PollTimeoutError is returned when a job produces no output before the
// poll deadline.
type PollTimeoutError struct {
	JobID   string
	Elapsed time.Duration
	Fetches int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for job %s after %s (%d history fetches)", e.JobID, e.Elapsed.Round(time.Millisecond), e.Fetches)
}

// FetchError is returned when an artifact download fails.
type FetchError struct {
	Ref        OutputRef
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s failed (%d)", e.Ref.Filename, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// StatusError is returned for non-2xx responses from read-only endpoints.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s failed (%d)", e.Op, e.StatusCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.Err }

// ParseError is returned when a backend payload does not have the expected
// shape.
type ParseError struct {
	Op     string
	JobID  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s: job %s: malformed response: %s", e.Op, e.JobID, e.Reason)
	}
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Reason)
}

// truncateBody shortens response bodies carried in errors.
func truncateBody(b []byte) string {
	const maxLen = 2048
	s := strings.TrimSpace(string(b))
	if len(s) > maxLen {
		return s[:maxLen] + "…"
	}
	return s
}
