package comfy

import (
	"time"
)

// OutputRef locates an artifact produced by a job.
type OutputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	NodeID    string `json:"node_id,omitempty"`
}

// ImageRef is an image entry of a node's history output.
type ImageRef struct {
	Filename  string
	Subfolder string
	Type      string
}

// NodeOutput holds the images one node produced, in backend order.
type NodeOutput struct {
	NodeID string
	Images []ImageRef
}

// StatusMessage is one entry of a job's status message log, e.g.
// execution_start or execution_error.
type StatusMessage struct {
	Event     string
	NodeID    string
	NodeType  string
	Exception string
}

// JobStatus is the status block of a history record.
type JobStatus struct {
	Completed bool
	StatusStr string
	Messages  []StatusMessage
}

// Problems returns human-readable descriptions of error and interrupt events.
func (s JobStatus) Problems() []string {
	var out []string
	for _, m := range s.Messages {
		switch m.Event {
		case "execution_error":
			desc := "execution error"
			if m.NodeID != "" {
				desc = "node " + m.NodeID
				if m.NodeType != "" {
					desc += " (" + m.NodeType + ")"
				}
			}
			if m.Exception != "" {
				desc += ": " + m.Exception
			}
			out = append(out, desc)
		case "execution_interrupted":
			out = append(out, "execution interrupted")
		}
	}
	return out
}

// HistoryRecord is the backend's view of one job.
type HistoryRecord struct {
	JobID   string
	Outputs []NodeOutput
	Status  JobStatus
}

// FirstImage returns the first image of the first node, in backend order,
// that reported one.
func (h *HistoryRecord) FirstImage() (OutputRef, bool) {
	for _, out := range h.Outputs {
		if len(out.Images) == 0 || out.Images[0].Filename == "" {
			continue
		}
		img := out.Images[0]
		ref := OutputRef{Filename: img.Filename, Subfolder: img.Subfolder, Type: img.Type, NodeID: out.NodeID}
		if ref.Type == "" {
			ref.Type = "output"
		}
		return ref, true
	}
	return OutputRef{}, false
}

// NodeError is the backend's validation report for one node.
type NodeError struct {
	ClassType string       `json:"class_type"`
	Errors    []ErrorEntry `json:"errors"`
}

// ErrorEntry is a single validation diagnostic.
type ErrorEntry struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// JobState is the lifecycle state of a submitted job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed-out"
)

// Job tracks one submission through polling and retrieval.
type Job struct {
	ID          string
	ClientID    string
	Number      int
	SubmittedAt time.Time
	State       JobState
	Err         error
}

// Finish records the terminal outcome of the job.
func (j *Job) Finish(err error) {
	j.Err = err
	switch {
	case err == nil:
		j.State = JobSucceeded
	case isTimeout(err):
		j.State = JobTimedOut
	default:
		j.State = JobFailed
	}
}
