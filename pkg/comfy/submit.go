package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ravi-parthasarathy/comfyflow/pkg/workflow"
)

// maxErrorsPerNode bounds how many diagnostics per node go into a summary.
const maxErrorsPerNode = 2

type submitRequest struct {
	Prompt   *workflow.Graph `json:"prompt"`
	ClientID string          `json:"client_id"`
}

// Submit queues g for execution and returns the pending job.
func (c *Client) Submit(ctx context.Context, g *workflow.Graph) (*Job, error) {
	body, err := json.Marshal(submitRequest{Prompt: g, ClientID: c.clientID})
	if err != nil {
		return nil, fmt.Errorf("submit: encode graph: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "prompt"), body)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	parsed := gjson.ParseBytes(resp.body)
	if !resp.ok() {
		return nil, submitFailure(resp, parsed)
	}
	if !gjson.ValidBytes(resp.body) || !parsed.IsObject() {
		return nil, &ParseError{Op: "submit", Reason: "response is not a JSON object"}
	}

	nodeErrs := decodeNodeErrors(parsed.Get("node_errors"))
	if len(nodeErrs) > 0 {
		e := &SubmitError{StatusCode: resp.code, Message: "backend reported node errors", NodeErrors: nodeErrs}
		e.Summary = summarizeNodeErrors(nodeErrs)
		return nil, e
	}
	id := parsed.Get("prompt_id").String()
	if id == "" {
		return nil, &SubmitError{StatusCode: resp.code, Message: "response has no prompt_id", Details: truncateBody(resp.body)}
	}

	job := &Job{
		ID:          id,
		ClientID:    c.clientID,
		Number:      int(parsed.Get("number").Int()),
		SubmittedAt: time.Now(),
		State:       JobPending,
	}
	slog.Debug("comfy job submitted", "job", job.ID, "number", job.Number, "nodes", g.Len())
	return job, nil
}

func submitFailure(resp *response, parsed gjson.Result) *SubmitError {
	e := &SubmitError{StatusCode: resp.code}
	if gjson.ValidBytes(resp.body) && parsed.IsObject() {
		switch errv := parsed.Get("error"); {
		case errv.IsObject():
			e.Type = errv.Get("type").String()
			e.Message = errv.Get("message").String()
			e.Details = errv.Get("details").String()
		case errv.Type == gjson.String:
			e.Message = errv.String()
		}
		if e.Message == "" {
			e.Message = parsed.Get("message").String()
		}
		e.NodeErrors = decodeNodeErrors(parsed.Get("node_errors"))
		e.Summary = summarizeNodeErrors(e.NodeErrors)
	}
	if e.Message == "" && len(e.NodeErrors) == 0 {
		e.Message = strings.TrimSpace(resp.status)
		if body := truncateBody(resp.body); body != "" {
			e.Details = body
		}
	}
	return e
}

func decodeNodeErrors(v gjson.Result) map[string]NodeError {
	if !v.IsObject() {
		return nil
	}
	out := map[string]NodeError{}
	v.ForEach(func(id, info gjson.Result) bool {
		ne := NodeError{ClassType: info.Get("class_type").String()}
		for _, e := range info.Get("errors").Array() {
			ne.Errors = append(ne.Errors, ErrorEntry{
				Type:    e.Get("type").String(),
				Message: e.Get("message").String(),
				Details: e.Get("details").String(),
			})
		}
		out[id.String()] = ne
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// summarizeNodeErrors renders "node N: message (details)" lines, nodes in
// numeric id order, at most maxErrorsPerNode per node.
func summarizeNodeErrors(errs map[string]NodeError) string {
	ids := make([]workflow.ID, 0, len(errs))
	for id := range errs {
		ids = append(ids, workflow.ID(id))
	}
	workflow.SortIDs(ids)

	var lines []string
	for _, id := range ids {
		entries := errs[string(id)].Errors
		if len(entries) > maxErrorsPerNode {
			entries = entries[:maxErrorsPerNode]
		}
		for _, e := range entries {
			msg := e.Message
			if msg == "" {
				msg = e.Type
			}
			if msg == "" {
				msg = "error"
			}
			line := fmt.Sprintf("node %s: %s", id, msg)
			if e.Details != "" {
				line += " (" + e.Details + ")"
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
