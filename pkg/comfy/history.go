package comfy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// History fetches the history record for jobID. A nil record with a nil error
// means the backend does not know the job yet.
func (c *Client) History(ctx context.Context, jobID string) (*HistoryRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "history", jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", jobID, err)
	}
	if !resp.ok() {
		return nil, &StatusError{Op: "history " + jobID, StatusCode: resp.code, Body: truncateBody(resp.body)}
	}
	return parseHistory(jobID, resp.body)
}

func parseHistory(jobID string, body []byte) (*HistoryRecord, error) {
	perr := func(reason string) error {
		return &ParseError{Op: "history", JobID: jobID, Reason: reason}
	}
	if !gjson.ValidBytes(body) {
		return nil, perr("invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, perr("top level is not an object")
	}

	// Keys are walked rather than addressed with a path so ids containing
	// gjson path syntax stay literal.
	var entry gjson.Result
	root.ForEach(func(key, value gjson.Result) bool {
		if key.String() == jobID {
			entry = value
			return false
		}
		return true
	})
	if !entry.Exists() {
		return nil, nil
	}
	if !entry.IsObject() {
		return nil, perr("record is not an object")
	}

	rec := &HistoryRecord{JobID: jobID}
	outputs := entry.Get("outputs")
	if outputs.Exists() && !outputs.IsObject() {
		return nil, perr("outputs is not an object")
	}
	var reason string
	outputs.ForEach(func(nodeID, nodeOut gjson.Result) bool {
		out := NodeOutput{NodeID: nodeID.String()}
		images := nodeOut.Get("images")
		if images.Exists() && !images.IsArray() {
			reason = fmt.Sprintf("node %s images is not an array", out.NodeID)
			return false
		}
		for _, img := range images.Array() {
			if !img.IsObject() {
				reason = fmt.Sprintf("node %s image entry is not an object", out.NodeID)
				return false
			}
			out.Images = append(out.Images, ImageRef{
				Filename:  img.Get("filename").String(),
				Subfolder: img.Get("subfolder").String(),
				Type:      img.Get("type").String(),
			})
		}
		rec.Outputs = append(rec.Outputs, out)
		return true
	})
	if reason != "" {
		return nil, perr(reason)
	}

	status := entry.Get("status")
	if status.Exists() && !status.IsObject() {
		return nil, perr("status is not an object")
	}
	rec.Status.Completed = status.Get("completed").Bool()
	rec.Status.StatusStr = status.Get("status_str").String()
	for _, m := range status.Get("messages").Array() {
		if !m.IsArray() {
			continue
		}
		pair := m.Array()
		if len(pair) == 0 {
			continue
		}
		msg := StatusMessage{Event: pair[0].String()}
		if len(pair) > 1 {
			data := pair[1]
			msg.NodeID = data.Get("node_id").String()
			msg.NodeType = data.Get("node_type").String()
			msg.Exception = data.Get("exception_message").String()
		}
		rec.Status.Messages = append(rec.Status.Messages, msg)
	}
	return rec, nil
}
