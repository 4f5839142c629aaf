package comfy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ModelFolders lists the model folder names the backend exposes
// (checkpoints, loras, vae, ...).
func (c *Client) ModelFolders(ctx context.Context) ([]string, error) {
	body, err := c.getJSON(ctx, "models", "models")
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, &ParseError{Op: "models", Reason: "expected an array of folder names"}
	}
	return stringList(root), nil
}

// Models lists the model files in folder. The backend may answer with a bare
// array or wrap it under "models", "loras" or "checkpoints".
func (c *Client) Models(ctx context.Context, folder string) ([]string, error) {
	if folder == "" {
		return nil, fmt.Errorf("models: folder is required")
	}
	op := "models/" + folder
	body, err := c.getJSON(ctx, op, "models", folder)
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return stringList(root), nil
	}
	if root.IsObject() {
		for _, key := range []string{"models", "loras", "checkpoints"} {
			if v := root.Get(key); v.IsArray() {
				return stringList(v), nil
			}
		}
	}
	return nil, &ParseError{Op: op, Reason: "expected an array or an object with a models list"}
}

// Options returns the enumerated choices of a node class input, such as
// KSampler's sampler_name. An unknown class yields a StatusError wrapping
// ErrClassNotFound.
func (c *Client) Options(ctx context.Context, class, input string) ([]string, error) {
	if class == "" || input == "" {
		return nil, fmt.Errorf("options: class and input are required")
	}
	op := "object_info/" + class
	body, err := c.getJSON(ctx, op, "object_info", class)
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, &ParseError{Op: op, Reason: "expected an object"}
	}

	var info gjson.Result
	root.ForEach(func(key, value gjson.Result) bool {
		if key.String() == class {
			info = value
			return false
		}
		return true
	})
	if !info.Exists() {
		return nil, &StatusError{Op: op, StatusCode: http.StatusNotFound, Err: ErrClassNotFound}
	}

	var def gjson.Result
	for _, section := range []string{"required", "optional"} {
		info.Get("input." + section).ForEach(func(key, value gjson.Result) bool {
			if key.String() == input {
				def = value
				return false
			}
			return true
		})
		if def.Exists() {
			break
		}
	}
	if !def.Exists() {
		return nil, fmt.Errorf("%s: class has no input %q", op, input)
	}

	first := def.Get("0")
	switch {
	case first.IsArray():
		return stringList(first), nil
	case first.String() == "COMBO":
		if opts := def.Get("1.options"); opts.IsArray() {
			return stringList(opts), nil
		}
	}
	return nil, fmt.Errorf("%s: input %q is not an enumerated choice", op, input)
}

func (c *Client) getJSON(ctx context.Context, op string, segments ...string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint(nil, segments...), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !resp.ok() {
		se := &StatusError{Op: op, StatusCode: resp.code, Body: truncateBody(resp.body)}
		if resp.code == http.StatusNotFound && segments[0] == "object_info" {
			se.Err = ErrClassNotFound
		}
		return nil, se
	}
	if !gjson.ValidBytes(resp.body) {
		return nil, &ParseError{Op: op, Reason: "invalid JSON"}
	}
	return resp.body, nil
}

// stringList collects string elements; objects contribute their "name".
func stringList(arr gjson.Result) []string {
	out := []string{}
	for _, v := range arr.Array() {
		switch {
		case v.Type == gjson.String:
			out = append(out, v.String())
		case v.IsObject() && v.Get("name").Type == gjson.String:
			out = append(out, v.Get("name").String())
		}
	}
	return out
}
