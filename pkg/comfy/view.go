package comfy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// FetchArtifact downloads the artifact ref points at. Subfolder defaults to
// "" and type to "output".
func (c *Client) FetchArtifact(ctx context.Context, ref OutputRef) ([]byte, error) {
	if ref.Filename == "" {
		return nil, fmt.Errorf("fetch artifact: filename is required")
	}
	typ := ref.Type
	if typ == "" {
		typ = "output"
	}
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", typ)

	resp, err := c.do(ctx, http.MethodGet, c.endpoint(q, "view"), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref.Filename, err)
	}
	if !resp.ok() {
		return nil, &FetchError{Ref: ref, StatusCode: resp.code, Body: truncateBody(resp.body)}
	}
	return resp.body, nil
}
