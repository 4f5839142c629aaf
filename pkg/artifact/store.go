// Package artifact persists retrieved job artifacts to a local directory or
// an S3 bucket.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Store persists artifact bytes under a name and returns where they went.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Open returns a Store for loc: "s3://bucket/prefix" selects S3, anything
// else is treated as a local directory.
func Open(ctx context.Context, loc string) (Store, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return nil, fmt.Errorf("artifact: output location is empty")
	}
	if rest, ok := strings.CutPrefix(loc, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("artifact: %q has no bucket", loc)
		}
		return NewS3Store(ctx, bucket, prefix)
	}
	return NewFileStore(loc)
}

// ContentType guesses a MIME type from the artifact file name.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// cleanName strips directories so names coming from the backend cannot
// escape the store root.
func cleanName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", fmt.Errorf("artifact: invalid name %q", name)
	}
	return base, nil
}
