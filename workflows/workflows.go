// Package workflows bundles the stock job graph templates.
package workflows

import "embed"

// DefaultFamily is the template used when none is configured.
const DefaultFamily = "sd_basic"

// FS holds <family>.json graphs and their binding tables.
//
//go:embed *.json
var FS embed.FS
