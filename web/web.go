// Package web holds the booking page template and its static assets.
package web

import "embed"

// FS contains index.html and the static/ directory.
//
//go:embed index.html static
var FS embed.FS
