// Package web embeds the browser orbit viewer served at GET /.
package web

import "embed"

// Content is the viewer: a canvas renderer fed by /api/v1/stream/ws, with
// the time-scale slider and freeze control.
//
//go:embed index.html app.js styles.css
var Content embed.FS
