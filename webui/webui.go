// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package webui embeds the static browser client served at /.
// The UI itself is an external collaborator of the streaming core; this
// package only ships its bytes.
package webui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var static embed.FS

// Handler serves the embedded UI, with index.html at /.
func Handler() http.Handler {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		// The embed directive guarantees the directory exists; reaching
		// this is a build defect, not a runtime condition.
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
