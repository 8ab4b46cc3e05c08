// Package mdview is a local markdown editor with a live preview.
//
// Regenerate the bundled highlight stylesheet with:
//
//	go generate
package mdview

//go:generate go run ./tools/generate-chroma-css --style github-dark --out static/css/highlight.css
