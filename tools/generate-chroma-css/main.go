// Package main writes the chroma stylesheet used by the preview's code
// blocks.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/euforicio/mdview/internal/highlight"
)

func main() {
	style := pflag.StringP("style", "s", highlight.DefaultStyle, "Chroma style name")
	out := pflag.StringP("out", "o", "", "Output file (default stdout)")
	pflag.Parse()

	if err := run(*style, *out); err != nil {
		fmt.Fprintf(os.Stderr, "generate-chroma-css: %v\n", err)
		os.Exit(1)
	}
}

func run(style, out string) (err error) {
	var w io.Writer = os.Stdout
	if out != "" {
		f, createErr := os.Create(out)
		if createErr != nil {
			return createErr
		}
		defer func() {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}()
		w = f
	}
	return highlight.WriteCSS(w, style)
}
