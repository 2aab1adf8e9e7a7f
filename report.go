package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Reporter prints one line per rendering URL and per written page.
type Reporter struct {
	w     io.Writer
	name  *color.Color
	path  *color.Color
	fails *color.Color
}

// NewReporter writes to w. Colour follows color.NoColor, which is set
// when stdout is not a terminal.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{
		w:     w,
		name:  color.New(color.FgCyan, color.Bold),
		path:  color.New(color.FgGreen),
		fails: color.New(color.FgRed),
	}
}

// URL reports the rendering URL of an output image.
func (r *Reporter) URL(name, url string) {
	fmt.Fprintf(r.w, "%s: %s\n", r.name.Sprint(name), url)
}

// Created reports a written HTML page.
func (r *Reporter) Created(path string) {
	fmt.Fprintf(r.w, "Created HTML file: %s\n", r.path.Sprint(path))
}

// Skipped reports a source that failed and was left behind.
func (r *Reporter) Skipped(source string, err error) {
	fmt.Fprintf(r.w, "%s %s: %v\n", r.fails.Sprint("Skipped"), source, err)
}
