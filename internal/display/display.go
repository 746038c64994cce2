// Package display renders schema diffs, mapping rule sets, archive listings
// and restore reports for terminal output. Color is applied only when the
// output is an interactive terminal that supports it.
package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Renderer writes human-readable reports to a single output stream.
type Renderer struct {
	out    io.Writer
	colors bool
}

// NewRenderer creates a renderer for the given stream with automatic color
// detection. Detection only applies when the stream is os.Stdout or
// os.Stderr; any other writer gets plain text.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out, colors: detectColorSupport(out)}
}

// NewPlainRenderer creates a renderer that never emits color codes.
func NewPlainRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// ColorsEnabled reports whether the renderer emits ANSI color codes.
func (r *Renderer) ColorsEnabled() bool {
	return r.colors
}

// detectColorSupport checks if the output stream supports colors.
func detectColorSupport(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return termenv.ColorProfile() != termenv.Ascii
}

// Printf writes a formatted line to the renderer's output stream.
func (r *Renderer) Printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Renderer) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Renderer) println(args ...interface{}) {
	fmt.Fprintln(r.out, args...)
}

func (r *Renderer) sprint(c *color.Color, text string) string {
	if !r.colors {
		return text
	}
	return c.Sprint(text)
}

var (
	colorAdded   = color.New(color.FgGreen)
	colorRemoved = color.New(color.FgRed)
	colorChanged = color.New(color.FgYellow)
	colorHeading = color.New(color.FgCyan, color.Bold)
	colorMuted   = color.New(color.FgHiBlack)
	colorWarn    = color.New(color.FgYellow)
	colorError   = color.New(color.FgRed, color.Bold)
	colorOK      = color.New(color.FgGreen, color.Bold)
)

// heading prints a section title followed by its underline.
func (r *Renderer) heading(title string) {
	r.println(r.sprint(colorHeading, title))
}

// humanSize formats a byte count with a binary unit suffix.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
