package diag

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Printer renders Diagnostics as "file:line:col: kind: detail",
// highlighting the kind the way cucaracha's syntax_highlight.go
// colors token classes with color.New(...) per category.
type Printer struct {
	w      io.Writer
	kind   *color.Color
	detail *color.Color
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:      w,
		kind:   color.New(color.FgRed, color.Bold),
		detail: color.New(color.FgWhite),
	}
}

func (p *Printer) Print(d *Diagnostic) {
	fmt.Fprintf(p.w, "%s: ", d.Pos)
	p.kind.Fprintf(p.w, "%s", d.Kind)
	fmt.Fprint(p.w, ": ")
	p.detail.Fprintln(p.w, d.Detail)
}
