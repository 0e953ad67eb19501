// Package report renders a loaded module as a human readable listing of its
// types, methods and IL instructions.
package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"ilpatch/internal/cil"
	"ilpatch/internal/metadata"
)

// Printer writes listings to an output stream. It only reads the model.
type Printer struct {
	w io.Writer

	header  *color.Color
	typ     *color.Color
	method  *color.Color
	offset  *color.Color
	opcode  *color.Color
	operand *color.Color
	muted   *color.Color
}

// NewPrinter returns a printer writing to w, with terminal colors when
// colored is set.
func NewPrinter(w io.Writer, colored bool) *Printer {
	p := &Printer{
		w:       w,
		header:  color.New(color.FgGreen),
		typ:     color.New(color.FgCyan, color.Bold),
		method:  color.New(color.FgYellow),
		offset:  color.New(color.FgHiBlack),
		opcode:  color.New(color.FgBlue),
		operand: color.New(color.FgMagenta),
		muted:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.header, p.typ, p.method, p.offset, p.opcode, p.operand, p.muted} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Loaded prints the identity line shown after a successful load.
func (p *Printer) Loaded(m *metadata.Module) {
	name := m.Name()
	if a := m.Assembly(); a != nil {
		name = a.String()
	}
	p.header.Fprintf(p.w, "Successfully loaded assembly: %s\n\n", name)
}

// Saved prints the path a patched module was written to.
func (p *Printer) Saved(path string) {
	p.header.Fprintf(p.w, "Modified assembly saved to: %s\n", path)
}

// Module prints every type of m with its methods and their instructions.
func (p *Printer) Module(m *metadata.Module) {
	for _, t := range m.Types() {
		p.Type(t)
	}
}

// Type prints one type and its methods followed by a blank line.
func (p *Printer) Type(t *metadata.TypeDecl) {
	fmt.Fprintf(p.w, "Type: %s\n", p.typ.Sprint(t.FullName()))
	for _, method := range t.Methods() {
		p.Method(method)
	}
	fmt.Fprintln(p.w)
}

// Method prints a method header and its IL listing.
func (p *Printer) Method(method *metadata.MethodDecl) {
	fmt.Fprintf(p.w, "\tMethod: %s\n", p.method.Sprint(method.Name))

	body := method.PeekBody()
	if body == nil {
		p.muted.Fprintln(p.w, "\t\t(no IL body, abstract or external)")
		return
	}
	fmt.Fprintln(p.w, "\t\tIL Instructions:")
	offset := 0
	for _, ins := range body.Instructions {
		p.instruction(offset, ins)
		offset += ins.Size()
	}
}

func (p *Printer) instruction(offset int, ins *cil.Instruction) {
	line := fmt.Sprintf("\t\t\t%s %s", p.offset.Sprintf("IL_%04x:", offset), p.opcode.Sprint(ins.OpCode.Name))
	if ins.Operand != nil {
		if text := ins.Operand.String(); text != "" {
			line += " " + p.operand.Sprint(text)
		}
	}
	fmt.Fprintln(p.w, line)
}
