// Package codegen lowers the AST into x86-64 machine code and
// assembles the result into an ET_REL object file. Buffer is the code
// buffer: it owns the growing .text/.data/.bss byte pools, resolves
// intra-section label references through a name-addressed
// pending-patch map (so forward references to function labels work
// the same way forward references to if/while labels do), and tracks
// which symbols must be visible to the linker.
package codegen

import (
	"encoding/binary"
	"fmt"

	"github.com/kestrel-lang/kestrelc/pkg/objfile"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

// SectionKind names which pool a symbol's offset is relative to.
type SectionKind int

const (
	SectionText SectionKind = iota
	SectionData
	SectionBss
)

type pendingPatch struct {
	offset int
	target string
}

type relocRequest struct {
	offset int
	symbol string
	typ    uint32
	addend int64
}

type symbolExport struct {
	name    string
	bind    byte
	typ     byte
	section SectionKind
	offset  uint64
	size    uint64
	extern  bool // true: undefined, linker-resolved (an ffi declaration)
}

// Buffer accumulates machine code and data for one translation unit.
type Buffer struct {
	text []byte
	data []byte
	bss  uint64

	labels  map[string]int // resolved label name -> .text offset
	pending []pendingPatch
	relocs  []relocRequest

	exports  []*symbolExport
	exportAt map[string]*symbolExport

	labelSeq int

	// Instrs mirrors every instruction passed to Emit, in order. It
	// exists only so internal/codegen/gas can print the same program
	// as GAS assembly text for the non--elf toolchain path; the byte
	// encoding above does not depend on it.
	Instrs []x86.Instruction
}

func NewBuffer() *Buffer {
	return &Buffer{
		labels:   make(map[string]int),
		exportAt: make(map[string]*symbolExport),
	}
}

// FreshLabel returns a unique control-flow label derived from prefix,
// for if/else/while lowering's block boundaries.
func (b *Buffer) FreshLabel(prefix string) string {
	b.labelSeq++
	return fmt.Sprintf(".L%s%d", prefix, b.labelSeq)
}

// Emit assembles one instruction and appends it to .text, recording a
// pending patch or relocation request as needed. A LABEL
// pseudo-instruction instead resolves the current offset against that
// name, patching every prior forward reference to it.
func (b *Buffer) Emit(inst x86.Instruction) error {
	b.Instrs = append(b.Instrs, inst)

	if inst.Mnemonic == x86.LABEL {
		b.defineLabel(inst.Name, len(b.text))
		return nil
	}

	base := len(b.text)
	bytes, patch, rela, err := x86.Encode(inst)
	if err != nil {
		return err
	}
	b.text = append(b.text, bytes...)

	if patch != nil {
		abs := base + patch.Offset
		if target, ok := b.labels[patch.Target]; ok {
			b.patchRel32(abs, target-(abs+4))
		} else {
			b.pending = append(b.pending, pendingPatch{offset: abs, target: patch.Target})
		}
	}
	if rela != nil {
		b.relocs = append(b.relocs, relocRequest{
			offset: base + rela.Offset, symbol: rela.Symbol, typ: uint32(rela.Type), addend: rela.Addend,
		})
	}
	return nil
}

func (b *Buffer) defineLabel(name string, offset int) {
	b.labels[name] = offset
	kept := b.pending[:0]
	for _, p := range b.pending {
		if p.target == name {
			b.patchRel32(p.offset, offset-(p.offset+4))
		} else {
			kept = append(kept, p)
		}
	}
	b.pending = kept
}

func (b *Buffer) patchRel32(offset int, rel int) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(rel)))
	copy(b.text[offset:offset+4], buf[:])
}

// TextOffset reports the current .text write position, e.g. for a
// function prologue to record its own entry point before lowering.
func (b *Buffer) TextOffset() int { return len(b.text) }

// AddStringLiteral appends s's bytes (no NUL terminator: lengths are
// carried as a fat pointer alongside the data pointer) to .data and
// returns a synthetic local label for it.
func (b *Buffer) AddStringLiteral(s string) string {
	b.labelSeq++
	label := fmt.Sprintf(".Lstr%d", b.labelSeq)
	offset := uint64(len(b.data))
	b.data = append(b.data, []byte(s)...)
	b.export(&symbolExport{name: label, bind: objfile.StbLocal, typ: objfile.SttObject, section: SectionData, offset: offset, size: uint64(len(s))})
	return label
}

// ReserveBSS reserves size bytes in .bss for a global/static variable
// and exports name (local unless global is set) bound to it.
func (b *Buffer) ReserveBSS(name string, size uint64, global bool) {
	offset := b.bss
	b.bss += size
	bind := byte(objfile.StbLocal)
	if global {
		bind = objfile.StbGlobal
	}
	b.export(&symbolExport{name: name, bind: bind, typ: objfile.SttObject, section: SectionBss, offset: offset, size: size})
}

// ExportFunction marks name (already defined via Emit(x86.Label(name)))
// as an STT_FUNC symbol, local unless global is set.
func (b *Buffer) ExportFunction(name string, global bool) {
	bind := byte(objfile.StbLocal)
	if global {
		bind = objfile.StbGlobal
	}
	b.export(&symbolExport{name: name, bind: bind, typ: objfile.SttFunc, section: SectionText})
}

// DeclareExternal registers name as an undefined global symbol for an
// extern/foreign function — the target of a Rela-bearing CALL operand.
func (b *Buffer) DeclareExternal(name string) {
	b.export(&symbolExport{name: name, bind: objfile.StbGlobal, typ: objfile.SttNotype, extern: true})
}

// Export is the subset of an export's bookkeeping the gas text
// printer needs — name, byte offset within its section, and size.
type Export struct {
	Name   string
	Offset uint64
	Size   uint64
}

func (b *Buffer) exportsIn(kind SectionKind, externOnly bool) []Export {
	var out []Export
	for _, e := range b.exports {
		if e.extern != externOnly || (!externOnly && e.section != kind) {
			continue
		}
		out = append(out, Export{Name: e.name, Offset: e.offset, Size: e.size})
	}
	return out
}

// BSSExports lists every symbol reserved in .bss (static/global vars).
func (b *Buffer) BSSExports() []Export { return b.exportsIn(SectionBss, false) }

// DataExports lists every symbol defined in .data (string literals).
func (b *Buffer) DataExports() []Export { return b.exportsIn(SectionData, false) }

// FuncExports lists every symbol defined in .text (functions).
func (b *Buffer) FuncExports() []Export { return b.exportsIn(SectionText, false) }

// ExternExports lists every undefined symbol (foreign/ffi declarations).
func (b *Buffer) ExternExports() []Export {
	var out []Export
	for _, e := range b.exports {
		if e.extern {
			out = append(out, Export{Name: e.name})
		}
	}
	return out
}

// DataBytes exposes the accumulated .data contents for gas to slice
// per string-literal export.
func (b *Buffer) DataBytes() []byte { return b.data }

func (b *Buffer) export(e *symbolExport) {
	if _, ok := b.exportAt[e.name]; ok {
		return
	}
	b.exports = append(b.exports, e)
	b.exportAt[e.name] = e
}

// Finish reports an error naming every label referenced but never
// defined — a forward CALL/JMP to a symbol that was never lowered.
func (b *Buffer) Finish() error {
	if len(b.pending) == 0 {
		return nil
	}
	missing := make(map[string]bool)
	for _, p := range b.pending {
		missing[p.target] = true
	}
	var names []string
	for name := range missing {
		names = append(names, name)
	}
	return fmt.Errorf("codegen: unresolved label(s): %v", names)
}

// BuildObject converts the accumulated .text/.data/.bss and exported
// symbols into a linkable object file.
func (b *Buffer) BuildObject(fileName string) (*objfile.File, error) {
	if err := b.Finish(); err != nil {
		return nil, err
	}

	var data []byte
	if len(b.data) > 0 {
		data = b.data
	}
	f := objfile.NewFile(fileName, b.text, data, b.bss)

	symByName := make(map[string]*objfile.Symbol)
	for _, e := range b.exports {
		sym := &objfile.Symbol{Name: e.name, Bind: e.bind, Type: e.typ, Value: e.offset, Size: e.size}
		if !e.extern {
			switch e.section {
			case SectionText:
				sym.Section = f.Text
			case SectionData:
				sym.Section = f.Data
			case SectionBss:
				sym.Section = f.Bss
			}
		}
		f.AddSymbol(sym)
		symByName[e.name] = sym
	}

	for _, r := range b.relocs {
		sym, ok := symByName[r.symbol]
		if !ok {
			return nil, fmt.Errorf("codegen: relocation against undeclared symbol %q", r.symbol)
		}
		f.AddRelocation(uint64(r.offset), sym, r.typ, r.addend)
	}

	return f, nil
}
