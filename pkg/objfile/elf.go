// Package objfile writes ET_REL (relocatable) ELF64 object files. It
// has no dependency on the instruction encoder and can be used
// standalone.
package objfile

import (
	"bytes"
	"encoding/binary"
	"io"
)

// ELF64 constants (subset used by this writer).
const (
	eiNident = 16

	elfMag0     = 0x7f
	elfMag1     = 'E'
	elfMag2     = 'L'
	elfMag3     = 'F'
	elfClass64  = 2
	elfData2LSB = 1
	evCurrent   = 1

	etRel = 1

	emX8664 = 62

	ShtNull     = 0
	ShtProgbits = 1
	ShtSymtab   = 2
	ShtStrtab   = 3
	ShtRela     = 4
	ShtNobits   = 8

	ShfWrite     = 0x1
	ShfAlloc     = 0x2
	ShfExecinstr = 0x4

	StbLocal  = 0
	StbGlobal = 1

	SttNotype  = 0
	SttObject  = 1
	SttFunc    = 2
	SttSection = 3
	SttFile    = 4

	shnUndef = 0

	RPC32  = 2  // R_X86_64_PC32
	RPLT32 = 4  // R_X86_64_PLT32
	R32S   = 11 // R_X86_64_32S
)

// Section is one ELF section: .text, .data, .bss, .symtab, .strtab,
// .shstrtab, or .rela.text.
type Section struct {
	Name      string
	Type      uint32
	Flags     uint64
	Addralign uint64
	Entsize   uint64
	Link      uint32
	Info      uint32
	Content   []byte
	Size      uint64 // overrides len(Content) for SHT_NOBITS (.bss)

	index   uint16
	nameIdx uint32
	offset  uint64
}

// Symbol is one ELF symbol table entry.
type Symbol struct {
	Name    string
	Bind    byte
	Type    byte
	Section *Section // nil means SHN_UNDEF (an ffi symbol resolved by the linker)
	Value   uint64
	Size    uint64

	nameIdx uint32
}

func (s *Symbol) info() byte { return (s.Bind << 4) | (s.Type & 0xf) }

// Relocation is one .rela.text entry, applied against .text (the only
// section this compiler back-patches via the linker rather than
// itself).
type Relocation struct {
	Offset uint64
	Symbol *Symbol
	Type   uint32
	Addend int64
}

// File assembles an ET_REL object file section by section.
type File struct {
	FileName string // synthetic STT_FILE symbol name, e.g. "a.ke"

	// Text, Data, and Bss are exposed so callers can bind Symbol.Section
	// to them directly; Data and Bss are nil when NewFile was given none.
	Text, Data, Bss *Section

	sections []*Section
	symbols  []*Symbol
	relocs   []*Relocation

	text *Section
}

// NewFile starts a new object file. text is the .text section content
// (already fully encoded and patched for intra-section label
// references); data and bss may be nil when the program defines none.
func NewFile(fileName string, text, data []byte, bssSize uint64) *File {
	f := &File{FileName: fileName}

	f.text = &Section{Name: ".text", Type: ShtProgbits, Flags: ShfAlloc | ShfExecinstr, Addralign: 16, Content: text}
	f.Text = f.text
	f.sections = append(f.sections, f.text)

	if data != nil {
		f.Data = &Section{Name: ".data", Type: ShtProgbits, Flags: ShfAlloc | ShfWrite, Addralign: 8, Content: data}
		f.sections = append(f.sections, f.Data)
	}
	if bssSize > 0 {
		f.Bss = &Section{Name: ".bss", Type: ShtNobits, Flags: ShfAlloc | ShfWrite, Addralign: 8, Size: bssSize}
		f.sections = append(f.sections, f.Bss)
	}
	return f
}

// AddSymbol registers a symbol. A nil section marks the symbol
// undefined (STB_GLOBAL, SHN_UNDEF) — the shape the linker expects for
// an extern/ffi declaration.
func (f *File) AddSymbol(sym *Symbol) *Symbol {
	f.symbols = append(f.symbols, sym)
	return sym
}

// AddRelocation records a .rela.text entry against offset (a byte
// offset into the .text content passed to NewFile).
func (f *File) AddRelocation(offset uint64, sym *Symbol, typ uint32, addend int64) {
	f.relocs = append(f.relocs, &Relocation{Offset: offset, Symbol: sym, Type: typ, Addend: addend})
}

type stringTable struct {
	data []byte
	seen map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{data: []byte{0}, seen: make(map[string]uint32)}
}

func (st *stringTable) add(s string) uint32 {
	if s == "" {
		return 0
	}
	if idx, ok := st.seen[s]; ok {
		return idx
	}
	idx := uint32(len(st.data))
	st.data = append(st.data, []byte(s)...)
	st.data = append(st.data, 0)
	st.seen[s] = idx
	return idx
}

// WriteTo serializes the complete object file: header, section
// contents, then section headers.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	shstrtab := newStringTable()
	strtab := newStringTable()

	// Symbol table ordering: null, STT_FILE, one STT_SECTION per
	// section (in declaration order), then local symbols, then
	// global symbols.
	// Index the null section and the content sections now, so the
	// STT_SECTION symbols below record the right st_shndx; the
	// remaining synthetic sections (.symtab, .strtab, .rela.text,
	// .shstrtab) get appended and indexed after the symbol table
	// exists, since .symtab's own index feeds .rela.text's sh_link.
	nullSec := &Section{Type: ShtNull}
	nullSec.index = 0
	for i, sec := range f.sections {
		sec.index = uint16(i + 1)
	}

	symBuf := new(bytes.Buffer)
	var ordered []*Symbol
	symIdx := make(map[*Symbol]int)

	writeSym := func(s *Symbol) {
		idx := len(ordered)
		ordered = append(ordered, s)
		symIdx[s] = idx

		var shndx uint16 = shnUndef
		if s.Section != nil {
			shndx = s.Section.index
		}
		nameIdx := strtab.add(s.Name)
		binary.Write(symBuf, binary.LittleEndian, nameIdx)
		symBuf.WriteByte(s.info())
		symBuf.WriteByte(0) // st_other
		binary.Write(symBuf, binary.LittleEndian, shndx)
		binary.Write(symBuf, binary.LittleEndian, s.Value)
		binary.Write(symBuf, binary.LittleEndian, s.Size)
	}

	writeSym(&Symbol{}) // null symbol

	writeSym(&Symbol{Name: f.FileName, Bind: StbLocal, Type: SttFile, Value: 0})

	for _, sec := range f.sections {
		writeSym(&Symbol{Section: sec, Bind: StbLocal, Type: SttSection})
	}

	for _, s := range f.symbols {
		if s.Bind == StbLocal {
			writeSym(s)
		}
	}
	firstGlobal := len(ordered)
	for _, s := range f.symbols {
		if s.Bind != StbLocal {
			writeSym(s)
		}
	}

	symtabSec := &Section{
		Name: ".symtab", Type: ShtSymtab, Addralign: 8, Entsize: 24,
		Info: uint32(firstGlobal), Content: symBuf.Bytes(),
	}

	haveRela := len(f.relocs) > 0
	relaSec := &Section{Name: ".rela.text", Type: ShtRela, Addralign: 8, Entsize: 24}

	// allSections holds every section in final on-disk order, section
	// index 0 reserved for SHT_NULL: null, content sections, .symtab,
	// .strtab, .shstrtab, .rela.text last.
	allSections := []*Section{nullSec}
	allSections = append(allSections, f.sections...)
	allSections = append(allSections, symtabSec)
	strtabSec := &Section{Name: ".strtab", Type: ShtStrtab, Addralign: 1}
	allSections = append(allSections, strtabSec)
	shstrtabSec := &Section{Name: ".shstrtab", Type: ShtStrtab, Addralign: 1}
	allSections = append(allSections, shstrtabSec)
	if haveRela {
		allSections = append(allSections, relaSec)
	}

	for i, sec := range allSections {
		sec.index = uint16(i)
	}
	symtabSec.Link = uint32(strtabSec.index)
	if haveRela {
		relaSec.Link = uint32(symtabSec.index)
		relaSec.Info = uint32(f.text.index)

		relaBuf := new(bytes.Buffer)
		for _, r := range f.relocs {
			rInfo := (uint64(symIdx[r.Symbol]) << 32) | uint64(r.Type)
			binary.Write(relaBuf, binary.LittleEndian, r.Offset)
			binary.Write(relaBuf, binary.LittleEndian, rInfo)
			binary.Write(relaBuf, binary.LittleEndian, r.Addend)
		}
		relaSec.Content = relaBuf.Bytes()
	}

	for _, sec := range allSections {
		sec.nameIdx = shstrtab.add(sec.Name)
	}
	strtabSec.Content = strtab.data
	shstrtabSec.Content = shstrtab.data

	const headerSize = 64
	offset := uint64(headerSize)
	for _, sec := range allSections {
		if sec.Type == ShtNull {
			continue
		}
		if sec.Addralign > 0 && offset%sec.Addralign != 0 {
			offset += sec.Addralign - (offset % sec.Addralign)
		}
		sec.offset = offset
		if sec.Type != ShtNobits {
			offset += uint64(len(sec.Content))
		}
	}
	shoff := offset

	var out bytes.Buffer
	writeHeader(&out, shoff, uint16(len(allSections)), shstrtabSec.index)

	written := uint64(headerSize)
	for _, sec := range allSections {
		if sec.Type == ShtNull || sec.Type == ShtNobits {
			continue
		}
		if sec.offset > written {
			out.Write(make([]byte, sec.offset-written))
			written = sec.offset
		}
		out.Write(sec.Content)
		written += uint64(len(sec.Content))
	}

	for _, sec := range allSections {
		writeSectionHeader(&out, sec)
	}

	n, err := w.Write(out.Bytes())
	return int64(n), err
}

func writeHeader(w io.Writer, shoff uint64, shnum, shstrndx uint16) {
	var ident [eiNident]byte
	ident[0] = elfMag0
	ident[1] = elfMag1
	ident[2] = elfMag2
	ident[3] = elfMag3
	ident[4] = elfClass64
	ident[5] = elfData2LSB
	ident[6] = evCurrent

	binary.Write(w, binary.LittleEndian, ident)
	binary.Write(w, binary.LittleEndian, uint16(etRel))
	binary.Write(w, binary.LittleEndian, uint16(emX8664))
	binary.Write(w, binary.LittleEndian, uint32(evCurrent))
	binary.Write(w, binary.LittleEndian, uint64(0)) // e_entry
	binary.Write(w, binary.LittleEndian, uint64(0)) // e_phoff
	binary.Write(w, binary.LittleEndian, shoff)
	binary.Write(w, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(w, binary.LittleEndian, uint16(64)) // e_ehsize
	binary.Write(w, binary.LittleEndian, uint16(0))  // e_phentsize
	binary.Write(w, binary.LittleEndian, uint16(0))  // e_phnum
	binary.Write(w, binary.LittleEndian, uint16(64)) // e_shentsize
	binary.Write(w, binary.LittleEndian, shnum)
	binary.Write(w, binary.LittleEndian, shstrndx)
}

func writeSectionHeader(w io.Writer, sec *Section) {
	size := sec.Size
	if sec.Type != ShtNobits && sec.Type != ShtNull {
		size = uint64(len(sec.Content))
	}
	binary.Write(w, binary.LittleEndian, sec.nameIdx)
	binary.Write(w, binary.LittleEndian, sec.Type)
	binary.Write(w, binary.LittleEndian, sec.Flags)
	binary.Write(w, binary.LittleEndian, uint64(0)) // sh_addr
	binary.Write(w, binary.LittleEndian, sec.offset)
	binary.Write(w, binary.LittleEndian, size)
	binary.Write(w, binary.LittleEndian, sec.Link)
	binary.Write(w, binary.LittleEndian, sec.Info)
	binary.Write(w, binary.LittleEndian, sec.Addralign)
	binary.Write(w, binary.LittleEndian, sec.Entsize)
}
