package objfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteToMinimalObject(t *testing.T) {
	text := []byte{0xC3} // ret
	f := NewFile("a.ke", text, nil, 0)
	f.AddSymbol(&Symbol{Name: "main", Bind: StbGlobal, Type: SttFunc, Section: f.Text})

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	out := buf.Bytes()
	require.GreaterOrEqual(t, len(out), 64)

	// e_ident magic + class + data encoding
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, out[0:4])
	assert.Equal(t, byte(elfClass64), out[4])
	assert.Equal(t, byte(elfData2LSB), out[5])

	// e_type (ET_REL) at offset 16, e_machine (EM_X86_64) at offset 18
	assert.Equal(t, uint16(etRel), binary.LittleEndian.Uint16(out[16:18]))
	assert.Equal(t, uint16(emX8664), binary.LittleEndian.Uint16(out[18:20]))

	// No data/bss and no relocations: sections are
	// null, .text, .symtab, .strtab, .shstrtab => 5.
	eShnum := binary.LittleEndian.Uint16(out[60:62])
	eShstrndx := binary.LittleEndian.Uint16(out[62:64])
	assert.EqualValues(t, 5, eShnum)
	assert.EqualValues(t, eShnum-1, eShstrndx)
}

func TestWriteToWithDataBssAndRelocation(t *testing.T) {
	text := make([]byte, 8)
	f := NewFile("b.ke", text, []byte("hi"), 8)
	strSym := f.AddSymbol(&Symbol{Name: ".Lstr1", Bind: StbLocal, Type: SttObject, Section: f.Data, Size: 2})
	f.AddSymbol(&Symbol{Name: "counter", Bind: StbGlobal, Type: SttObject, Section: f.Bss, Size: 8})
	f.AddRelocation(0, strSym, R32S, 0)

	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	out := buf.Bytes()
	eShnum := binary.LittleEndian.Uint16(out[60:62])
	// null, .text, .data, .bss, .symtab, .strtab, .shstrtab, .rela.text => 8.
	assert.EqualValues(t, 8, eShnum)
}

func TestAddRelocationAgainstUndefinedSymbolAllowed(t *testing.T) {
	f := NewFile("c.ke", []byte{0x90}, nil, 0)
	undef := f.AddSymbol(&Symbol{Name: "printf", Bind: StbGlobal, Type: SttNotype})
	f.AddRelocation(1, undef, RPLT32, -4)
	assert.Len(t, f.relocs, 1)
	assert.Nil(t, undef.Section)
}
