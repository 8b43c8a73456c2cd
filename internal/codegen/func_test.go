package codegen

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrelc/internal/ast"
	"github.com/kestrel-lang/kestrelc/internal/diag"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, err := ast.Parse("t.ke", []byte(src))
	require.NoError(t, err)
	return prog
}

func TestLowerMainEmitsStartLabelAndExitSyscall(t *testing.T) {
	prog := mustParse(t, `
fn main() -> int {
	return 0;
}
`)
	buf, err := Lower(prog, diag.NewLogger())
	require.NoError(t, err)

	var sawStart bool
	var sawSyscall bool
	for _, inst := range buf.Instrs {
		if inst.Mnemonic == x86.LABEL && inst.Name == "_start" {
			sawStart = true
		}
		if inst.Mnemonic == x86.SYSCALL {
			sawSyscall = true
		}
	}
	assert.True(t, sawStart, "main must lower to a _start label")
	assert.True(t, sawSyscall, "main's epilogue must be an exit syscall, not leave/ret")

	funcs := buf.FuncExports()
	require.Len(t, funcs, 1)
	assert.Equal(t, "_start", funcs[0].Name)
}

func TestLowerMainWithoutExplicitReturnExitsZero(t *testing.T) {
	prog := mustParse(t, `
fn id(a: int) -> int {
	return a;
}

fn main() {
	id(7);
}
`)
	buf, err := Lower(prog, diag.NewLogger())
	require.NoError(t, err)

	// The fallthrough path (no explicit return in main) must zero RAX
	// immediately before the epilogue label, so the epilogue's
	// mov edi, eax carries 0 rather than id(7)'s discarded result.
	var epilogueIdx int = -1
	for i, inst := range buf.Instrs {
		if inst.Mnemonic == x86.LABEL && inst.Name == ".Lepilogue_main" {
			epilogueIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, epilogueIdx, 1)
	prev := buf.Instrs[epilogueIdx-1]
	require.Equal(t, x86.MOV, prev.Mnemonic)
	assert.Equal(t, x86.A, prev.Operands[0].Reg.Role)
	assert.Equal(t, int64(0), prev.Operands[1].Imm)
}

func TestLowerOrdinaryFunctionUsesLeaveRet(t *testing.T) {
	prog := mustParse(t, `
fn add(a: int, b: int) -> int {
	return a + b;
}
`)
	buf, err := Lower(prog, diag.NewLogger())
	require.NoError(t, err)

	var sawLeave, sawRet, sawSyscall bool
	for _, inst := range buf.Instrs {
		switch inst.Mnemonic {
		case x86.LEAVE:
			sawLeave = true
		case x86.RET:
			sawRet = true
		case x86.SYSCALL:
			sawSyscall = true
		}
	}
	assert.True(t, sawLeave)
	assert.True(t, sawRet)
	assert.False(t, sawSyscall)
}

func TestCountFrameBytesCoversAllBranches(t *testing.T) {
	prog := mustParse(t, `
fn f(a: int) {
	let x: int = 1;
	if a {
		let y: int = 2;
	} else {
		let z: char = 3;
		let w: char = 4;
	}
}
`)
	c := NewContext(NewBuffer(), diag.NewLogger())
	require.NoError(t, c.registerStructs(prog))
	require.NoError(t, c.registerSignatures(prog))

	fn := prog.TopLevels[0].Function
	n, err := c.countFrameBytes(fn)
	require.NoError(t, err)
	// a:8 (arg) + x:8 (let, int) + then-branch y:8 + else-branch z:8 + w:8
	// every branch's bump-allocator arithmetic is summed, none reclaimed.
	assert.Equal(t, 8+8+8+8+8, n)
}

func TestLowerProgramBuildsValidObject(t *testing.T) {
	prog := mustParse(t, `
fn main() -> int {
	let x: int = 40 + 2;
	return x;
}
`)
	obj, err := LowerProgram(prog, diag.NewLogger(), "t.ke")
	require.NoError(t, err)
	require.NotNil(t, obj)

	// End-to-end CLI-surface smoke test: the parser+lowerer+writer
	// chain must produce structurally valid ELF64 bytes, not merely a
	// non-nil *objfile.File.
	var out bytes.Buffer
	n, err := obj.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(out.Len()), n)

	raw := out.Bytes()
	require.GreaterOrEqual(t, len(raw), 64)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, raw[0:4])
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(raw[16:18]), "ET_REL")
	assert.Equal(t, uint16(62), binary.LittleEndian.Uint16(raw[18:20]), "EM_X86_64")

	eShnum := binary.LittleEndian.Uint16(raw[60:62])
	eShstrndx := binary.LittleEndian.Uint16(raw[62:64])
	// null, .text, .symtab, .strtab, .shstrtab: no data/bss/relocations
	// in this program, so exactly 5 sections.
	assert.EqualValues(t, 5, eShnum)
	assert.EqualValues(t, eShnum-1, eShstrndx)
}

func TestAlign16(t *testing.T) {
	assert.Equal(t, 0, align16(0))
	assert.Equal(t, 16, align16(1))
	assert.Equal(t, 16, align16(16))
	assert.Equal(t, 32, align16(17))
}
