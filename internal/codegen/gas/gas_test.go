package gas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrelc/internal/codegen"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

func TestGenerateEmitsSectionsGlobalsAndExterns(t *testing.T) {
	buf := codegen.NewBuffer()
	buf.ReserveBSS("counter", 8, true)
	require.NoError(t, buf.Emit(x86.Label("_start")))
	buf.ExportFunction("_start", true)
	buf.DeclareExternal("puts")
	require.NoError(t, buf.Emit(x86.Instr2(x86.MOV, x86.RegOp(x86.A, x86.W64), x86.ImmOp(0))))
	require.NoError(t, buf.Emit(x86.Instr1(x86.CALL, x86.RelaOp("puts"))))
	require.NoError(t, buf.Emit(x86.Instr0(x86.RET)))

	out := NewGenerator(buf).Generate()

	assert.Contains(t, out, ".section .bss")
	assert.Contains(t, out, ".lcomm counter, 8")
	assert.Contains(t, out, ".section .text")
	assert.Contains(t, out, ".globl _start")
	assert.Contains(t, out, ".extern puts")
	assert.Contains(t, out, "_start:")
	assert.Contains(t, out, "mov $0, %rax")
	assert.Contains(t, out, "call puts")
	assert.Contains(t, out, "ret")
}

func TestEmitInstrPrintsATTOperandOrder(t *testing.T) {
	buf := codegen.NewBuffer()
	// Instr2(dst, src) = MOV RDX, RAX must print AT&T src, dst: "mov %rax, %rdx".
	require.NoError(t, buf.Emit(x86.Instr2(x86.MOV, x86.RegOp(x86.D, x86.W64), x86.RegOp(x86.A, x86.W64))))
	out := NewGenerator(buf).Generate()
	assert.Contains(t, out, "mov %rax, %rdx")
}

func TestMemTextPrintsDisplacementForRAXBase(t *testing.T) {
	// Role A (RAX) is numerically zero; memText must still print a
	// nonzero displacement rather than treating a zero Base as "absent".
	mem := x86.MemBaseDisp(x86.W64, x86.A, 16)
	got := memText(mem.Mem)
	assert.Equal(t, "16(%rax)", got)
}

func TestMemTextOmitsZeroDisplacement(t *testing.T) {
	mem := x86.MemBaseDisp(x86.W64, x86.BP, 0)
	got := memText(mem.Mem)
	assert.Equal(t, "(%rbp)", got)
}
