// Package gas renders a lowered program as GAS (AT&T syntax) assembly
// text: the non--elf half of the compiler's CLI surface, printing the
// pkg/x86.Instruction stream any kestrelc program lowers into.
package gas

import (
	"fmt"
	"strings"

	"github.com/kestrel-lang/kestrelc/internal/codegen"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

// Generator prints one Buffer's .text/.data/.bss as a complete GAS
// source file ready for `as`.
type Generator struct {
	buf *codegen.Buffer
	out strings.Builder
}

func NewGenerator(buf *codegen.Buffer) *Generator {
	return &Generator{buf: buf}
}

// Generate produces the complete assembly source.
func (g *Generator) Generate() string {
	g.emitBSS()
	g.emitData()
	g.emitText()
	return g.out.String()
}

func (g *Generator) emitBSS() {
	bss := g.buf.BSSExports()
	if len(bss) == 0 {
		return
	}
	fmt.Fprintln(&g.out, ".section .bss")
	for _, e := range bss {
		fmt.Fprintf(&g.out, "    .lcomm %s, %d\n", e.Name, e.Size)
	}
	fmt.Fprintln(&g.out)
}

func (g *Generator) emitData() {
	data := g.buf.DataBytes()
	if len(data) == 0 {
		return
	}
	fmt.Fprintln(&g.out, ".section .data")
	for _, e := range g.buf.DataExports() {
		fmt.Fprintf(&g.out, "%s:\n", e.Name)
		fmt.Fprintf(&g.out, "    .byte %s\n", byteList(data[e.Offset:e.Offset+e.Size]))
	}
	fmt.Fprintln(&g.out)
}

func byteList(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%d", c)
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, ", ")
}

func (g *Generator) emitText() {
	fmt.Fprintln(&g.out, ".section .text")
	for _, e := range g.buf.FuncExports() {
		fmt.Fprintf(&g.out, ".globl %s\n", e.Name)
	}
	for _, e := range g.buf.ExternExports() {
		fmt.Fprintf(&g.out, ".extern %s\n", e.Name)
	}
	for _, inst := range g.buf.Instrs {
		g.emitInstr(inst)
	}
}

func (g *Generator) emitInstr(inst x86.Instruction) {
	if inst.Mnemonic == x86.LABEL {
		fmt.Fprintf(&g.out, "%s:\n", inst.Name)
		return
	}

	mnem := gasMnemonic(inst.Mnemonic)
	switch len(inst.Operands) {
	case 0:
		fmt.Fprintf(&g.out, "    %s\n", mnem)
	case 1:
		op := inst.Operands[0]
		text := operandText(op)
		if (inst.Mnemonic == x86.CALL || inst.Mnemonic == x86.JMP) && op.Kind == x86.OKRela {
			// A branch target names the symbol directly, without '$'.
			text = op.Label
		}
		fmt.Fprintf(&g.out, "    %s %s\n", mnem, text)
	case 2:
		// AT&T order is src, dst — the reverse of Instr2(dst, src).
		fmt.Fprintf(&g.out, "    %s %s, %s\n", mnem, operandText(inst.Operands[1]), operandText(inst.Operands[0]))
	}
}

var gasMnemonics = map[x86.Mnemonic]string{
	x86.MOV: "mov", x86.ADD: "add", x86.SUB: "sub", x86.IMUL: "imul", x86.IDIV: "idiv",
	x86.CQO: "cqto", x86.CMP: "cmp", x86.CMOVE: "cmove", x86.CMOVNE: "cmovne",
	x86.CMOVL: "cmovl", x86.CMOVLE: "cmovle", x86.CMOVG: "cmovg", x86.CMOVGE: "cmovge",
	x86.SAL: "sal", x86.SAR: "sar", x86.AND: "and", x86.OR: "or", x86.NOT: "not",
	x86.NEG: "neg", x86.LEA: "lea", x86.PUSH: "push", x86.POP: "pop", x86.CALL: "call",
	x86.JMP: "jmp", x86.JZ: "jz", x86.JNZ: "jnz", x86.RET: "ret", x86.LEAVE: "leave",
	x86.SYSCALL: "syscall",
}

func gasMnemonic(m x86.Mnemonic) string {
	if s, ok := gasMnemonics[m]; ok {
		return s
	}
	return m.String()
}

var regNames64 = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
var regNames32 = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
var regNames16 = [...]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di", "r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"}
var regNames8 = [...]string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil", "r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"}

func regText(r x86.Register) string {
	i := int(r.Role)
	switch r.Width {
	case x86.W8:
		return "%" + regNames8[i]
	case x86.W16:
		return "%" + regNames16[i]
	case x86.W32:
		return "%" + regNames32[i]
	default:
		return "%" + regNames64[i]
	}
}

func memText(m x86.Mem) string {
	var b strings.Builder
	if m.Disp != 0 {
		fmt.Fprintf(&b, "%d", m.Disp)
	}
	b.WriteByte('(')
	b.WriteString(regText(x86.Reg(m.Base, x86.W64)))
	if m.HasIndex {
		fmt.Fprintf(&b, ",%s,%d", regText(x86.Reg(m.Index, x86.W64)), m.Scale)
	}
	b.WriteByte(')')
	return b.String()
}

func operandText(op x86.Operand) string {
	switch op.Kind {
	case x86.OKReg:
		return regText(op.Reg)
	case x86.OKImm:
		return fmt.Sprintf("$%d", op.Imm)
	case x86.OKMem:
		return memText(op.Mem)
	case x86.OKLabel:
		return op.Label
	case x86.OKRela:
		// The encoder emits a Rela value operand as an immediate holding
		// the symbol's address, which AT&T spells "$symbol".
		return "$" + op.Label
	default:
		return "?"
	}
}
