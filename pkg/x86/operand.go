package x86

// OperandKind tags the Operand variant.
type OperandKind int

const (
	OKReg OperandKind = iota
	OKImm
	OKMem
	OKLabel
	OKRela
)

// Mem is a memory addressing mode: [base + index*scale + disp].
// Index/Scale are optional: they are used only when HasIndex is set.
type Mem struct {
	Width       Width
	Base        Role
	HasIndex    bool
	Index       Role
	Scale       int // 1, 2, 4, or 8
	Disp        int32
}

// Operand is a tagged variant covering every operand shape the
// instruction selector emits: registers, immediates, memory operands,
// code-local labels, and relocation-bearing symbols.
type Operand struct {
	Kind  OperandKind
	Reg   Register
	Imm   int64
	Mem   Mem
	Label string // used by both OKLabel and OKRela
}

func RegOp(role Role, width Width) Operand {
	return Operand{Kind: OKReg, Reg: Register{Role: role, Width: width}}
}

func RegisterOp(r Register) Operand { return Operand{Kind: OKReg, Reg: r} }

func ImmOp(v int64) Operand { return Operand{Kind: OKImm, Imm: v} }

func MemOp(m Mem) Operand { return Operand{Kind: OKMem, Mem: m} }

// MemBaseDisp builds [base + disp].
func MemBaseDisp(width Width, base Role, disp int32) Operand {
	return Operand{Kind: OKMem, Mem: Mem{Width: width, Base: base, Disp: disp}}
}

// MemBaseIndexDisp builds [base + index*scale + disp].
func MemBaseIndexDisp(width Width, base Role, index Role, scale int, disp int32) Operand {
	return Operand{Kind: OKMem, Mem: Mem{
		Width: width, Base: base, HasIndex: true, Index: index, Scale: scale, Disp: disp,
	}}
}

func LabelOp(name string) Operand { return Operand{Kind: OKLabel, Label: name} }

func RelaOp(name string) Operand { return Operand{Kind: OKRela, Label: name} }

// AXSized returns the A register at the given width, derived from a
// value's byte size.
func AXSized(width Width) Register { return Register{Role: A, Width: width} }

func BXSized(width Width) Register { return Register{Role: B, Width: width} }

// WidthFromSize maps a byte size to the canonical register width used
// to hold a value of that size.
func WidthFromSize(size int) Width {
	switch {
	case size <= 1:
		return W8
	case size <= 2:
		return W16
	case size <= 4:
		return W32
	default:
		return W64
	}
}
