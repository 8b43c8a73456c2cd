package x86

import "encoding/binary"

// RelocType mirrors the ELF r_type values the codegen can emit against
// .rela.text.
type RelocType int

const (
	RPC32  RelocType = 2  // R_X86_64_PC32
	RPLT32 RelocType = 4  // R_X86_64_PLT32
	R32S   RelocType = 11 // R_X86_64_32S
)

// LabelPatch records a pending intra-section patch: a 32-bit
// PC-relative placeholder at Offset (relative to the start of the
// instruction's own bytes) that must be filled once Target's address
// is known.
type LabelPatch struct {
	Offset int
	Target string
}

// RelaFixup records a .rela.text entry to emit once the instruction's
// bytes are placed in .text.
type RelaFixup struct {
	Offset int
	Symbol string
	Type   RelocType
	Addend int64
}

// EncodingError reports a mnemonic/operand-shape combination the
// encoder doesn't implement — a programmer error in the lowerer,
// surfaced at construction/encode time rather than deferred (spec
// §4.1, "Failure").
type EncodingError struct {
	Mnemonic string
	Operands []Operand
}

func (e *EncodingError) Error() string {
	return "x86: cannot encode " + e.Mnemonic + " with the given operand shape"
}

func errFor(inst Instruction) error {
	return &EncodingError{Mnemonic: inst.Mnemonic.String(), Operands: inst.Operands}
}

// Encode assembles one instruction to its byte encoding. It never
// panics on malformed input — unsupported shapes return EncodingError.
func Encode(inst Instruction) ([]byte, *LabelPatch, *RelaFixup, error) {
	switch inst.Mnemonic {
	case LABEL:
		return nil, nil, nil, nil
	case RET:
		return []byte{0xC3}, nil, nil, nil
	case LEAVE:
		return []byte{0xC9}, nil, nil, nil
	case SYSCALL:
		return []byte{0x0F, 0x05}, nil, nil, nil
	case CQO:
		return []byte{0x48, 0x99}, nil, nil, nil
	case MOV:
		return encodeMov(inst)
	case ADD:
		return encodeAlu(inst, 0x00, 0x00)
	case SUB:
		return encodeAlu(inst, 0x05, 0x05)
	case AND:
		return encodeAlu(inst, 0x04, 0x04)
	case OR:
		return encodeAlu(inst, 0x01, 0x01)
	case CMP:
		return encodeAlu(inst, 0x07, 0x07)
	case IMUL:
		return encodeImul(inst)
	case IDIV:
		return encodeUnaryGroup3(inst, 7)
	case NEG:
		return encodeUnaryGroup3(inst, 3)
	case NOT:
		return encodeUnaryGroup3(inst, 2)
	case LEA:
		return encodeLea(inst)
	case PUSH:
		return encodePush(inst)
	case POP:
		return encodePop(inst)
	case SAL:
		return encodeShiftCL(inst, 4)
	case SAR:
		return encodeShiftCL(inst, 7)
	case CMOVE, CMOVNE, CMOVL, CMOVLE, CMOVG, CMOVGE:
		return encodeCmov(inst)
	case CALL:
		return encodeCallOrJmp(inst, 0xE8, true)
	case JMP:
		return encodeCallOrJmp(inst, 0xE9, false)
	case JZ:
		return encodeJcc(inst, 0x84)
	case JNZ:
		return encodeJcc(inst, 0x85)
	default:
		return nil, nil, nil, errFor(inst)
	}
}

// --- ModRM/SIB/REX machinery -------------------------------------------------

type rexBits struct {
	w, r, x, b bool
}

func (rb rexBits) needed() bool { return rb.w || rb.r || rb.x || rb.b }

func (rb rexBits) byte() byte {
	var b byte = 0x40
	if rb.w {
		b |= 0x08
	}
	if rb.r {
		b |= 0x04
	}
	if rb.x {
		b |= 0x02
	}
	if rb.b {
		b |= 0x01
	}
	return b
}

const (
	modIndirect   byte = 0b00
	modDisp8      byte = 0b01
	modDisp32     byte = 0b10
	modRegDirect  byte = 0b11
	rmUsesSIB     byte = 0b100
)

func modrmByte(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 7) << 3) | (rm & 7)
}

func sibByte(scale, index, base byte) byte {
	return (scale << 6) | ((index & 7) << 3) | (base & 7)
}

func scaleBits(scale int) byte {
	switch scale {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return 0
	}
}

// encodeRM builds the ModRM(+SIB)(+disp) bytes for an r/m operand
// (register-direct or memory) paired against a reg-field value
// (either another register or a digit extension /n). It returns the
// trailing bytes and the REX.X/B extension bits the caller should OR
// into its own REX byte.
func encodeRM(reg byte, regExt bool, rm Operand) (bytes []byte, r, x, b bool, err error) {
	r = regExt
	switch rm.Kind {
	case OKReg:
		b = rm.Reg.Role.ext()
		bytes = []byte{modrmByte(modRegDirect, reg, rm.Reg.Role.num())}
		return bytes, r, x, b, nil
	case OKMem:
		m := rm.Mem
		b = m.Base.ext()
		var mod byte
		needsDisp8 := m.Disp != 0 && m.Disp >= -128 && m.Disp <= 127
		needsDisp32 := m.Disp != 0 && !needsDisp8
		// rbp/r13 as base with no displacement still requires a
		// disp8 of 0 — mod=00,rm=101 means RIP-relative, not [rbp]
		// (and mod=00 with SIB base=101 means "no base + disp32").
		forceDisp8 := (m.Base == BP || m.Base == R13) && m.Disp == 0
		switch {
		case needsDisp32:
			mod = modDisp32
		case needsDisp8 || forceDisp8:
			mod = modDisp8
		default:
			mod = modIndirect
		}

		if m.HasIndex {
			x = m.Index.ext()
			bytes = []byte{modrmByte(mod, reg, rmUsesSIB)}
			bytes = append(bytes, sibByte(scaleBits(m.Scale), m.Index.num(), m.Base.num()))
		} else if m.Base == SP || m.Base == R12 {
			// RSP/R12 as base requires a SIB byte with no index.
			bytes = []byte{modrmByte(mod, reg, rmUsesSIB)}
			bytes = append(bytes, sibByte(0, 4, m.Base.num()))
		} else {
			bytes = []byte{modrmByte(mod, reg, m.Base.num())}
		}

		switch mod {
		case modDisp8:
			bytes = append(bytes, byte(int8(m.Disp)))
		case modDisp32:
			var d [4]byte
			binary.LittleEndian.PutUint32(d[:], uint32(m.Disp))
			bytes = append(bytes, d[:]...)
		}
		return bytes, r, x, b, nil
	default:
		return nil, false, false, false, nil
	}
}

func widthOf(op Operand) Width {
	if op.Kind == OKReg {
		return op.Reg.Width
	}
	return op.Mem.Width
}

// emitPrefixes writes the 0x66 operand-size prefix (16-bit) and REX
// prefix (64-bit, or any register needing the extension bits, or an
// 8-bit access to SI/DI/BP/SP) ahead of the opcode.
func emitPrefixes(width Width, rex rexBits, need8 bool) []byte {
	var out []byte
	if width == W16 {
		out = append(out, 0x66)
	}
	if width == W64 {
		rex.w = true
	}
	if rex.needed() || need8 {
		out = append(out, rex.byte())
	}
	return out
}

// --- per-mnemonic encoders ---------------------------------------------------

func encodeMov(inst Instruction) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 2 {
		return nil, nil, nil, errFor(inst)
	}
	dst, src := inst.Operands[0], inst.Operands[1]

	if src.Kind == OKImm || src.Kind == OKRela {
		return encodeMovImm(inst, dst, src)
	}

	width := widthOf(dst)
	var opcode byte
	var regOp, rmOp Operand
	if dst.Kind == OKReg && src.Kind == OKReg {
		// mov r/m, r (store form) — dst is r/m.
		opcode = 0x89
		regOp, rmOp = src, dst
	} else if dst.Kind == OKReg && src.Kind == OKMem {
		opcode = 0x8B
		regOp, rmOp = dst, src
	} else if dst.Kind == OKMem && src.Kind == OKReg {
		opcode = 0x89
		regOp, rmOp = src, dst
	} else {
		return nil, nil, nil, errFor(inst)
	}
	if width == W8 {
		opcode -= 1 // 0x88/0x8A: byte forms
	}

	regNum, regExt := regField(regOp)
	need8 := width == W8 && (needsREXByte(regOp) || needsREXByte(rmOp))
	rmBytes, r, x, b, err := encodeRM(regNum, regExt, rmOp)
	if err != nil {
		return nil, nil, nil, err
	}
	out := emitPrefixes(width, rexBits{r: r, x: x, b: b}, need8)
	out = append(out, opcode)
	out = append(out, rmBytes...)
	return out, nil, nil, nil
}

func regField(op Operand) (num byte, ext bool) {
	return op.Reg.Role.num(), op.Reg.Role.ext()
}

func needsREXByte(op Operand) bool {
	return op.Kind == OKReg && op.Reg.needsREXFor8()
}

func encodeMovImm(inst Instruction, dst, src Operand) ([]byte, *LabelPatch, *RelaFixup, error) {
	width := widthOf(dst)
	var opcode byte = 0xC7
	if width == W8 {
		opcode = 0xC6
	}
	need8 := width == W8 && needsREXByte(dst)
	rmBytes, r, x, b, err := encodeRM(0, false, dst)
	if err != nil {
		return nil, nil, nil, err
	}
	out := emitPrefixes(width, rexBits{r: r, x: x, b: b}, need8)
	out = append(out, opcode)
	out = append(out, rmBytes...)

	immOff := len(out)
	switch width {
	case W8:
		out = append(out, byte(int8(src.Imm)))
	case W16:
		var d [2]byte
		binary.LittleEndian.PutUint16(d[:], uint16(int16(src.Imm)))
		out = append(out, d[:]...)
	default: // W32/W64 use a 32-bit sign-extended immediate.
		var d [4]byte
		binary.LittleEndian.PutUint32(d[:], uint32(int32(src.Imm)))
		out = append(out, d[:]...)
	}

	var rela *RelaFixup
	if src.Kind == OKRela {
		rela = &RelaFixup{Offset: immOff, Symbol: src.Label, Type: R32S, Addend: 0}
	}
	return out, nil, rela, nil
}

// aluOpcodes: reg-form opcode (r/m,r) and the /digit used for the
// imm-form (81 /digit id). ADD=0, OR=1, AND=4, SUB=5, CMP=7 per the
// standard x86 ALU opcode-extension table.
func encodeAlu(inst Instruction, regOpcodeBase, digit byte) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 2 {
		return nil, nil, nil, errFor(inst)
	}
	dst, src := inst.Operands[0], inst.Operands[1]
	width := widthOf(dst)

	if src.Kind == OKImm {
		opcode := byte(0x81)
		imm8 := src.Imm >= -128 && src.Imm <= 127
		if width == W8 {
			opcode = 0x80
		} else if imm8 {
			opcode = 0x83
		}
		need8 := width == W8 && needsREXByte(dst)
		rmBytes, r, x, b, err := encodeRM(digit, false, dst)
		if err != nil {
			return nil, nil, nil, err
		}
		out := emitPrefixes(width, rexBits{r: r, x: x, b: b}, need8)
		out = append(out, opcode)
		out = append(out, rmBytes...)
		if width == W8 {
			out = append(out, byte(int8(src.Imm)))
		} else if imm8 {
			out = append(out, byte(int8(src.Imm)))
		} else {
			var d [4]byte
			binary.LittleEndian.PutUint32(d[:], uint32(int32(src.Imm)))
			out = append(out, d[:]...)
		}
		return out, nil, nil, nil
	}

	opcode := (regOpcodeBase << 3) | 0x01 // r/m, r form (e.g. ADD r/m,r = 0x01)
	var regOp, rmOp Operand
	if dst.Kind == OKReg && src.Kind == OKReg {
		regOp, rmOp = src, dst
	} else if dst.Kind == OKReg && src.Kind == OKMem {
		opcode = (regOpcodeBase << 3) | 0x03 // r, r/m form
		regOp, rmOp = dst, src
	} else {
		return nil, nil, nil, errFor(inst)
	}
	if width == W8 {
		opcode &^= 0x01
	}
	regNum, regExt := regField(regOp)
	need8 := width == W8 && (needsREXByte(regOp) || needsREXByte(rmOp))
	rmBytes, r, x, b, err := encodeRM(regNum, regExt, rmOp)
	if err != nil {
		return nil, nil, nil, err
	}
	out := emitPrefixes(width, rexBits{r: r, x: x, b: b}, need8)
	out = append(out, opcode)
	out = append(out, rmBytes...)
	return out, nil, nil, nil
}

func encodeImul(inst Instruction) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 2 || inst.Operands[0].Kind != OKReg {
		return nil, nil, nil, errFor(inst)
	}
	dst, src := inst.Operands[0], inst.Operands[1]
	width := widthOf(dst)
	regNum, regExt := regField(dst)
	rmBytes, r, x, b, err := encodeRM(regNum, regExt, src)
	if err != nil {
		return nil, nil, nil, err
	}
	out := emitPrefixes(width, rexBits{r: r, x: x, b: b}, false)
	out = append(out, 0x0F, 0xAF)
	out = append(out, rmBytes...)
	return out, nil, nil, nil
}

// encodeUnaryGroup3 handles NOT(/2), NEG(/3), IDIV(/7): opcode F7 /digit
// (F6 for 8-bit), operating on a single r/m operand.
func encodeUnaryGroup3(inst Instruction, digit byte) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 1 {
		return nil, nil, nil, errFor(inst)
	}
	rm := inst.Operands[0]
	width := widthOf(rm)
	opcode := byte(0xF7)
	if width == W8 {
		opcode = 0xF6
	}
	need8 := width == W8 && needsREXByte(rm)
	rmBytes, r, x, b, err := encodeRM(digit, false, rm)
	if err != nil {
		return nil, nil, nil, err
	}
	out := emitPrefixes(width, rexBits{r: r, x: x, b: b}, need8)
	out = append(out, opcode)
	out = append(out, rmBytes...)
	return out, nil, nil, nil
}

func encodeLea(inst Instruction) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 2 || inst.Operands[0].Kind != OKReg || inst.Operands[1].Kind != OKMem {
		return nil, nil, nil, errFor(inst)
	}
	dst, src := inst.Operands[0], inst.Operands[1]
	regNum, regExt := regField(dst)
	rmBytes, r, x, b, err := encodeRM(regNum, regExt, src)
	if err != nil {
		return nil, nil, nil, err
	}
	out := emitPrefixes(dst.Reg.Width, rexBits{r: r, x: x, b: b}, false)
	out = append(out, 0x8D)
	out = append(out, rmBytes...)
	return out, nil, nil, nil
}

func encodePush(inst Instruction) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 1 {
		return nil, nil, nil, errFor(inst)
	}
	op := inst.Operands[0]
	switch op.Kind {
	case OKReg:
		var out []byte
		if op.Reg.Role.ext() {
			out = append(out, rexBits{b: true}.byte())
		}
		out = append(out, 0x50+op.Reg.Role.num()&7)
		return out, nil, nil, nil
	case OKImm:
		out := []byte{0x68}
		var d [4]byte
		binary.LittleEndian.PutUint32(d[:], uint32(int32(op.Imm)))
		out = append(out, d[:]...)
		return out, nil, nil, nil
	case OKRela:
		out := []byte{0x68}
		immOff := len(out)
		out = append(out, 0, 0, 0, 0)
		return out, nil, &RelaFixup{Offset: immOff, Symbol: op.Label, Type: R32S, Addend: 0}, nil
	case OKMem:
		rmBytes, _, x, b, err := encodeRM(6, false, op)
		if err != nil {
			return nil, nil, nil, err
		}
		out := emitPrefixes(W64, rexBits{x: x, b: b}, false)
		// PUSH r/m64 never needs REX.W (operand size is implicitly 64-bit).
		if len(out) > 0 && out[len(out)-1]&0x48 != 0 {
			out[len(out)-1] &^= 0x08
		}
		out = append(out, 0xFF)
		out = append(out, rmBytes...)
		return out, nil, nil, nil
	default:
		return nil, nil, nil, errFor(inst)
	}
}

func encodePop(inst Instruction) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 1 || inst.Operands[0].Kind != OKReg {
		return nil, nil, nil, errFor(inst)
	}
	reg := inst.Operands[0].Reg
	var out []byte
	if reg.Role.ext() {
		out = append(out, rexBits{b: true}.byte())
	}
	out = append(out, 0x58+reg.Role.num()&7)
	return out, nil, nil, nil
}

// encodeShiftCL handles SAL/SAR by CL: D3 /digit (digit=4 for SAL,
// digit=7 for SAR). The count operand may be left implicit or given
// explicitly as CL (the form the shift lowering emits).
func encodeShiftCL(inst Instruction, digit byte) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 1 && len(inst.Operands) != 2 {
		return nil, nil, nil, errFor(inst)
	}
	if len(inst.Operands) == 2 {
		cnt := inst.Operands[1]
		if cnt.Kind != OKReg || cnt.Reg.Role != C || cnt.Reg.Width != W8 {
			return nil, nil, nil, errFor(inst)
		}
	}
	rm := inst.Operands[0]
	width := widthOf(rm)
	rmBytes, r, x, b, err := encodeRM(digit, false, rm)
	if err != nil {
		return nil, nil, nil, err
	}
	out := emitPrefixes(width, rexBits{r: r, x: x, b: b}, false)
	out = append(out, 0xD3)
	out = append(out, rmBytes...)
	return out, nil, nil, nil
}

func encodeCmov(inst Instruction) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 2 || inst.Operands[0].Kind != OKReg {
		return nil, nil, nil, errFor(inst)
	}
	nibble, ok := ccNibble[inst.Mnemonic]
	if !ok {
		return nil, nil, nil, errFor(inst)
	}
	dst, src := inst.Operands[0], inst.Operands[1]
	width := widthOf(dst)
	regNum, regExt := regField(dst)
	rmBytes, r, x, b, err := encodeRM(regNum, regExt, src)
	if err != nil {
		return nil, nil, nil, err
	}
	out := emitPrefixes(width, rexBits{r: r, x: x, b: b}, false)
	out = append(out, 0x0F, 0x40+nibble)
	out = append(out, rmBytes...)
	return out, nil, nil, nil
}

func encodeCallOrJmp(inst Instruction, opcode byte, isCall bool) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 1 {
		return nil, nil, nil, errFor(inst)
	}
	op := inst.Operands[0]
	out := []byte{opcode, 0, 0, 0, 0}
	switch op.Kind {
	case OKLabel:
		return out, &LabelPatch{Offset: 1, Target: op.Label}, nil, nil
	case OKRela:
		typ := RPC32
		if isCall {
			typ = RPLT32
		}
		return out, nil, &RelaFixup{Offset: 1, Symbol: op.Label, Type: typ, Addend: -4}, nil
	default:
		return nil, nil, nil, errFor(inst)
	}
}

func encodeJcc(inst Instruction, cc byte) ([]byte, *LabelPatch, *RelaFixup, error) {
	if len(inst.Operands) != 1 || inst.Operands[0].Kind != OKLabel {
		return nil, nil, nil, errFor(inst)
	}
	out := []byte{0x0F, cc, 0, 0, 0, 0}
	return out, &LabelPatch{Offset: 2, Target: inst.Operands[0].Label}, nil, nil
}
