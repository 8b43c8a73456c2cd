// Package x86 provides x86-64 (AMD64) instruction modeling and machine
// code encoding. It has no dependency on compiler internals and can be
// used standalone for generating x86-64 object code.
package x86

import "fmt"

// Role identifies a register by its logical name, independent of width.
type Role int

const (
	A Role = iota
	C
	D
	B
	SP
	BP
	SI
	DI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// num is the 4-bit register number used in ModRM/SIB/REX encoding.
// A=0, C=1, D=2, B=3, SP=4, BP=5, SI=6, DI=7, R8..R15=8..15 — the
// standard x86 numbering. Declared in this order so the iota value IS
// the encoding number; see Role.String for the display order.
func (r Role) num() byte { return byte(r) }

// ext reports whether this register needs the REX.B/R/X extension bit.
func (r Role) ext() bool { return r.num() >= 8 }

var roleNames64 = [...]string{
	A: "rax", B: "rbx", C: "rcx", D: "rdx", SI: "rsi", DI: "rdi",
	BP: "rbp", SP: "rsp", R8: "r8", R9: "r9", R10: "r10", R11: "r11",
	R12: "r12", R13: "r13", R14: "r14", R15: "r15",
}

func (r Role) String() string {
	if int(r) < len(roleNames64) {
		return roleNames64[r]
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Width is an operand width in bits.
type Width int

const (
	W8 Width = 8
	W16 Width = 16
	W32 Width = 32
	W64 Width = 64
)

// Register is a (role, width) pair.
type Register struct {
	Role  Role
	Width Width
}

func Reg(role Role, width Width) Register { return Register{Role: role, Width: width} }

// needsREXFor8 reports whether accessing this register at 8-bit width
// requires a REX prefix to select the low byte instead of AH/BH/CH/DH
// (which only exist for A/B/C/D without REX).
func (r Register) needsREXFor8() bool {
	return r.Width == W8 && (r.Role == SI || r.Role == DI || r.Role == BP || r.Role == SP || r.Role.ext())
}
