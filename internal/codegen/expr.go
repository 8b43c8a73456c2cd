package codegen

import (
	"fmt"

	"github.com/kestrel-lang/kestrelc/internal/ast"
	"github.com/kestrel-lang/kestrelc/internal/diag"
	"github.com/kestrel-lang/kestrelc/internal/types"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

// ExprOpr is the result of lowering one expression: the operand its
// value now lives in (always a push onto the evaluation stack by the
// time lowerExpr returns) and its resolved type.
type ExprOpr struct {
	Operand x86.Operand
	Type    types.Value
}

// argRegs is the SysV AMD64 integer argument register order.
var argRegs = []x86.Role{x86.DI, x86.SI, x86.D, x86.C, x86.R8, x86.R9}

func argRegister(index int, width x86.Width) (x86.Register, error) {
	if index >= len(argRegs) {
		return x86.Register{}, fmt.Errorf("codegen: more than %d arguments is not supported", len(argRegs))
	}
	return x86.Reg(argRegs[index], width), nil
}

func (c *Context) emit(inst x86.Instruction) error { return c.Buf.Emit(inst) }

func rbpMem(width x86.Width, stackOffset int) x86.Operand {
	return x86.MemBaseDisp(width, x86.BP, -int32(stackOffset))
}

// lowerExpr lowers e, leaving its value pushed on the evaluation
// stack (the lowerer's stack-machine discipline), and returns its
// resolved type.
func (c *Context) lowerExpr(e *ast.Expr) (types.Value, error) {
	switch e.Kind {
	case ast.ExprInt:
		if err := c.emit(x86.Instr1(x86.PUSH, x86.ImmOp(e.IntVal))); err != nil {
			return types.Value{}, err
		}
		return types.New(types.Int), nil

	case ast.ExprUInt:
		if err := c.emit(x86.Instr1(x86.PUSH, x86.ImmOp(e.IntVal))); err != nil {
			return types.Value{}, err
		}
		return types.New(types.UInt), nil

	case ast.ExprChar:
		if err := c.emit(x86.Instr1(x86.PUSH, x86.ImmOp(int64(e.CharVal)))); err != nil {
			return types.Value{}, err
		}
		return types.New(types.Char), nil

	case ast.ExprBool:
		v := int64(0)
		if e.BoolVal {
			v = 1
		}
		if err := c.emit(x86.Instr1(x86.PUSH, x86.ImmOp(v))); err != nil {
			return types.Value{}, err
		}
		return types.New(types.Bool), nil

	case ast.ExprString:
		label := c.Buf.AddStringLiteral(e.StringVal)
		if err := c.emit(x86.Instr1(x86.PUSH, x86.RelaOp(label))); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr1(x86.PUSH, x86.ImmOp(int64(len(e.StringVal))))); err != nil {
			return types.Value{}, err
		}
		return types.New(types.String), nil

	case ast.ExprIdent:
		return c.lowerIdent(e)

	case ast.ExprField:
		return c.lowerField(e)

	case ast.ExprIndex:
		return c.lowerIndex(e)

	case ast.ExprAddr:
		return c.lowerAddr(e)

	case ast.ExprDeref:
		return c.lowerDeref(e)

	case ast.ExprBinary:
		return c.lowerBinary(e)

	case ast.ExprUnary:
		return c.lowerUnary(e)

	case ast.ExprCompare:
		return c.lowerCompare(e)

	case ast.ExprCall:
		return c.lowerCall(e)

	default:
		return types.Value{}, diag.New(diag.UnexpectedType, e.Pos, "unsupported expression kind")
	}
}

func (c *Context) lowerIdent(e *ast.Expr) (types.Value, error) {
	if v, ok := c.lookupVar(e.Ident); ok {
		width := x86.WidthFromSize(v.Type.ItemSize())
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegisterOp(x86.AXSized(width)), rbpMem(width, v.StackOffset))); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
			return types.Value{}, err
		}
		return v.Type, nil
	}

	if t, ok := c.Globals[e.Ident]; ok {
		if err := c.loadGlobalAddr(x86.C, e.Ident); err != nil {
			return types.Value{}, err
		}
		width := x86.WidthFromSize(t.ItemSize())
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegisterOp(x86.AXSized(width)), x86.MemBaseDisp(width, x86.C, 0))); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
			return types.Value{}, err
		}
		return t, nil
	}

	return types.Value{}, diag.New(diag.UndefinedVariable, e.Pos, "%s", e.Ident)
}

// loadGlobalAddr loads the absolute address of the BSS/data symbol
// name into scratch, the same non-PIE absolute-relocation idiom
// AddStringLiteral's callers use for a string's data pointer.
func (c *Context) loadGlobalAddr(scratch x86.Role, name string) error {
	return c.emit(x86.Instr2(x86.MOV, x86.RegOp(scratch, x86.W64), x86.RelaOp(name)))
}

func (c *Context) lowerField(e *ast.Expr) (types.Value, error) {
	if e.Base.Kind != ast.ExprIdent {
		return types.Value{}, diag.New(diag.UnexpectedType, e.Pos, "field access base must be a variable")
	}
	v, ok := c.lookupVar(e.Base.Ident)
	if !ok {
		return types.Value{}, diag.New(diag.UndefinedVariable, e.Pos, "%s", e.Base.Ident)
	}
	if v.Type.Kind != types.Custom {
		return types.Value{}, diag.New(diag.UnexpectedType, e.Pos, "%s is not a struct", v.Type)
	}
	si, ok := c.Structs[v.Type.Name]
	if !ok {
		return types.Value{}, diag.New(diag.UndefinedStruct, e.Pos, "%s", v.Type.Name)
	}
	field, ok := lookupField(si, e.Field)
	if !ok {
		return types.Value{}, diag.New(diag.UnknownReference, e.Pos, "%s.%s", v.Type.Name, e.Field)
	}

	// The variable's stored value (not its address) is loaded into RDX
	// before the field offset is added, so this only behaves correctly
	// when the struct itself happens to hold a pointer-sized value at
	// that slot. Deliberately left as-is rather than loading a real
	// address.
	if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.D, x86.W64), rbpMem(x86.W64, v.StackOffset))); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr2(x86.ADD, x86.RegOp(x86.D, x86.W64), x86.ImmOp(int64(field.Offset)))); err != nil {
		return types.Value{}, err
	}
	width := x86.WidthFromSize(field.Type.ItemSize())
	mem := x86.MemBaseDisp(width, x86.D, 0)
	if err := c.emit(x86.Instr2(x86.MOV, x86.RegisterOp(x86.AXSized(width)), mem)); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
		return types.Value{}, err
	}
	return field.Type, nil
}

func (c *Context) lowerIndex(e *ast.Expr) (types.Value, error) {
	if e.Base.Kind != ast.ExprIdent {
		return types.Value{}, diag.New(diag.UnexpectedType, e.Pos, "index base must be a variable")
	}
	v, ok := c.lookupVar(e.Base.Ident)
	if !ok {
		return types.Value{}, diag.New(diag.UndefinedVariable, e.Pos, "%s", e.Base.Ident)
	}
	if _, err := c.lowerExpr(e.Index); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.B, x86.W64))); err != nil {
		return types.Value{}, err
	}
	itemSize := v.Type.ItemSize()
	width := x86.WidthFromSize(itemSize)
	mem := x86.MemBaseIndexDisp(width, x86.BP, x86.B, itemSize, -int32(v.StackOffset))
	if err := c.emit(x86.Instr2(x86.MOV, x86.RegisterOp(x86.AXSized(width)), mem)); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
		return types.Value{}, err
	}
	if v.Type.Kind == types.Array {
		return *v.Type.Elem, nil
	}
	return v.Type, nil
}

func (c *Context) lowerAddr(e *ast.Expr) (types.Value, error) {
	if e.Base.Kind != ast.ExprIdent {
		return types.Value{}, diag.New(diag.UnexpectedType, e.Pos, "address-of target must be a variable")
	}
	v, ok := c.lookupVar(e.Base.Ident)
	if !ok {
		return types.Value{}, diag.New(diag.UndefinedVariable, e.Pos, "%s", e.Base.Ident)
	}
	if v.Type.Kind == types.Array {
		if err := c.emit(x86.Instr2(x86.LEA, x86.RegOp(x86.A, x86.W64), rbpMem(x86.W64, v.StackOffset))); err != nil {
			return types.Value{}, err
		}
	} else {
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.A, x86.W64), x86.RegOp(x86.BP, x86.W64))); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr2(x86.SUB, x86.RegOp(x86.A, x86.W64), x86.ImmOp(int64(v.StackOffset)))); err != nil {
			return types.Value{}, err
		}
	}
	if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
		return types.Value{}, err
	}
	return types.New(types.Pointer), nil
}

func (c *Context) lowerDeref(e *ast.Expr) (types.Value, error) {
	t, err := c.lowerExpr(e.Base)
	if err != nil {
		return types.Value{}, err
	}
	if t.Kind != types.Pointer {
		return types.Value{}, diag.New(diag.UnmatchingTypes, e.Pos, "cannot dereference %s", t)
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.C, x86.W64), x86.MemBaseDisp(x86.W64, x86.A, 0))); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.C, x86.W64))); err != nil {
		return types.Value{}, err
	}
	// A dereference always yields Any, never the pointee's real type:
	// pointer values only ever track that they are a Pointer, not what
	// they point to.
	return types.New(types.Any), nil
}

func (c *Context) lowerBinary(e *ast.Expr) (types.Value, error) {
	lt, err := c.lowerExpr(e.Left)
	if err != nil {
		return types.Value{}, err
	}
	rt, err := c.lowerExpr(e.Right)
	if err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.B, x86.W64))); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
		return types.Value{}, err
	}

	ax, bx := x86.RegOp(x86.A, x86.W64), x86.RegOp(x86.B, x86.W64)
	pushAX := func() error { return c.emit(x86.Instr1(x86.PUSH, ax)) }
	logical := false
	var opStr string

	switch e.BinOp {
	case ast.OpAdd:
		opStr = "+"
		if err := c.emit(x86.Instr2(x86.ADD, ax, bx)); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpSub:
		opStr = "-"
		if err := c.emit(x86.Instr2(x86.SUB, ax, bx)); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpMul:
		opStr = "*"
		if err := c.emit(x86.Instr2(x86.IMUL, ax, bx)); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpDiv:
		opStr = "/"
		if err := c.emit(x86.Cqo()); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr1(x86.IDIV, bx)); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpMod:
		opStr = "%"
		if err := c.emit(x86.Cqo()); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr1(x86.IDIV, bx)); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.D, x86.W64))); err != nil {
			return types.Value{}, err
		}
	case ast.OpBitOr:
		if err := c.emit(x86.Instr2(x86.OR, ax, bx)); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpBitAnd:
		if err := c.emit(x86.Instr2(x86.AND, ax, bx)); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpShl:
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.C, x86.W64), bx)); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr2(x86.SAL, ax, x86.RegOp(x86.C, x86.W8))); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpShr:
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.C, x86.W64), bx)); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr2(x86.SAR, ax, x86.RegOp(x86.C, x86.W8))); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpLogicalOr:
		logical = true
		if err := c.emit(x86.Instr2(x86.OR, ax, bx)); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	case ast.OpLogicalAnd:
		logical = true
		if err := c.emit(x86.Instr2(x86.AND, ax, bx)); err != nil {
			return types.Value{}, err
		}
		if err := pushAX(); err != nil {
			return types.Value{}, err
		}
	default:
		return types.Value{}, diag.New(diag.InvalidBinaryOperation, e.Pos, "unsupported operator")
	}

	if logical {
		return types.New(types.Bool), nil
	}
	if !lt.IsNumeric() || !rt.IsNumeric() {
		return types.Value{}, diag.New(diag.InvalidBinaryOperation, e.Pos, "%s %s %s", lt, opStr, rt)
	}
	return lt.Cast(rt, opStr)
}

var compareNibble = map[ast.CompareOp]x86.Mnemonic{
	ast.CmpEq: x86.CMOVE, ast.CmpNotEq: x86.CMOVNE, ast.CmpGreater: x86.CMOVG,
	ast.CmpLess: x86.CMOVL, ast.CmpGreaterEq: x86.CMOVGE, ast.CmpLessEq: x86.CMOVLE,
}

func (c *Context) lowerCompare(e *ast.Expr) (types.Value, error) {
	lt, err := c.lowerExpr(e.Left)
	if err != nil {
		return types.Value{}, err
	}
	rt, err := c.lowerExpr(e.Right)
	if err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.C, x86.W64), x86.ImmOp(0))); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.D, x86.W64), x86.ImmOp(1))); err != nil {
		return types.Value{}, err
	}

	regType := lt
	if !lt.Equal(rt) {
		if !lt.IsNumeric() || !rt.IsNumeric() {
			return types.Value{}, diag.New(diag.InvalidComparison, e.Pos, "%s vs %s", lt, rt)
		}
		if lt.Size() < rt.Size() {
			regType = lt
		} else {
			regType = rt
		}
	}

	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.B, x86.W64))); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
		return types.Value{}, err
	}
	width := x86.WidthFromSize(regType.Size())
	if err := c.emit(x86.Instr2(x86.CMP, x86.RegOp(x86.A, width), x86.RegOp(x86.B, width))); err != nil {
		return types.Value{}, err
	}

	mnem, ok := compareNibble[e.CmpOp]
	if !ok {
		return types.Value{}, diag.New(diag.InvalidComparison, e.Pos, "unsupported comparison operator")
	}
	if err := c.emit(x86.Instr2(mnem, x86.RegOp(x86.C, x86.W64), x86.RegOp(x86.D, x86.W64))); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.C, x86.W64))); err != nil {
		return types.Value{}, err
	}
	return types.New(types.Bool), nil
}

func (c *Context) lowerUnary(e *ast.Expr) (types.Value, error) {
	rt, err := c.lowerExpr(e.Base)
	if err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
		return types.Value{}, err
	}
	ax := x86.RegOp(x86.A, x86.W64)
	switch e.UnOp {
	case ast.OpNeg:
		if err := c.emit(x86.Instr1(x86.NEG, ax)); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr1(x86.PUSH, ax)); err != nil {
			return types.Value{}, err
		}
		if rt.Kind == types.UInt {
			return types.New(types.Int), nil
		}
		return rt, nil
	case ast.OpPos:
		if err := c.emit(x86.Instr1(x86.PUSH, ax)); err != nil {
			return types.Value{}, err
		}
		return rt, nil
	case ast.OpBitNot:
		if err := c.emit(x86.Instr1(x86.NOT, ax)); err != nil {
			return types.Value{}, err
		}
		if err := c.emit(x86.Instr1(x86.PUSH, ax)); err != nil {
			return types.Value{}, err
		}
		return rt, nil
	default:
		return types.Value{}, diag.New(diag.InvalidUnaryOperation, e.Pos, "unsupported unary operator")
	}
}

func (c *Context) lowerCall(e *ast.Expr) (types.Value, error) {
	sig, ok := c.Funcs[e.Callee]
	if !ok {
		return types.Value{}, diag.New(diag.UndefinedFunction, e.Pos, "%s", e.Callee)
	}
	for i, arg := range e.Args {
		at, err := c.lowerExpr(&arg)
		if err != nil {
			return types.Value{}, err
		}
		reg, err := argRegister(i, x86.WidthFromSize(at.ItemSize()))
		if err != nil {
			return types.Value{}, err
		}
		if at.Kind == types.String {
			// The length half of the fat pointer is discarded here:
			// only the data pointer crosses the ABI boundary.
			if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
				return types.Value{}, err
			}
		}
		if err := c.emit(x86.Instr1(x86.POP, x86.RegisterOp(reg))); err != nil {
			return types.Value{}, err
		}
	}

	if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.A, x86.W64), x86.ImmOp(0))); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.BP, x86.W64))); err != nil {
		return types.Value{}, err
	}
	var target x86.Operand
	if sig.Foreign {
		target = x86.RelaOp(e.Callee)
	} else {
		target = x86.LabelOp(e.Callee)
	}
	if err := c.emit(x86.Instr1(x86.CALL, target)); err != nil {
		return types.Value{}, err
	}
	if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
		return types.Value{}, err
	}
	return sig.Ret, nil
}
