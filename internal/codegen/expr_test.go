package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrelc/internal/ast"
	"github.com/kestrel-lang/kestrelc/internal/diag"
	"github.com/kestrel-lang/kestrelc/internal/types"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

func newTestContext() *Context {
	return NewContext(NewBuffer(), diag.NewLogger())
}

func TestLowerIntLiteralPushesImmediate(t *testing.T) {
	c := newTestContext()
	e := &ast.Expr{Kind: ast.ExprInt, IntVal: 42}
	typ, err := c.lowerExpr(e)
	require.NoError(t, err)
	assert.Equal(t, types.Int, typ.Kind)
	require.Len(t, c.Buf.Instrs, 1)
	assert.Equal(t, x86.PUSH, c.Buf.Instrs[0].Mnemonic)
	assert.Equal(t, int64(42), c.Buf.Instrs[0].Operands[0].Imm)
}

func TestLowerBinaryAddCastsToWiderNumericType(t *testing.T) {
	c := newTestContext()
	e := &ast.Expr{
		Kind:  ast.ExprBinary,
		BinOp: ast.OpAdd,
		Left:  &ast.Expr{Kind: ast.ExprInt, IntVal: 1},
		Right: &ast.Expr{Kind: ast.ExprInt, IntVal: 2},
	}
	typ, err := c.lowerExpr(e)
	require.NoError(t, err)
	assert.Equal(t, types.Int, typ.Kind)

	var sawAdd bool
	for _, inst := range c.Buf.Instrs {
		if inst.Mnemonic == x86.ADD {
			sawAdd = true
		}
	}
	assert.True(t, sawAdd)
}

func TestLowerFieldReproducesOffsetAccumulationBug(t *testing.T) {
	c := newTestContext()
	c.Structs["Point"] = StructInfo{Fields: []FieldInfo{
		{Name: "x", Type: types.New(types.Int)},
		{Name: "y", Type: types.New(types.Int)},
	}}
	// lookupField accumulates offset through the matched field's own
	// size before comparing, so field "x" (the first field) is
	// reported at offset 8, not 0.
	field, ok := lookupField(c.Structs["Point"], "x")
	require.True(t, ok)
	assert.Equal(t, 8, field.Offset, "spec's flagged offset-accumulation bug: x lands at offset 8, not 0")

	fieldY, ok := lookupField(c.Structs["Point"], "y")
	require.True(t, ok)
	assert.Equal(t, 16, fieldY.Offset)
}

func TestLowerFieldLoadsValueNotPointerIntoRDX(t *testing.T) {
	c := newTestContext()
	c.Structs["Point"] = StructInfo{Fields: []FieldInfo{
		{Name: "x", Type: types.New(types.Int)},
	}}
	c.pushScope()
	c.declareVar("p", types.NewCustom("Point"))

	e := &ast.Expr{
		Kind: ast.ExprField,
		Base: &ast.Expr{Kind: ast.ExprIdent, Ident: "p"},
		Field: "x",
	}
	_, err := c.lowerExpr(e)
	require.NoError(t, err)

	// First emitted instruction must be a MOV into RDX sourced from the
	// variable's stack slot directly (its stored value), not a LEA
	// computing the slot's address — reproducing the flagged bug
	// verbatim rather than computing a real pointer first.
	require.NotEmpty(t, c.Buf.Instrs)
	first := c.Buf.Instrs[0]
	assert.Equal(t, x86.MOV, first.Mnemonic)
	assert.Equal(t, x86.D, first.Operands[0].Reg.Role)
	assert.Equal(t, x86.OKMem, first.Operands[1].Kind)
}

func TestLowerDerefAlwaysYieldsAny(t *testing.T) {
	c := newTestContext()
	c.pushScope()
	c.declareVar("p", types.New(types.Pointer))

	e := &ast.Expr{Kind: ast.ExprDeref, Base: &ast.Expr{Kind: ast.ExprIdent, Ident: "p"}}
	typ, err := c.lowerExpr(e)
	require.NoError(t, err)
	assert.Equal(t, types.Any, typ.Kind, "dereference never recovers the pointee's declared type")
}

func TestLowerCallDiscardsStringLengthHalf(t *testing.T) {
	c := newTestContext()
	c.Funcs["puts"] = FuncSig{Args: []types.Value{types.New(types.String)}, Ret: types.New(types.Int), Foreign: true}
	c.Buf.DeclareExternal("puts")

	e := &ast.Expr{
		Kind:   ast.ExprCall,
		Callee: "puts",
		Args:   []ast.Expr{{Kind: ast.ExprString, StringVal: "hi"}},
	}
	_, err := c.lowerExpr(e)
	require.NoError(t, err)

	var pops, pushes int
	for _, inst := range c.Buf.Instrs {
		switch inst.Mnemonic {
		case x86.POP:
			pops++
		case x86.PUSH:
			pushes++
		}
	}
	// String literal pushes (ptr, len) = 2 pushes, plus lowerCall's own
	// final push of the call's return value = 3. lowerCall pops the
	// length into RAX and discards it, then pops the pointer into the
	// argument register, then pops RBP before the call = 3 pops, with
	// no register ever carrying the string's length across the call
	// boundary.
	assert.Equal(t, 3, pushes, "string literal's 2 pushes plus the call's return-value push")
	assert.Equal(t, 3, pops, "length half is popped and dropped, pointer half is popped into the arg register, then rbp is popped before the call")
}

func TestLowerCallForeignUsesRelaTargetLocalUsesLabel(t *testing.T) {
	c := newTestContext()
	c.Funcs["puts"] = FuncSig{Ret: types.New(types.Int), Foreign: true}
	c.Funcs["helper"] = FuncSig{Ret: types.New(types.Int), Foreign: false}

	for _, name := range []string{"puts", "helper"} {
		c2 := newTestContext()
		c2.Funcs[name] = c.Funcs[name]
		e := &ast.Expr{Kind: ast.ExprCall, Callee: name}
		_, err := c2.lowerExpr(e)
		require.NoError(t, err)

		var found bool
		for _, inst := range c2.Buf.Instrs {
			if inst.Mnemonic == x86.CALL {
				found = true
				op := inst.Operands[0]
				if name == "puts" {
					assert.Equal(t, x86.OKRela, op.Kind)
				} else {
					assert.Equal(t, x86.OKLabel, op.Kind)
				}
			}
		}
		assert.True(t, found)
	}
}
