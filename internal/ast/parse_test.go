package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleFunction(t *testing.T) {
	src := `
fn main() -> int {
	let x: int = 1 + 2;
	return x;
}
`
	prog, err := Parse("t.ke", []byte(src))
	require.NoError(t, err)
	require.Len(t, prog.TopLevels, 1)

	fn := prog.TopLevels[0].Function
	require.NotNil(t, fn)
	assert.Equal(t, "main", fn.Ident)
	assert.True(t, fn.Global, "main is always exported")
	assert.Equal(t, "int", fn.Ret.Name)
	require.Len(t, fn.Body.Stmts, 2)

	decl := fn.Body.Stmts[0]
	require.Equal(t, StmtVarDecl, decl.Kind)
	require.NotNil(t, decl.VarDecl)
	assert.Equal(t, "x", decl.VarDecl.Ident)
	assert.Equal(t, "int", decl.VarDecl.Type.Name)
	require.NotNil(t, decl.VarDecl.Init)
	assert.Equal(t, ExprBinary, decl.VarDecl.Init.Kind)
	assert.Equal(t, OpAdd, decl.VarDecl.Init.BinOp)

	ret := fn.Body.Stmts[1]
	require.Equal(t, StmtReturn, ret.Kind)
	require.NotNil(t, ret.Return)
	assert.Equal(t, ExprIdent, ret.Return.Kind)
	assert.Equal(t, "x", ret.Return.Ident)
}

func TestParseStructAndFieldAssign(t *testing.T) {
	src := `
struct Point {
	x: int,
	y: int,
}

fn set(p: *Point) {
	p.x = 1;
}
`
	prog, err := Parse("t.ke", []byte(src))
	require.NoError(t, err)
	require.Len(t, prog.TopLevels, 2)

	sd := prog.TopLevels[0].Struct
	require.NotNil(t, sd)
	assert.Equal(t, "Point", sd.Ident)
	require.Len(t, sd.Fields, 2)
	assert.Equal(t, "x", sd.Fields[0].Ident)
	assert.Equal(t, "y", sd.Fields[1].Ident)

	fn := prog.TopLevels[1].Function
	require.NotNil(t, fn)
	require.Len(t, fn.Args, 1)
	assert.True(t, fn.Args[0].Type.Ptr)

	stmt := fn.Body.Stmts[0]
	require.Equal(t, StmtAssign, stmt.Kind)
	assert.Equal(t, LValueField, stmt.Assign.Target.Kind)
	assert.Equal(t, "p", stmt.Assign.Target.Ident)
	assert.Equal(t, "x", stmt.Assign.Target.Field)
}

func TestParseWhileBreakContinue(t *testing.T) {
	src := `
fn loop() {
	while 1 {
		break;
		continue;
	}
}
`
	prog, err := Parse("t.ke", []byte(src))
	require.NoError(t, err)
	fn := prog.TopLevels[0].Function
	require.Len(t, fn.Body.Stmts, 1)
	w := fn.Body.Stmts[0]
	require.Equal(t, StmtWhile, w.Kind)
	require.Len(t, w.While.Body.Stmts, 2)
	assert.Equal(t, StmtBreak, w.While.Body.Stmts[0].Kind)
	assert.Equal(t, StmtContinue, w.While.Body.Stmts[1].Kind)
}

func TestParseForeignDecl(t *testing.T) {
	src := `foreign fn puts(s: string) -> int;`
	prog, err := Parse("t.ke", []byte(src))
	require.NoError(t, err)
	require.Len(t, prog.TopLevels, 1)
	fd := prog.TopLevels[0].Foreign
	require.NotNil(t, fd)
	assert.Equal(t, "puts", fd.Ident)
	require.Len(t, fd.Args, 1)
	assert.Equal(t, "string", fd.Args[0].Type.Name)
}

func TestParseRejectsMissingTypeAnnotation(t *testing.T) {
	src := `
fn f() {
	let x = 1;
}
`
	_, err := Parse("t.ke", []byte(src))
	assert.Error(t, err, "the grammar requires an explicit : type on every let")
}
