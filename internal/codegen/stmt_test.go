package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrelc/internal/ast"
	"github.com/kestrel-lang/kestrelc/internal/types"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

func TestLowerBreakOutsideLoopErrors(t *testing.T) {
	c := newTestContext()
	err := c.lowerBreak(ast.Position{File: "t.ke", Line: 1, Col: 1})
	assert.Error(t, err)
}

func TestLowerContinueOutsideLoopErrors(t *testing.T) {
	c := newTestContext()
	err := c.lowerContinue(ast.Position{File: "t.ke", Line: 1, Col: 1})
	assert.Error(t, err)
}

func TestLowerIfEmitsConditionalJumpToFreshElseLabel(t *testing.T) {
	c := newTestContext()
	c.pushScope()
	ifStmt := &ast.If{
		Cond: ast.Expr{Kind: ast.ExprInt, IntVal: 1},
		Then: ast.Block{},
	}
	require.NoError(t, c.lowerIf(ifStmt))

	var sawJZ, sawElseLabel, sawEndLabel bool
	for _, inst := range c.Buf.Instrs {
		if inst.Mnemonic == x86.JZ {
			sawJZ = true
		}
		if inst.Mnemonic == x86.LABEL {
			if inst.Name == ".Lelse1" {
				sawElseLabel = true
			}
			if inst.Name == ".Lendif2" {
				sawEndLabel = true
			}
		}
	}
	assert.True(t, sawJZ)
	assert.True(t, sawElseLabel)
	assert.True(t, sawEndLabel)
}

func TestLowerWhileTracksLoopLabelsForBreakAndContinue(t *testing.T) {
	c := newTestContext()
	c.pushScope()
	body := ast.Block{Stmts: []ast.Stmt{
		{Kind: ast.StmtBreak},
		{Kind: ast.StmtContinue},
	}}
	w := &ast.While{Cond: ast.Expr{Kind: ast.ExprInt, IntVal: 1}, Body: body}
	require.NoError(t, c.lowerWhile(w))
	assert.Empty(t, c.loops, "loop context must be popped after lowering the body")

	var jmpTargets []string
	for _, inst := range c.Buf.Instrs {
		if inst.Mnemonic == x86.JMP {
			jmpTargets = append(jmpTargets, inst.Operands[0].Label)
		}
	}
	// break jumps to whileend, continue jumps to whilecond, and the
	// loop's own trailing jmp also targets whilecond.
	require.Len(t, jmpTargets, 3)
	assert.Equal(t, ".Lwhileend2", jmpTargets[0])
	assert.Equal(t, ".Lwhilecond1", jmpTargets[1])
	assert.Equal(t, ".Lwhilecond1", jmpTargets[2])
}

func TestLowerAssignFallsBackToGlobalWhenNoLocalVar(t *testing.T) {
	c := newTestContext()
	c.Globals["counter"] = types.New(types.Int)
	c.pushScope()

	assign := &ast.Assign{
		Target: ast.LValue{Kind: ast.LValueVar, Ident: "counter"},
		Value:  ast.Expr{Kind: ast.ExprInt, IntVal: 5},
	}
	require.NoError(t, c.lowerAssign(assign))

	var sawRela bool
	for _, inst := range c.Buf.Instrs {
		for _, op := range inst.Operands {
			if op.Kind == x86.OKRela && op.Label == "counter" {
				sawRela = true
			}
		}
	}
	assert.True(t, sawRela, "assigning an undeclared local falls back to the RelaOp global-address idiom")
}

func TestLowerVarDeclRequiresExplicitType(t *testing.T) {
	c := newTestContext()
	c.pushScope()
	v := &ast.VarDecl{Ident: "x", Type: ast.TypeExpr{Name: "int"}, Init: &ast.Expr{Kind: ast.ExprInt, IntVal: 1}}
	require.NoError(t, c.lowerVarDecl(v))
	info, ok := c.lookupVar("x")
	require.True(t, ok)
	assert.Equal(t, types.Int, info.Type.Kind)
}
