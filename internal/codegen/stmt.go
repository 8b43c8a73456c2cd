package codegen

import (
	"github.com/kestrel-lang/kestrelc/internal/ast"
	"github.com/kestrel-lang/kestrelc/internal/diag"
	"github.com/kestrel-lang/kestrelc/internal/types"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

// lowerBlock pushes a fresh scope, lowers every statement in it, then
// pops the scope: a block is always its own scope.
func (c *Context) lowerBlock(b ast.Block) error {
	c.pushScope()
	defer c.popScope()
	for i := range b.Stmts {
		if err := c.lowerStmt(&b.Stmts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) lowerStmt(s *ast.Stmt) error {
	switch s.Kind {
	case ast.StmtVarDecl:
		return c.lowerVarDecl(s.VarDecl)
	case ast.StmtAssign:
		return c.lowerAssign(s.Assign)
	case ast.StmtIf:
		return c.lowerIf(s.If)
	case ast.StmtWhile:
		return c.lowerWhile(s.While)
	case ast.StmtReturn:
		return c.lowerReturn(s.Return)
	case ast.StmtBreak:
		return c.lowerBreak(s.Pos)
	case ast.StmtContinue:
		return c.lowerContinue(s.Pos)
	case ast.StmtExpr:
		if _, err := c.lowerExpr(s.Expr); err != nil {
			return err
		}
		// Expression statements discard their value; every expression
		// lowering pushes exactly one qword, so the stack is rebalanced
		// here rather than special-cased per expression kind.
		return c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64)))
	case ast.StmtBlock:
		return c.lowerBlock(*s.Block)
	default:
		return diag.New(diag.UnexpectedType, s.Pos, "unsupported statement")
	}
}

func (c *Context) lowerVarDecl(v *ast.VarDecl) error {
	t, err := resolveType(c.Structs, v.Type)
	if err != nil {
		return err
	}

	if v.Init != nil {
		if _, err := c.lowerExpr(v.Init); err != nil {
			return err
		}
	}

	info := c.declareVar(v.Ident, t)
	if v.Init != nil {
		width := x86.WidthFromSize(t.ItemSize())
		if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
			return err
		}
		if err := c.emit(x86.Instr2(x86.MOV, rbpMem(width, info.StackOffset), x86.RegisterOp(x86.AXSized(width)))); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) lowerAssign(a *ast.Assign) error {
	valType, err := c.lowerExpr(&a.Value)
	if err != nil {
		return err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
		return err
	}

	switch a.Target.Kind {
	case ast.LValueVar:
		if v, ok := c.lookupVar(a.Target.Ident); ok {
			width := x86.WidthFromSize(v.Type.ItemSize())
			return c.emit(x86.Instr2(x86.MOV, rbpMem(width, v.StackOffset), x86.RegisterOp(x86.AXSized(width))))
		}
		if t, ok := c.Globals[a.Target.Ident]; ok {
			if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
				return err
			}
			if err := c.loadGlobalAddr(x86.C, a.Target.Ident); err != nil {
				return err
			}
			if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
				return err
			}
			width := x86.WidthFromSize(t.ItemSize())
			return c.emit(x86.Instr2(x86.MOV, x86.MemBaseDisp(width, x86.C, 0), x86.RegisterOp(x86.AXSized(width))))
		}
		return diag.New(diag.UndefinedVariable, a.Value.Pos, "%s", a.Target.Ident)

	case ast.LValueField:
		v, ok := c.lookupVar(a.Target.Ident)
		if !ok {
			return diag.New(diag.UndefinedVariable, a.Value.Pos, "%s", a.Target.Ident)
		}
		si, ok := c.Structs[v.Type.Name]
		if !ok {
			return diag.New(diag.UndefinedStruct, a.Value.Pos, "%s", v.Type.Name)
		}
		field, ok := lookupField(si, a.Target.Field)
		if !ok {
			return diag.New(diag.UnknownReference, a.Value.Pos, "%s.%s", v.Type.Name, a.Target.Field)
		}
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.D, x86.W64), rbpMem(x86.W64, v.StackOffset))); err != nil {
			return err
		}
		if err := c.emit(x86.Instr2(x86.ADD, x86.RegOp(x86.D, x86.W64), x86.ImmOp(int64(field.Offset)))); err != nil {
			return err
		}
		width := x86.WidthFromSize(field.Type.ItemSize())
		return c.emit(x86.Instr2(x86.MOV, x86.MemBaseDisp(width, x86.D, 0), x86.RegisterOp(x86.AXSized(width))))

	case ast.LValueIndex:
		v, ok := c.lookupVar(a.Target.Ident)
		if !ok {
			return diag.New(diag.UndefinedVariable, a.Value.Pos, "%s", a.Target.Ident)
		}
		if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
			return err
		}
		if _, err := c.lowerExpr(a.Target.Indexer); err != nil {
			return err
		}
		if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.B, x86.W64))); err != nil {
			return err
		}
		if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
			return err
		}
		itemSize := v.Type.ItemSize()
		width := x86.WidthFromSize(itemSize)
		mem := x86.MemBaseIndexDisp(width, x86.BP, x86.B, itemSize, -int32(v.StackOffset))
		return c.emit(x86.Instr2(x86.MOV, mem, x86.RegisterOp(x86.AXSized(width))))

	case ast.LValueDeref:
		if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.A, x86.W64))); err != nil {
			return err
		}
		baseType, err := c.lowerExpr(a.Target.Target)
		if err != nil {
			return err
		}
		if baseType.Kind != types.Pointer {
			return diag.New(diag.UnmatchingTypes, a.Value.Pos, "cannot assign through %s", baseType)
		}
		if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.C, x86.W64))); err != nil {
			return err
		}
		if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
			return err
		}
		width := x86.WidthFromSize(valType.ItemSize())
		return c.emit(x86.Instr2(x86.MOV, x86.MemBaseDisp(width, x86.C, 0), x86.RegisterOp(x86.AXSized(width))))

	default:
		return diag.New(diag.UnexpectedType, a.Value.Pos, "unsupported assignment target")
	}
}

func (c *Context) lowerIf(i *ast.If) error {
	elseLabel := c.Buf.FreshLabel("else")
	endLabel := c.Buf.FreshLabel("endif")

	if _, err := c.lowerExpr(&i.Cond); err != nil {
		return err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
		return err
	}
	if err := c.emit(x86.Instr2(x86.CMP, x86.RegOp(x86.A, x86.W64), x86.ImmOp(0))); err != nil {
		return err
	}
	if err := c.emit(x86.Instr1(x86.JZ, x86.LabelOp(elseLabel))); err != nil {
		return err
	}

	if err := c.lowerBlock(i.Then); err != nil {
		return err
	}
	if err := c.emit(x86.Instr1(x86.JMP, x86.LabelOp(endLabel))); err != nil {
		return err
	}

	if err := c.emit(x86.Label(elseLabel)); err != nil {
		return err
	}
	if i.Else != nil {
		if err := c.lowerBlock(*i.Else); err != nil {
			return err
		}
	}
	return c.emit(x86.Label(endLabel))
}

func (c *Context) lowerWhile(w *ast.While) error {
	condLabel := c.Buf.FreshLabel("whilecond")
	endLabel := c.Buf.FreshLabel("whileend")

	if err := c.emit(x86.Label(condLabel)); err != nil {
		return err
	}
	if _, err := c.lowerExpr(&w.Cond); err != nil {
		return err
	}
	if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
		return err
	}
	if err := c.emit(x86.Instr2(x86.CMP, x86.RegOp(x86.A, x86.W64), x86.ImmOp(0))); err != nil {
		return err
	}
	if err := c.emit(x86.Instr1(x86.JZ, x86.LabelOp(endLabel))); err != nil {
		return err
	}

	c.loops = append(c.loops, loopCtx{breakLabel: endLabel, continueLabel: condLabel})
	err := c.lowerBlock(w.Body)
	c.loops = c.loops[:len(c.loops)-1]
	if err != nil {
		return err
	}

	if err := c.emit(x86.Instr1(x86.JMP, x86.LabelOp(condLabel))); err != nil {
		return err
	}
	return c.emit(x86.Label(endLabel))
}

func (c *Context) lowerBreak(pos ast.Position) error {
	if len(c.loops) == 0 {
		return diag.New(diag.UnexpectedType, pos, "break outside of a loop")
	}
	target := c.loops[len(c.loops)-1].breakLabel
	return c.emit(x86.Instr1(x86.JMP, x86.LabelOp(target)))
}

func (c *Context) lowerContinue(pos ast.Position) error {
	if len(c.loops) == 0 {
		return diag.New(diag.UnexpectedType, pos, "continue outside of a loop")
	}
	target := c.loops[len(c.loops)-1].continueLabel
	return c.emit(x86.Instr1(x86.JMP, x86.LabelOp(target)))
}

// lowerReturn lowers a return statement, leaving the function's
// result in RAX before jumping to the function's single epilogue. A
// bare `return` (expr == nil) skips straight to the epilogue jump
// with RAX untouched.
func (c *Context) lowerReturn(expr *ast.Expr) error {
	if expr != nil {
		if _, err := c.lowerExpr(expr); err != nil {
			return err
		}
		if err := c.emit(x86.Instr1(x86.POP, x86.RegOp(x86.A, x86.W64))); err != nil {
			return err
		}
	}
	return c.emit(x86.Instr1(x86.JMP, x86.LabelOp(c.epilogueLabel())))
}

func (c *Context) epilogueLabel() string {
	return ".Lepilogue_" + c.curFunc.Ident
}
