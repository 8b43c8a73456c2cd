package codegen

import (
	"github.com/kestrel-lang/kestrelc/internal/ast"
	"github.com/kestrel-lang/kestrelc/internal/diag"
	"github.com/kestrel-lang/kestrelc/pkg/objfile"
	"github.com/kestrel-lang/kestrelc/pkg/x86"
)

// align16 rounds up to the next multiple of 16, the SysV stack
// alignment a function's frame must reserve.
func align16(n int) int {
	if n%16 == 0 {
		return n
	}
	return n + (16 - n%16)
}

// Lower registers every struct/function/static signature up front (so
// mutual recursion and forward references resolve) and then lowers
// every function body, returning the populated Buffer. Callers that
// only need the object file should use LowerProgram; the buffer is
// exposed separately for the CLI's GAS text path (internal/codegen/gas
// prints the same Buffer.Instrs stream pkg/x86.Encode consumed).
func Lower(prog *ast.Program, log *diag.Logger) (*Buffer, error) {
	buf := NewBuffer()
	c := NewContext(buf, log)

	if err := c.registerStructs(prog); err != nil {
		return nil, err
	}
	if err := c.registerSignatures(prog); err != nil {
		return nil, err
	}
	c.registerStatics(prog)

	for _, tl := range prog.TopLevels {
		if tl.Function != nil {
			if err := c.lowerFunction(tl.Function); err != nil {
				return nil, err
			}
			log.DeclLowered("function", tl.Function.Ident)
		}
	}

	return buf, nil
}

// LowerProgram runs Lower then BuildObject, for callers that only
// want the finished object file.
func LowerProgram(prog *ast.Program, log *diag.Logger, fileName string) (*objfile.File, error) {
	buf, err := Lower(prog, log)
	if err != nil {
		return nil, err
	}
	return buf.BuildObject(fileName)
}

func (c *Context) registerStructs(prog *ast.Program) error {
	for _, tl := range prog.TopLevels {
		if tl.Struct == nil {
			continue
		}
		si := StructInfo{}
		for _, f := range tl.Struct.Fields {
			t, err := resolveType(c.Structs, f.Type)
			if err != nil {
				return diag.New(diag.UndefinedStruct, tl.Pos, "field %s.%s: %v", tl.Struct.Ident, f.Ident, err)
			}
			si.Fields = append(si.Fields, FieldInfo{Name: f.Ident, Type: t})
		}
		c.Structs[tl.Struct.Ident] = si
	}
	return nil
}

func (c *Context) registerSignatures(prog *ast.Program) error {
	for _, tl := range prog.TopLevels {
		switch {
		case tl.Function != nil:
			sig, err := c.funcSigOf(tl.Function.Args, tl.Function.Ret)
			if err != nil {
				return err
			}
			sig.Global = tl.Function.Global
			c.Funcs[tl.Function.Ident] = sig
		case tl.Foreign != nil:
			sig, err := c.funcSigOf(tl.Foreign.Args, tl.Foreign.Ret)
			if err != nil {
				return err
			}
			sig.Foreign = true
			c.Funcs[tl.Foreign.Ident] = sig
			c.Buf.DeclareExternal(tl.Foreign.Ident)
		}
	}
	return nil
}

func (c *Context) funcSigOf(args []ast.FunctionArg, ret ast.TypeExpr) (FuncSig, error) {
	sig := FuncSig{}
	for _, a := range args {
		t, err := resolveType(c.Structs, a.Type)
		if err != nil {
			return FuncSig{}, err
		}
		sig.Args = append(sig.Args, t)
	}
	retType, err := resolveType(c.Structs, ret)
	if err != nil {
		return FuncSig{}, err
	}
	sig.Ret = retType
	return sig, nil
}

func (c *Context) registerStatics(prog *ast.Program) {
	for _, tl := range prog.TopLevels {
		if tl.Static == nil {
			continue
		}
		t, err := resolveType(c.Structs, tl.Static.Type)
		if err != nil {
			continue
		}
		c.Globals[tl.Static.Ident] = t
		c.Buf.ReserveBSS(tl.Static.Ident, uint64(t.Size()), tl.Static.Global)
	}
}

// countFrameBytes statically replays the bump-allocator arithmetic
// declareVar performs (args first, then every let encountered in
// source order across all branches, since neither function_args nor
// the block/variable lowering this is inferred from ever reclaims a
// stack slot) so the prologue can reserve the frame before the body
// that references it is emitted.
func (c *Context) countFrameBytes(fn *ast.Function) (int, error) {
	total := 0
	for _, a := range fn.Args {
		t, err := resolveType(c.Structs, a.Type)
		if err != nil {
			return 0, err
		}
		total += align8(t.Size())
	}
	var walkBlock func(b ast.Block) error
	var walkStmt func(s ast.Stmt) error
	walkStmt = func(s ast.Stmt) error {
		switch s.Kind {
		case ast.StmtVarDecl:
			t, err := resolveType(c.Structs, s.VarDecl.Type)
			if err != nil {
				return err
			}
			total += align8(t.Size())
		case ast.StmtIf:
			if err := walkBlock(s.If.Then); err != nil {
				return err
			}
			if s.If.Else != nil {
				if err := walkBlock(*s.If.Else); err != nil {
					return err
				}
			}
		case ast.StmtWhile:
			return walkBlock(s.While.Body)
		case ast.StmtBlock:
			return walkBlock(*s.Block)
		}
		return nil
	}
	walkBlock = func(b ast.Block) error {
		for _, s := range b.Stmts {
			if err := walkStmt(s); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walkBlock(fn.Body); err != nil {
		return 0, err
	}
	return total, nil
}

// lowerFunction emits one function's prologue, argument-register
// marshaling, body, and epilogue. The function literally named "main"
// is special-cased to the program's entry label and an exit syscall
// rather than an ordinary leave/ret return.
func (c *Context) lowerFunction(fn *ast.Function) error {
	c.memOffset = 0
	c.vars = make(map[string]varInfo)
	c.scopes = nil
	c.nextScope = 0
	c.loops = nil
	c.curFunc = fn

	frameBytes, err := c.countFrameBytes(fn)
	if err != nil {
		return err
	}

	entryLabel := fn.Ident
	isMain := fn.Ident == "main"
	if isMain {
		entryLabel = "_start"
	}
	if err := c.emit(x86.Label(entryLabel)); err != nil {
		return err
	}
	c.Buf.ExportFunction(entryLabel, fn.Global || isMain)

	if err := c.emit(x86.Instr1(x86.PUSH, x86.RegOp(x86.BP, x86.W64))); err != nil {
		return err
	}
	if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.BP, x86.W64), x86.RegOp(x86.SP, x86.W64))); err != nil {
		return err
	}
	if frameBytes > 0 {
		if err := c.emit(x86.Instr2(x86.SUB, x86.RegOp(x86.SP, x86.W64), x86.ImmOp(int64(align16(frameBytes))))); err != nil {
			return err
		}
	}

	c.pushScope()
	if err := c.lowerFunctionArgs(fn.Args); err != nil {
		return err
	}
	for i := range fn.Body.Stmts {
		if err := c.lowerStmt(&fn.Body.Stmts[i]); err != nil {
			return err
		}
	}
	c.popScope()

	if isMain {
		// Falling off the end of main without an explicit return exits
		// 0; a return statement already jumped straight to the epilogue
		// label below with its value in EAX, bypassing this zeroing.
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.A, x86.W64), x86.ImmOp(0))); err != nil {
			return err
		}
	}

	if err := c.emit(x86.Label(c.epilogueLabel())); err != nil {
		return err
	}
	if isMain {
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.DI, x86.W32), x86.RegOp(x86.A, x86.W32))); err != nil {
			return err
		}
		if err := c.emit(x86.Instr2(x86.MOV, x86.RegOp(x86.A, x86.W64), x86.ImmOp(60))); err != nil {
			return err
		}
		return c.emit(x86.Syscall())
	}
	if err := c.emit(x86.Leave()); err != nil {
		return err
	}
	return c.emit(x86.Ret())
}

// lowerFunctionArgs copies each incoming argument register into its
// stack slot, the same register-to-stack lowering function_args
// performs with a flat per-argument increment.
func (c *Context) lowerFunctionArgs(args []ast.FunctionArg) error {
	for i, a := range args {
		t, err := resolveType(c.Structs, a.Type)
		if err != nil {
			return err
		}
		width := x86.WidthFromSize(t.ItemSize())
		reg, err := argRegister(i, width)
		if err != nil {
			return err
		}
		info := c.declareVar(a.Ident, t)
		if err := c.emit(x86.Instr2(x86.MOV, rbpMem(width, info.StackOffset), x86.RegisterOp(reg))); err != nil {
			return err
		}
	}
	return nil
}
