package codegen

import (
	"fmt"

	"github.com/kestrel-lang/kestrelc/internal/ast"
	"github.com/kestrel-lang/kestrelc/internal/diag"
	"github.com/kestrel-lang/kestrelc/internal/types"
)

// FieldInfo is one struct field's resolved type and byte offset.
// Offsets accumulate in declaration order before the name comparison
// that looks a field up; see lookupField below for the exact
// (deliberately unchanged) accumulation order.
type FieldInfo struct {
	Name   string
	Type   types.Value
	Offset int
}

type StructInfo struct {
	Fields []FieldInfo
}

// FuncSig is a function's resolved signature. Foreign distinguishes
// an extern/foreign declaration from a locally defined function, so
// call-site lowering can choose a Rela operand (linker-resolved) over
// a Label operand (intra-file, patched by the Buffer) without a
// second map lookup.
type FuncSig struct {
	Args    []types.Value
	Ret     types.Value
	Foreign bool
	Global  bool
}

type varInfo struct {
	StackOffset int
	Type        types.Value
}

type scope struct {
	id int
}

// loopCtx tracks the labels a break/continue inside the current loop
// should jump to.
type loopCtx struct {
	breakLabel    string
	continueLabel string
}

// Context is the compiler's lowering context: per-function state
// (scope stack, variable map, stack-offset counter) plus the
// whole-program struct/function tables and the code buffer they
// lower into.
type Context struct {
	Buf *Buffer
	Log *diag.Logger

	Structs map[string]StructInfo
	Funcs   map[string]FuncSig
	Globals map[string]types.Value

	scopes    []scope
	nextScope int
	vars      map[string]varInfo
	memOffset int

	loops []loopCtx

	curFunc *ast.Function
}

func NewContext(buf *Buffer, log *diag.Logger) *Context {
	return &Context{
		Buf:     buf,
		Log:     log,
		Structs: make(map[string]StructInfo),
		Funcs:   make(map[string]FuncSig),
		Globals: make(map[string]types.Value),
	}
}

func (c *Context) pushScope() int {
	id := c.nextScope
	c.nextScope++
	c.scopes = append(c.scopes, scope{id: id})
	return id
}

func (c *Context) popScope() {
	c.scopes = c.scopes[:len(c.scopes)-1]
}

func (c *Context) currentScopeID() int {
	return c.scopes[len(c.scopes)-1].id
}

func align8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// declareVar allocates a new stack slot for name in the current scope
// and records its type, shadowing any outer-scope variable of the
// same name via a name%scope_id key.
func (c *Context) declareVar(name string, t types.Value) *varInfo {
	c.memOffset += align8(t.Size())
	key := fmt.Sprintf("%s%%%d", name, c.currentScopeID())
	info := varInfo{StackOffset: c.memOffset, Type: t}
	if c.vars == nil {
		c.vars = make(map[string]varInfo)
	}
	c.vars[key] = info
	return &info
}

// lookupVar searches from the innermost scope outward.
func (c *Context) lookupVar(name string) (varInfo, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		key := fmt.Sprintf("%s%%%d", name, c.scopes[i].id)
		if v, ok := c.vars[key]; ok {
			return v, true
		}
	}
	return varInfo{}, false
}

// lookupField accumulates offset through every field's own size
// before comparing its name, so a field is reported at the offset one
// field's width past its own (the first field lands at its own size,
// not 0). Deliberately not rebalanced to compare before accumulating.
func lookupField(si StructInfo, name string) (FieldInfo, bool) {
	offset := 0
	for _, f := range si.Fields {
		offset += f.Type.Size()
		if f.Name == name {
			return FieldInfo{Name: f.Name, Type: f.Type, Offset: offset}, true
		}
	}
	return FieldInfo{}, false
}

func resolveType(structs map[string]StructInfo, t ast.TypeExpr) (types.Value, error) {
	if t.Ptr {
		return types.New(types.Pointer), nil
	}
	if t.Array {
		elem, err := resolveType(structs, *t.Elem)
		if err != nil {
			return types.Value{}, err
		}
		return types.NewArray(elem, t.Len), nil
	}
	switch t.Name {
	case "int":
		return types.New(types.Int), nil
	case "uint":
		return types.New(types.UInt), nil
	case "char":
		return types.New(types.Char), nil
	case "bool":
		return types.New(types.Bool), nil
	case "string":
		return types.New(types.String), nil
	case "void":
		return types.New(types.Void), nil
	default:
		if _, ok := structs[t.Name]; !ok {
			return types.Value{}, fmt.Errorf("undefined struct %q", t.Name)
		}
		return types.NewCustom(t.Name), nil
	}
}
