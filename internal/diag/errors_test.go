package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrel-lang/kestrelc/internal/ast"
)

func TestNewFormatsDetailAndError(t *testing.T) {
	pos := ast.Position{File: "t.ke", Line: 3, Col: 5}
	d := New(UndefinedVariable, pos, "%s is not declared", "x")

	assert.Equal(t, "x is not declared", d.Detail)
	assert.Equal(t, "t.ke:3:5: undefined variable: x is not declared", d.Error())
}

func TestKindStringFallsBackForUnknownKind(t *testing.T) {
	assert.Equal(t, "i/o error", IOError.String())
	assert.Equal(t, "error", Kind(999).String())
}
