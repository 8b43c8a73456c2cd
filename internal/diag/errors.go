// Package diag implements the compiler's error taxonomy and
// diagnostic rendering, plus the structured logging the driver uses
// throughout the lowering pipeline.
package diag

import (
	"fmt"

	"github.com/kestrel-lang/kestrelc/internal/ast"
)

// Kind tags which member of the compiler's error taxonomy a
// Diagnostic is.
type Kind int

const (
	UndefinedVariable Kind = iota
	UndefinedStruct
	UndefinedFunction
	UnknownReference
	UnexpectedType
	UnmatchingTypes
	InvalidComparison
	InvalidBinaryOperation
	InvalidUnaryOperation
	CastError
	EncodingError
	IOError
)

var kindNames = [...]string{
	UndefinedVariable:      "undefined variable",
	UndefinedStruct:        "undefined struct",
	UndefinedFunction:      "undefined function",
	UnknownReference:       "unknown reference",
	UnexpectedType:         "unexpected type",
	UnmatchingTypes:        "unmatching types",
	InvalidComparison:      "invalid comparison",
	InvalidBinaryOperation: "invalid binary operation",
	InvalidUnaryOperation:  "invalid unary operation",
	CastError:              "cast error",
	EncodingError:          "encoding error",
	IOError:                "i/o error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "error"
}

// Diagnostic is one compiler error, always carrying the source
// position it was raised at. Any Diagnostic aborts the pipeline.
type Diagnostic struct {
	Kind   Kind
	Pos    ast.Position
	Detail string
}

func New(kind Kind, pos ast.Position, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Pos: pos, Detail: fmt.Sprintf(format, args...)}
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Pos, d.Kind, d.Detail)
}
