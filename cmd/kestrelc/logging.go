package main

import "github.com/kestrel-lang/kestrelc/internal/diag"

// newDriverLogger builds the diag.Logger the compile command logs
// through: stderr-only by default, additionally fanned out to a JSON
// trace file when --trace names one.
func newDriverLogger() (*diag.Logger, error) {
	if compileTracePath == "" {
		return diag.NewLogger(), nil
	}
	return diag.NewLoggerWithTrace(compileTracePath)
}
