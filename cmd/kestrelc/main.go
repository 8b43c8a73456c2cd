// Command kestrelc is the compiler driver: it parses source, lowers
// it through internal/codegen, writes either an ET_REL object via
// pkg/objfile (--elf) or GAS text via internal/codegen/gas, and hands
// the result to internal/toolchain to produce a runnable executable.
package main

func main() {
	Execute()
}
