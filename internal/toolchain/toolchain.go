// Package toolchain discovers and invokes the external assembler and
// linker: kestrelc never assembles or links itself, it only hands a
// generated artifact to a real `as`/`ld` and shells out.
package toolchain

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// Config names the external programs to invoke. Empty fields fall
// back to PATH lookup of "as"/"ld".
type Config struct {
	Assembler string
	Linker    string
}

func (c Config) assembler() string {
	if c.Assembler != "" {
		return c.Assembler
	}
	return "as"
}

func (c Config) linker() string {
	if c.Linker != "" {
		return c.Linker
	}
	return "ld"
}

// AssembleAndLink writes asmText to a temporary .s file next to
// outPath, assembles it, and links the result: the non--elf compile
// path (source -> GAS text -> object -> executable).
func AssembleAndLink(cfg Config, asmText string, outPath string) error {
	dir := filepath.Dir(outPath)
	base := filepath.Base(outPath)
	asmPath := filepath.Join(dir, base+".s")
	objPath := filepath.Join(dir, base+".o")

	if err := os.WriteFile(asmPath, []byte(asmText), 0644); err != nil {
		return fmt.Errorf("toolchain: write %s: %w", asmPath, err)
	}
	defer os.Remove(asmPath)

	if err := run(cfg.assembler(), "-o", objPath, asmPath); err != nil {
		return fmt.Errorf("toolchain: assemble: %w", err)
	}
	defer os.Remove(objPath)

	return LinkObject(cfg, objPath, outPath)
}

// LinkObject links a pre-built ET_REL object file (the --elf path,
// where pkg/objfile already produced objPath) into outPath.
func LinkObject(cfg Config, objPath, outPath string) error {
	if err := run(cfg.linker(), "-o", outPath, objPath); err != nil {
		return fmt.Errorf("toolchain: link: %w", err)
	}
	return os.Chmod(outPath, 0755)
}

// run executes name with args, decoding a non-zero exit via
// golang.org/x/sys/unix so the caller's error distinguishes a normal
// non-zero exit status from the child being killed by a signal.
func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return fmt.Errorf("%s: %w", name, err)
	}
	raw, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return fmt.Errorf("%s: %w", name, err)
	}
	ws := unix.WaitStatus(raw)
	if ws.Signaled() {
		return fmt.Errorf("%s: killed by signal %s", name, ws.Signal())
	}
	return fmt.Errorf("%s: exit status %d", name, ws.ExitStatus())
}
