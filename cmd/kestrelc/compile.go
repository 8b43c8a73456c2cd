package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrel-lang/kestrelc/internal/ast"
	"github.com/kestrel-lang/kestrelc/internal/codegen"
	"github.com/kestrel-lang/kestrelc/internal/codegen/gas"
	"github.com/kestrel-lang/kestrelc/internal/diag"
	"github.com/kestrel-lang/kestrelc/internal/toolchain"
)

var (
	compileOutput    string
	compileELF       bool
	compileTracePath string
)

var compileCmd = &cobra.Command{
	Use:   "compile <file>",
	Short: "Compile a source file to a native executable",
	Long: `compile lowers <file> through internal/codegen and produces a
Linux ELF64 executable.

Without --elf, kestrelc generates GAS assembly text and shells out to
the assembler then the linker. With --elf, kestrelc writes an ET_REL
object file directly via pkg/objfile and shells out only to the linker.
The flag takes two dashes; the single-dash spelling -elf is rejected.`,
	Args: cobra.ExactArgs(1),
	Run:  runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().StringVarP(&compileOutput, "o", "o", "", "output executable path (default: the input's base name without extension, inside output_dir)")
	compileCmd.Flags().BoolVar(&compileELF, "elf", false, "emit an ET_REL object file directly instead of GAS assembly text")
	compileCmd.Flags().StringVar(&compileTracePath, "trace", "", "write a JSON trace log of the lowering pipeline to this path")
}

func runCompile(cmd *cobra.Command, args []string) {
	inputPath := filepath.Clean(args[0])

	projCfg, err := loadProjectConfig("kestrelc.yaml")
	if err != nil {
		fatal(err)
	}

	log, err := newDriverLogger()
	if err != nil {
		fatal(err)
	}
	defer log.Close()

	src, err := os.ReadFile(inputPath)
	if err != nil {
		fatal(err)
	}

	prog, err := ast.Parse(inputPath, src)
	if err != nil {
		printDiagnostic(err)
		os.Exit(1)
	}

	objName := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	buf, err := codegen.Lower(prog, log)
	if err != nil {
		printDiagnostic(err)
		os.Exit(1)
	}

	outPath := compileOutput
	if outPath == "" {
		outPath = filepath.Join(projCfg.OutputDir, objName)
	}

	tcCfg := toolchain.Config{
		Assembler: viper.GetString("as"),
		Linker:    viper.GetString("ld"),
	}

	if compileELF {
		obj, err := buf.BuildObject(objName)
		if err != nil {
			printDiagnostic(err)
			os.Exit(1)
		}
		objPath := outPath + ".o"
		f, err := os.Create(objPath)
		if err != nil {
			fatal(err)
		}
		if _, err := obj.WriteTo(f); err != nil {
			f.Close()
			fatal(err)
		}
		f.Close()
		defer os.Remove(objPath)

		if err := toolchain.LinkObject(tcCfg, objPath, outPath); err != nil {
			fatal(err)
		}
	} else {
		asmText := gas.NewGenerator(buf).Generate()
		if err := toolchain.AssembleAndLink(tcCfg, asmText, outPath); err != nil {
			fatal(err)
		}
	}

	fmt.Printf("built %s -> %s\n", inputPath, outPath)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func printDiagnostic(err error) {
	if d, ok := err.(*diag.Diagnostic); ok {
		diag.NewPrinter(os.Stderr).Print(d)
		return
	}
	fmt.Fprintln(os.Stderr, err)
}
