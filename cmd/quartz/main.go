// Quartz CLI - compiles a YAML program tree to Zircon bytecode
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/kkestell/quartz/compiler"
	"github.com/kkestell/quartz/internal/cli"
	"github.com/kkestell/quartz/pkg/ast"
)

var log = commonlog.GetLogger("quartz")

func main() {
	output := flag.String("o", "", "Output file (default: input with .zbc extension)")
	showIR := flag.Bool("ir", false, "Print the IR")
	disasm := flag.Bool("d", false, "Print the disassembled bytecode")
	entry := flag.String("entry", "", "Entry function name (default from quartz.toml, else main)")
	verbose := flag.Int("v", 0, "Log verbosity (1 info, 2 debug)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: quartz [options] <program.yaml>\n\n")
		fmt.Fprintf(os.Stderr, "Compiles a program tree to Zircon bytecode.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  quartz prog.yaml              # Writes prog.zbc\n")
		fmt.Fprintf(os.Stderr, "  quartz -ir -d prog.yaml       # Also show IR and bytecode\n")
		fmt.Fprintf(os.Stderr, "  quartz -o out.zbc prog.yaml   # Choose the output file\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg, err := cli.LoadConfig()
	if err != nil {
		cli.Fatalf("%v", err)
	}
	if !cli.IsSet(flag.CommandLine, "v") {
		*verbose = cfg.Log.Verbosity
	}
	if *entry == "" {
		*entry = cfg.Compile.Entry
	}
	if *output == "" {
		*output = strings.TrimSuffix(path, filepath.Ext(path)) + ".zbc"
	}
	cli.SetupLogging(*verbose, cfg.LogFile())

	stmts, err := ast.DecodeYAMLFile(path)
	if err != nil {
		cli.Fatalf("%v", err)
	}

	opts := []compiler.Option{compiler.WithEntryName(*entry)}
	ir, err := compiler.GenerateIR(stmts, opts...)
	if err != nil {
		cli.Fatalf("%v", err)
	}
	if *showIR {
		fmt.Print(ir)
	}

	prog, err := compiler.GenerateBytecode(ir, opts...)
	if err != nil {
		cli.Fatalf("%v", err)
	}
	if *disasm {
		fmt.Print(prog.Disassemble())
	}

	if err := prog.WriteFile(*output); err != nil {
		cli.Fatalf("%v", err)
	}
	log.Infof("wrote %s: %d functions, %d constants", *output, prog.FunctionCount(), prog.ConstantCount())
}
