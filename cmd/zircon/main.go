// Zircon CLI - loads a bytecode file and runs it
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/kkestell/quartz/internal/cli"
	"github.com/kkestell/quartz/pkg/bytecode"
	"github.com/kkestell/quartz/vm"
)

var log = commonlog.GetLogger("zircon")

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (1 info, 2 debug)")
	trace := flag.Bool("trace", false, "Log every executed instruction (needs -v 2)")
	disasm := flag.Bool("d", false, "Disassemble instead of running")
	dump := flag.String("dump", "", "Write the CBOR fault snapshot to this file on a fault")
	postmortem := flag.Bool("postmortem", false, "Treat the argument as a fault snapshot and print it")
	steps := flag.Uint64("steps", 0, "Stop after this many instructions (0 = no limit)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: zircon [options] <bytecode-file>\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Zircon bytecode program.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  zircon prog.zbc                     # Run\n")
		fmt.Fprintf(os.Stderr, "  zircon -d prog.zbc                  # Disassemble\n")
		fmt.Fprintf(os.Stderr, "  zircon -dump fault.cbor prog.zbc    # Save the snapshot if it faults\n")
		fmt.Fprintf(os.Stderr, "  zircon -postmortem fault.cbor       # Inspect a saved snapshot\n")
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
	if !cli.IsSet(flag.CommandLine, "trace") {
		*trace = cfg.Run.Trace
	}
	if !cli.IsSet(flag.CommandLine, "steps") {
		*steps = cfg.Run.StepLimit
	}
	if !cli.IsSet(flag.CommandLine, "dump") {
		*dump = cfg.DumpPath()
	}
	cli.SetupLogging(*verbose, cfg.LogFile())

	if *postmortem {
		if err := showSnapshot(path); err != nil {
			cli.Fatalf("%v", err)
		}
		return
	}

	prog, err := bytecode.LoadFile(path)
	if err != nil {
		cli.Fatalf("%v", err)
	}
	log.Infof("loaded %s: %d functions, %d constants", path, prog.FunctionCount(), prog.ConstantCount())

	if *disasm {
		fmt.Print(prog.Disassemble())
		return
	}

	m := vm.New(prog, vm.WithTrace(*trace), vm.WithStepLimit(*steps))
	if err := m.Run(); err != nil {
		var fault *vm.Fault
		if errors.As(err, &fault) {
			if *verbose > 0 {
				fmt.Fprint(os.Stderr, fault.Dump())
			}
			if *dump != "" {
				if werr := writeSnapshot(*dump, fault.Snapshot); werr != nil {
					cli.Errorf(os.Stderr, "%v", werr)
				}
			}
		}
		cli.Fatalf("%v", err)
	}

	if v, ok := m.ReturnValue(); ok {
		log.Infof("returned %s after %d steps", v, m.Steps())
	} else {
		log.Infof("halted after %d steps", m.Steps())
	}
}

func writeSnapshot(path string, s *vm.Snapshot) error {
	data, err := vm.MarshalSnapshot(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	log.Noticef("fault snapshot written to %s", path)
	return nil
}

func showSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := vm.UnmarshalSnapshot(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Printf("fault in fn%d at %04X (%s)\n", s.Function, s.IP, s.Op)
	fmt.Print(s.Dump())
	return nil
}
