// Package cli holds the setup shared by the quartz and zircon commands:
// configuration lookup, logging and error reporting.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/kkestell/quartz/manifest"
)

// LoadConfig finds quartz.toml above the working directory, or returns
// the defaults when there is none.
func LoadConfig() (*manifest.Manifest, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

// IsSet reports whether the named flag was given on the command line.
func IsSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// SetupLogging configures the commonlog backend. Verbosity 0 logs notices
// and above, 1 adds info and 2 adds debug.
func SetupLogging(verbosity int, path *string) {
	commonlog.Configure(verbosity, path)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Errorf writes a one-line diagnostic to w, colouring the prefix when w
// is a terminal.
func Errorf(w io.Writer, format string, args ...any) {
	prefix := "Error:"
	if isTerminal(w) && os.Getenv("NO_COLOR") == "" {
		prefix = "\x1b[1;31mError:\x1b[0m"
	}
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}

// Fatalf reports an error on stderr and exits with status 1.
func Fatalf(format string, args ...any) {
	Errorf(os.Stderr, format, args...)
	os.Exit(1)
}
