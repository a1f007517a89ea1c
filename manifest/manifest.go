// Package manifest handles quartz.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "quartz.toml"

var log = commonlog.GetLogger("quartz.manifest")

// Manifest represents a quartz.toml configuration.
type Manifest struct {
	Compile Compile `toml:"compile"`
	Run     Run     `toml:"run"`
	Log     Log     `toml:"log"`
	Fault   Fault   `toml:"fault"`

	// Dir is the directory containing the quartz.toml file (set at load time).
	Dir string `toml:"-"`
}

// Compile configures the compiler.
type Compile struct {
	Entry string `toml:"entry"`
}

// Run configures the virtual machine.
type Run struct {
	Trace     bool   `toml:"trace"`
	StepLimit uint64 `toml:"step-limit"`
}

// Log configures logging for the command-line tools.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Fault configures what happens when execution faults.
type Fault struct {
	// Dump is a file that receives the CBOR-encoded fault snapshot.
	Dump string `toml:"dump"`
}

// Default returns the configuration used when no quartz.toml exists.
func Default() *Manifest {
	return &Manifest{Compile: Compile{Entry: "main"}}
}

// Load parses a quartz.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Compile.Entry == "" {
		m.Compile.Entry = "main"
	}
	if m.Log.Verbosity < 0 {
		return nil, fmt.Errorf("%s: log verbosity must not be negative", path)
	}

	log.Debugf("loaded %s", path)
	return m, nil
}

// FindAndLoad walks up from startDir to find a quartz.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve makes a configured path absolute relative to the manifest's
// directory. Empty and absolute paths are returned unchanged.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.Dir == "" {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// LogFile returns the resolved log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Resolve(m.Log.File)
	return &path
}

// DumpPath returns the resolved fault dump path, or "" if dumping is off.
func (m *Manifest) DumpPath() string {
	return m.Resolve(m.Fault.Dump)
}
