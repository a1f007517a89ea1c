package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[compile]
entry = "start"

[run]
trace = true
step-limit = 5000

[log]
verbosity = 2
file = "logs/quartz.log"

[fault]
dump = "/tmp/fault.cbor"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Compile.Entry != "start" {
		t.Errorf("compile entry = %q, want start", m.Compile.Entry)
	}
	if !m.Run.Trace {
		t.Error("run trace = false, want true")
	}
	if m.Run.StepLimit != 5000 {
		t.Errorf("run step-limit = %d, want 5000", m.Run.StepLimit)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if got := m.LogFile(); got == nil || *got != filepath.Join(m.Dir, "logs", "quartz.log") {
		t.Errorf("log file = %v, want it under %s", got, m.Dir)
	}
	if m.DumpPath() != "/tmp/fault.cbor" {
		t.Errorf("dump path = %q, want /tmp/fault.cbor", m.DumpPath())
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Compile.Entry != "main" {
		t.Errorf("default entry = %q, want main", m.Compile.Entry)
	}
	if m.Run.Trace || m.Run.StepLimit != 0 {
		t.Errorf("default run = %+v, want zero", m.Run)
	}
	if m.LogFile() != nil {
		t.Errorf("default log file = %q, want nil", *m.LogFile())
	}
	if m.DumpPath() != "" {
		t.Errorf("default dump = %q, want empty", m.DumpPath())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[run\ntrace = true", "parse error"},
		{"wrong type", "[run]\nstep-limit = \"lots\"", "parse error"},
		{"unknown key", "[run]\nspeed = 3", "unknown key"},
		{"negative verbosity", "[log]\nverbosity = -1", "verbosity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for missing quartz.toml")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[compile]\nentry = \"go\"\n")

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil, want manifest from parent")
	}
	if m.Compile.Entry != "go" {
		t.Errorf("entry = %q, want go", m.Compile.Entry)
	}

	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
	if got := m.Resolve("out.zbc"); got != filepath.Join(abs, "out.zbc") {
		t.Errorf("Resolve = %q", got)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	// A quartz.toml further up (outside the temp dir) would be found too;
	// only check the result is consistent.
	if m != nil && m.Dir == "" {
		t.Error("manifest found without a directory")
	}
}
