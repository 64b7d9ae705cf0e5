package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI runs the command with args and stdin, returning its exit code and
// output streams.
func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeConfig writes a marl.toml whose store lives in dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "marl.toml")
	content := "[store]\npath = \"" + filepath.ToSlash(filepath.Join(dir, "snapshots.db")) + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvalFlag(t *testing.T) {
	code, out, errOut := runCLI(t, "", "-e", "3 + 4")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "7\n" {
		t.Errorf("output = %q", out)
	}
}

func TestEvalFlagRunsForkedProcess(t *testing.T) {
	code, out, errOut := runCLI(t, "", "-e", "[Transcript show: 'child'] fork. 1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "1\nchild" {
		t.Errorf("output = %q", out)
	}
}

func TestEvalFlagCompileError(t *testing.T) {
	code, _, errOut := runCLI(t, "", "-e", "3 +")
	if code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
	if !strings.Contains(errOut, "Error:") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestFileInThenEval(t *testing.T) {
	dir := t.TempDir()
	src := `Greeter subclass: Object [
  method: greet: name [ ^'hello ', name ]
]
`
	if err := os.WriteFile(filepath.Join(dir, "greeter.st"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not source"), 0644); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, "", "-e", "Greeter new greet: 'marl'", dir)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "'hello marl'\n" {
		t.Errorf("output = %q", out)
	}
}

func TestFileInRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.st"), []byte("Deep := 5"), 0644); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, "", "-e", "Deep", dir+"/...")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "5\n" {
		t.Errorf("output = %q", out)
	}
}

func TestMissingPath(t *testing.T) {
	code, _, errOut := runCLI(t, "", filepath.Join(t.TempDir(), "absent.st"))
	if code != 1 || !strings.Contains(errOut, "cannot access") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestREPL(t *testing.T) {
	input := strings.Join([]string{
		"X := 6.",
		"X * 7",
		"",
		"Transcript show: 'hi'; cr.",
		"nil foo.",
		":nonsense",
		"exit",
		"99",
	}, "\n")
	code, out, errOut := runCLI(t, input, "-i")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"6\n", "42\n", "hi\n", "doesNotUnderstand: #foo", "Unknown command: :nonsense"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "99") {
		t.Error("input after exit was evaluated")
	}
	if strings.Contains(out, "st> ") {
		t.Error("prompt shown for non-terminal input")
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "app.img")

	code, _, errOut := runCLI(t, "", "-e", "Saved := 123", "-save", image)
	if code != 0 {
		t.Fatalf("save exit %d: %s", code, errOut)
	}
	code, out, errOut := runCLI(t, "", "-image", image, "-e", "Saved + 1")
	if code != 0 {
		t.Fatalf("load exit %d: %s", code, errOut)
	}
	if out != "124\n" {
		t.Errorf("output = %q", out)
	}
}

func TestSnapshotCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	src := filepath.Join(dir, "x.st")
	if err := os.WriteFile(src, []byte("Marker := 77"), 0644); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, "", "snapshot", "save", "-config", cfg, "-name", "first", src)
	if code != 0 {
		t.Fatalf("save exit %d: %s", code, errOut)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		t.Fatal("save printed no id")
	}

	code, out, errOut = runCLI(t, "", "snapshot", "list", "-config", cfg)
	if code != 0 {
		t.Fatalf("list exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "first") {
		t.Errorf("list output = %q", out)
	}

	code, out, errOut = runCLI(t, "", "snapshot", "load", "-config", cfg, "-e", "Marker", id)
	if code != 0 {
		t.Fatalf("load exit %d: %s", code, errOut)
	}
	if out != "77\n" {
		t.Errorf("load output = %q", out)
	}

	if code, _, errOut = runCLI(t, "", "snapshot", "rm", "-config", cfg, id); code != 0 {
		t.Fatalf("rm exit %d: %s", code, errOut)
	}
	if code, _, _ = runCLI(t, "", "snapshot", "rm", "-config", cfg, id); code != 1 {
		t.Errorf("second rm exit %d, want 1", code)
	}
	if code, _, _ = runCLI(t, "", "snapshot", "bogus", "-config", cfg); code != 2 {
		t.Errorf("unknown subcommand exit %d, want 2", code)
	}
}

func TestVerbosityFlagCounts(t *testing.T) {
	var opts options
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts.register(fs)
	if err := fs.Parse([]string{"-v", "-v", "-v=false", "-v"}); err != nil {
		t.Fatal(err)
	}
	if opts.verbose != 3 {
		t.Errorf("verbosity = %d, want 3", opts.verbose)
	}
}

func TestNextPort(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{"127.0.0.1:4567", "127.0.0.1:4568", false},
		{":80", ":81", false},
		{"localhost", "", true},
		{"host:http", "", true},
	}
	for _, tt := range tests {
		got, err := nextPort(tt.addr)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("nextPort(%q) = %q, %v", tt.addr, got, err)
		}
	}
}
