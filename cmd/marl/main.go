// Command marl runs the marl image: it files in source, evaluates
// expressions, runs a REPL, manages image snapshots and serves remote
// evaluation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/config"
	"github.com/chazu/marl/kernel"
	"github.com/chazu/marl/vm"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("marl")

// errUsage reports bad command-line usage; the message has been printed.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// verbosity is a flag that counts its occurrences: -v -v is two levels.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if b {
		*v++
	}
	return nil
}

func (v *verbosity) IsBoolFlag() bool { return true }

// options are the flags shared by every mode.
type options struct {
	expr        string
	interactive bool
	image       string
	save        string
	configPath  string
	verbose     verbosity
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.expr, "e", "", "Evaluate `expression` and print the result")
	fs.BoolVar(&o.interactive, "i", false, "Start interactive REPL")
	fs.StringVar(&o.image, "image", "", "Start from the image at `path` instead of a fresh kernel")
	fs.StringVar(&o.save, "save", "", "Write the image to `path` before exiting")
	fs.StringVar(&o.configPath, "config", "", "Configuration `file` (marl.toml or marl.yaml)")
	fs.Var(&o.verbose, "v", "Verbose logging (repeat for more)")
}

// env is a configured runtime with its compiler.
type env struct {
	cfg      *config.Config
	rt       *vm.Runtime
	compiler *compiler.Compiler
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "serve":
			return exitCode(stderr, runServe(args[1:], stdout, stderr))
		case "snapshot":
			return exitCode(stderr, runSnapshot(args[1:], stdout, stderr))
		case "eval":
			return exitCode(stderr, runRemoteEval(args[1:], stdout, stderr))
		}
	}

	var opts options
	fs := flag.NewFlagSet("marl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts.register(fs)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: marl [options] [paths...]\n")
		fmt.Fprintf(stderr, "       marl serve [options]\n")
		fmt.Fprintf(stderr, "       marl snapshot save|load|list|rm [options] [args]\n")
		fmt.Fprintf(stderr, "       marl eval -remote host:port expression\n\n")
		fmt.Fprintf(stderr, "Files in .st sources from the given paths (dir/... recurses).\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  marl -i                      # Start REPL\n")
		fmt.Fprintf(stderr, "  marl -e '3 + 4'              # Evaluate and print\n")
		fmt.Fprintf(stderr, "  marl ./src/... -save app.img # File in src/ recursively and save the image\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	e, err := setup(&opts, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	paths := fs.Args()
	for _, path := range paths {
		if err := fileInPath(e.compiler, path); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if opts.expr != "" {
		if err := evalAndPrint(e, opts.expr, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if opts.interactive || (len(paths) == 0 && opts.expr == "" && opts.save == "") {
		runREPL(e, stdin, stdout, isTerminal(stdin))
	}

	if opts.save != "" {
		if err := e.rt.SaveImageFile(opts.save); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		log.Infof("saved image to %s", opts.save)
	}
	return 0
}

func exitCode(stderr io.Writer, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// setup loads the configuration, configures logging and creates the
// runtime, from an image when one is named.
func setup(opts *options, stdout io.Writer) (*env, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	configureLogging(cfg, int(opts.verbose))

	vmOpts := cfg.VMOptions()
	vmOpts.Output = stdout
	var rt *vm.Runtime
	if opts.image != "" {
		rt, err = vm.LoadImageFile(opts.image, vmOpts)
	} else {
		rt, err = kernel.NewRuntime(vmOpts)
	}
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, rt: rt, compiler: compiler.New(rt, cfg.CompilerOptions())}, nil
}

// loadConfig loads path, or searches upward from the working directory
// when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FindAndLoad(".")
}

func configureLogging(cfg *config.Config, extra int) {
	var path *string
	if cfg.Log.File != "" {
		path = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity+extra, path)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// fileInPath files in one .st file, the .st files of a directory, or with
// a trailing /... the .st files of a directory tree.
func fileInPath(c *compiler.Compiler, path string) error {
	recursive := false
	if strings.HasSuffix(path, "/...") {
		recursive = true
		path = strings.TrimSuffix(path, "/...")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access %q: %w", path, err)
	}

	var files []string
	switch {
	case !info.IsDir():
		files = append(files, path)
	case recursive:
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(p, ".st") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking %q: %w", path, err)
		}
	default:
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("reading %q: %w", path, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".st") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	}

	for _, file := range files {
		source, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if err := c.FileIn(string(source)); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		runForked(c.Runtime())
		log.Debugf("filed in %s", file)
	}
	return nil
}

// evalAndPrint evaluates source as a do-it and prints its printString.
func evalAndPrint(e *env, source string, out io.Writer) error {
	v, err := e.compiler.Evaluate(source)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, e.rt.PrintString(v))
	runForked(e.rt)
	return nil
}

// runForked gives the processes a do-it forked their turn before the next
// input is read. Failures were already logged when the process aborted.
func runForked(rt *vm.Runtime) {
	if err := rt.Scheduler.Drain(context.Background()); err != nil {
		log.Debugf("forked processes: %v", err)
	}
}
