package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/marl/vm"
)

// runREPL reads statements from in and prints their values. A line ending
// in '.' or an empty line evaluates what has been read so far. The prompt
// is shown only when in is a terminal.
func runREPL(e *env, in io.Reader, out io.Writer, prompt bool) {
	if prompt {
		fmt.Fprintln(out, "marl REPL (type 'exit' to quit, ':help' for commands)")
	}

	scanner := bufio.NewScanner(in)
	var buf strings.Builder

	flush := func() {
		input := strings.TrimSpace(buf.String())
		buf.Reset()
		if input == "" {
			return
		}
		if err := evalAndPrint(e, strings.TrimSuffix(input, "."), out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}

	for {
		if prompt {
			if buf.Len() == 0 {
				fmt.Fprint(out, "st> ")
			} else {
				fmt.Fprint(out, "... ")
			}
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if buf.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "exit" || trimmed == "quit" {
				return
			}
			if strings.HasPrefix(trimmed, ":") {
				handleREPLCommand(e, trimmed, out)
				continue
			}
		}

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
		if strings.HasSuffix(strings.TrimSpace(line), ".") {
			flush()
		}
	}
	flush()
	if prompt {
		fmt.Fprintln(out)
	}
}

// handleREPLCommand handles REPL meta-commands.
func handleREPLCommand(e *env, cmd string, out io.Writer) {
	name, arg, _ := strings.Cut(cmd, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case ":help", ":h", ":?":
		fmt.Fprintln(out, "REPL Commands:")
		fmt.Fprintln(out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(out, "  :load PATH        File in a source file or directory")
		fmt.Fprintln(out, "  :save PATH        Write the image")
		fmt.Fprintln(out, "  :gc               Collect garbage and show live objects")
		fmt.Fprintln(out, "  :disasm Class sel Show a method's bytecode")
		fmt.Fprintln(out, "  exit, quit        Exit REPL")
	case ":load":
		if err := fileInPath(e.compiler, arg); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	case ":save":
		if err := e.rt.SaveImageFile(arg); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	case ":gc":
		freed := e.rt.Collect()
		fmt.Fprintf(out, "freed %d, live %d\n", freed, e.rt.Memory.Live())
	case ":disasm":
		className, selector, _ := strings.Cut(arg, " ")
		class, ok := e.rt.Global(className)
		if !ok {
			fmt.Fprintf(out, "Unknown class: %s\n", className)
			return
		}
		method, ok := e.rt.LookupMethod(class, e.rt.Intern(strings.TrimSpace(selector)))
		if !ok || method == vm.Nil {
			fmt.Fprintf(out, "%s does not understand #%s\n", className, selector)
			return
		}
		fmt.Fprint(out, e.rt.Disassemble(method))
	default:
		fmt.Fprintf(out, "Unknown command: %s (type :help for commands)\n", cmd)
	}
}
