// Package compiler turns Smalltalk source into methods of a marl runtime.
//
// Three entry points cover the ways source reaches a runtime: expressions
// typed at a prompt (CompileExpression, Evaluate), single methods
// (CompileMethod) and whole files of class definitions, extensions and
// top-level statements (FileIn).
package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/marl/vm"
)

var log = commonlog.GetLogger("marl.compiler")

// Options configures code generation.
type Options struct {
	// SpecialSends emits the send-unary and send-binary instructions for
	// isNil, notNil and the arithmetic and comparison selectors.
	SpecialSends bool
}

// DefaultOptions returns the options used by the package-level functions.
func DefaultOptions() Options {
	return Options{SpecialSends: true}
}

// Compiler compiles source for one runtime. It holds no per-method state
// and may be reused, but like the runtime it is not safe for concurrent
// use.
type Compiler struct {
	rt   *vm.Runtime
	opts Options
}

// New creates a compiler for rt.
func New(rt *vm.Runtime, opts Options) *Compiler {
	return &Compiler{rt: rt, opts: opts}
}

// Runtime returns the runtime c compiles into.
func (c *Compiler) Runtime() *vm.Runtime { return c.rt }

// CompileExpression compiles statements, optionally preceded by
// temporaries, into a doIt method whose answer is the value of the last
// statement.
func (c *Compiler) CompileExpression(source string) (vm.Value, error) {
	p := NewParser(source)
	doIt := p.ParseDoIt()
	if errs := p.Errors(); len(errs) > 0 {
		return vm.Nil, &CompileError{Errors: errs}
	}
	return c.compileDoIt(doIt)
}

// Evaluate compiles source as an expression and runs it with nil as the
// receiver.
func (c *Compiler) Evaluate(source string) (vm.Value, error) {
	method, err := c.CompileExpression(source)
	if err != nil {
		return vm.Nil, err
	}
	return c.rt.Evaluate(method, vm.Nil)
}

// CompileMethod compiles source in method syntax and installs the result
// in class.
func (c *Compiler) CompileMethod(class vm.Value, source string) (vm.Value, error) {
	p := NewParser(source)
	def := p.ParseMethod()
	if errs := p.Errors(); len(errs) > 0 {
		return vm.Nil, &CompileError{Errors: errs}
	}
	return c.installMethod(class, def)
}

func (c *Compiler) installMethod(class vm.Value, def *MethodDef) (vm.Value, error) {
	method, err := c.compileMethodDef(class, def)
	if err != nil {
		return vm.Nil, err
	}
	c.rt.InstallMethod(class, method)
	log.Debugf("installed %s>>%s", c.rt.ClassNameOf(class), def.Selector)
	return method, nil
}

// FileIn parses source and, when it parses cleanly, defines its classes,
// installs its methods and evaluates its top-level statements in source
// order. Compilation errors in methods are collected per class; the first
// class with errors or the first failing statement stops the file-in.
func (c *Compiler) FileIn(source string) error {
	p := NewParser(source)
	sf := p.ParseSourceFile()
	if errs := p.Errors(); len(errs) > 0 {
		return &CompileError{Errors: errs}
	}
	for _, def := range sf.Definitions {
		switch d := def.(type) {
		case *ClassDef:
			if err := c.defineClass(d); err != nil {
				return err
			}
		case *DoIt:
			method, err := c.compileDoIt(d)
			if err != nil {
				return err
			}
			if _, err := c.rt.Evaluate(method, vm.Nil); err != nil {
				return fmt.Errorf("line %d: %w", d.Span().Start.Line, err)
			}
		}
	}
	return nil
}

// defineClass creates or extends a class and installs its methods.
func (c *Compiler) defineClass(d *ClassDef) error {
	rt := c.rt
	var class vm.Value
	if d.Extend {
		v, ok := rt.Global(d.Name)
		if !ok || !rt.IsKindOf(v, rt.Classes.Behavior) {
			return &CompileError{Errors: []string{fmt.Sprintf("line %d: %s is not a class", d.Span().Start.Line, d.Name)}}
		}
		class = v
	} else {
		super, ok := rt.Global(d.Superclass)
		if !ok || !rt.IsKindOf(super, rt.Classes.Behavior) {
			return &CompileError{Errors: []string{fmt.Sprintf("line %d: superclass %s of %s is not a class", d.Span().Start.Line, d.Superclass, d.Name)}}
		}
		class = rt.NewClass(d.Name, super, d.InstanceVariables)
		if d.Finalizes {
			rt.SetFinalization(class, true)
		}
		log.Debugf("defined %s subclass: %s", d.Name, d.Superclass)
	}

	var errs []string
	install := func(target vm.Value, defs []*MethodDef) {
		for _, m := range defs {
			if _, err := c.installMethod(target, m); err != nil {
				errs = append(errs, fmt.Sprintf("%s>>%s: %v", rt.ClassNameOf(target), m.Selector, err))
			}
		}
	}
	install(class, d.Methods)
	install(rt.ClassOf(class), d.ClassMethods)
	if len(errs) > 0 {
		return &CompileError{Errors: errs}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Package-level helpers using DefaultOptions
// ---------------------------------------------------------------------------

// CompileExpression compiles source into a doIt method of rt.
func CompileExpression(rt *vm.Runtime, source string) (vm.Value, error) {
	return New(rt, DefaultOptions()).CompileExpression(source)
}

// Evaluate compiles and runs source in rt.
func Evaluate(rt *vm.Runtime, source string) (vm.Value, error) {
	return New(rt, DefaultOptions()).Evaluate(source)
}

// CompileMethod compiles source and installs it in class.
func CompileMethod(rt *vm.Runtime, class vm.Value, source string) (vm.Value, error) {
	return New(rt, DefaultOptions()).CompileMethod(class, source)
}

// FileIn files source into rt.
func FileIn(rt *vm.Runtime, source string) error {
	return New(rt, DefaultOptions()).FileIn(source)
}
