// Package kernel holds the class library every fresh runtime is filed in
// with: arithmetic, booleans, collections, exceptions, processes and the
// Transcript.
package kernel

import (
	_ "embed"
	"fmt"

	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("marl.kernel")

//go:embed kernel.st
var Source string

// Load files the kernel into rt using the default compiler options.
func Load(rt *vm.Runtime) error {
	return FileIn(compiler.New(rt, compiler.DefaultOptions()))
}

// FileIn files the kernel in through c, so the kernel is compiled with the
// same options as the code that follows it.
func FileIn(c *compiler.Compiler) error {
	if err := c.FileIn(Source); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}
	log.Debug("kernel loaded")
	return nil
}

// NewRuntime creates a runtime with opts and loads the kernel into it.
func NewRuntime(opts vm.Options) (*vm.Runtime, error) {
	rt := vm.NewRuntime(opts)
	if err := Load(rt); err != nil {
		return nil, err
	}
	return rt, nil
}
