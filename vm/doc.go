// Package vm implements the marl execution engine.
//
// This package contains:
//   - Tagged value representation and the handle-based object memory
//   - Kernel class layouts, method dictionaries and symbols
//   - The bytecode instruction set, an assembler and the interpreter
//   - Heap-allocated method and block contexts
//   - The cooperative process scheduler, semaphores and poll sources
//   - The primitive table
//   - CBOR image save and load
package vm
