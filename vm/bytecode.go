package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the high byte of an instruction word. The low byte is the
// operand; OpExtended takes the real opcode from its operand and the real
// operand from the following word.
type Opcode byte

const (
	OpPushInstance Opcode = iota
	OpPushArgument
	OpPushTemporary
	OpPushLiteral
	OpPushConstant
	OpPushGlobal
	OpPushArray
	OpAssignInstance
	OpAssignTemporary
	OpMarkArguments
	OpSendMessage
	OpSendSuper
	OpSendUnary
	OpSendBinary
	OpDoPrimitive
	OpExtended
	OpSpecial

	numOpcodes
)

// Operands of OpSpecial.
const (
	SpecialPopTop = iota
	SpecialSelfReturn
	SpecialStackReturn
	SpecialBranch
	SpecialBranchIfTrue
	SpecialBranchIfFalse
	SpecialDuplicate
	SpecialSetDefinedContext
)

// Operands of OpPushConstant.
const (
	ConstNil = iota
	ConstTrue
	ConstFalse
	ConstContext
)

var opcodeNames = [numOpcodes]string{
	"PUSH_INSTANCE", "PUSH_ARGUMENT", "PUSH_TEMPORARY", "PUSH_LITERAL",
	"PUSH_CONSTANT", "PUSH_GLOBAL", "PUSH_ARRAY", "ASSIGN_INSTANCE",
	"ASSIGN_TEMPORARY", "MARK_ARGUMENTS", "SEND_MESSAGE", "SEND_SUPER",
	"SEND_UNARY", "SEND_BINARY", "DO_PRIMITIVE", "EXTENDED", "SPECIAL",
}

var specialNames = []string{
	"POP_TOP", "SELF_RETURN", "STACK_RETURN", "BRANCH", "BRANCH_IF_TRUE",
	"BRANCH_IF_FALSE", "DUPLICATE", "SET_DEFINED_CONTEXT",
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	if op < numOpcodes {
		return opcodeNames[op]
	}
	return fmt.Sprintf("UNKNOWN_%02X", byte(op))
}

// hasJumpWord reports whether the special instruction is followed by a
// jump target word.
func hasJumpWord(special int) bool {
	return special == SpecialBranch || special == SpecialBranchIfTrue || special == SpecialBranchIfFalse
}

// ---------------------------------------------------------------------------
// Assembler: helper for constructing methods
// ---------------------------------------------------------------------------

// Label is a jump target inside an Assembler's code.
type Label struct {
	target int
	refs   []int
	bound  bool
}

// MethodSpec carries the header fields of a method or block.
type MethodSpec struct {
	Selector         string
	Primitive        string // run at send time; empty for none
	ArgumentsCount   int
	ArgumentsSize    int
	TemporariesCount int
	ArgumentsTop     int // first slot of a block's own arguments in the shared array
}

// Assembler builds instruction words and a literal table, tracking stack
// depth to size the evaluation stack.
type Assembler struct {
	rt       *Runtime
	code     []uint16
	literals []Value
	depth    int
	maxDepth int
}

// NewAssembler creates an empty assembler for rt.
func NewAssembler(rt *Runtime) *Assembler {
	return &Assembler{rt: rt}
}

// Len returns the number of words emitted so far.
func (a *Assembler) Len() int { return len(a.code) }

// Words returns the emitted code.
func (a *Assembler) Words() []uint16 { return a.code }

// Literal adds v to the literal table, reusing an identical entry.
func (a *Assembler) Literal(v Value) int {
	for i, l := range a.literals {
		if l == v {
			return i
		}
	}
	a.literals = append(a.literals, v)
	return len(a.literals) - 1
}

// Selector adds the interned selector to the literal table.
func (a *Assembler) Selector(name string) int {
	return a.Literal(a.rt.Intern(name))
}

// Adjust changes the tracked stack depth by n.
func (a *Assembler) Adjust(n int) {
	a.depth += n
	if a.depth > a.maxDepth {
		a.maxDepth = a.depth
	}
	if a.depth < 0 {
		a.depth = 0
	}
}

// Emit appends one instruction, using the extended form when operand does
// not fit a byte.
func (a *Assembler) Emit(op Opcode, operand int) {
	if operand < 0 || operand > 0xFFFF {
		panic(fmt.Sprintf("operand %d out of range for %v", operand, op))
	}
	if operand > 0xFF {
		a.code = append(a.code, uint16(OpExtended)<<8|uint16(op), uint16(operand))
	} else {
		a.code = append(a.code, uint16(op)<<8|uint16(operand))
	}
	a.Adjust(stackEffect(op, operand))
}

func stackEffect(op Opcode, operand int) int {
	switch op {
	case OpPushInstance, OpPushArgument, OpPushTemporary, OpPushLiteral,
		OpPushConstant, OpPushGlobal:
		return 1
	case OpPushArray:
		return 1 - operand
	case OpMarkArguments:
		return -(operand + 1)
	case OpSendMessage, OpSendSuper, OpDoPrimitive:
		return 1
	case OpSendBinary:
		return -1
	case OpSpecial:
		switch operand {
		case SpecialPopTop, SpecialStackReturn, SpecialBranchIfTrue, SpecialBranchIfFalse:
			return -1
		case SpecialDuplicate:
			return 1
		}
	}
	return 0
}

// Special appends a special instruction without a jump word.
func (a *Assembler) Special(s int) {
	a.Emit(OpSpecial, s)
}

// NewLabel creates an unbound label.
func (a *Assembler) NewLabel() *Label { return &Label{} }

// Bind resolves label to the current position and patches earlier jumps.
func (a *Assembler) Bind(l *Label) {
	l.bound = true
	l.target = len(a.code)
	for _, ref := range l.refs {
		a.code[ref] = uint16(l.target)
	}
	l.refs = nil
}

// Jump appends a branch special followed by its target word.
func (a *Assembler) Jump(special int, l *Label) {
	a.Special(special)
	if l.bound {
		a.code = append(a.code, uint16(l.target))
		return
	}
	l.refs = append(l.refs, len(a.code))
	a.code = append(a.code, 0)
}

// Send emits mark-arguments and send-message for selector.
func (a *Assembler) Send(selector string, argc int) {
	a.Emit(OpMarkArguments, argc)
	a.Emit(OpSendMessage, a.Selector(selector))
}

// SendSuper emits mark-arguments and send-super for selector.
func (a *Assembler) SendSuper(selector string, argc int) {
	a.Emit(OpMarkArguments, argc)
	a.Emit(OpSendSuper, a.Selector(selector))
}

// PushInt pushes a small integer literal.
func (a *Assembler) PushInt(n int64) {
	a.Emit(OpPushLiteral, a.Literal(FromSmallInt(n)))
}

// Method builds a CompiledMethod from the emitted code.
func (a *Assembler) Method(spec MethodSpec) Value {
	return a.build(a.rt.Classes.CompiledMethod, methodInstSize, spec)
}

// Block builds a CompiledBlock from the emitted code.
func (a *Assembler) Block(spec MethodSpec) Value {
	b := a.build(a.rt.Classes.CompiledBlock, blockInstSize, spec)
	a.rt.Memory.Object(b).SetInt(BlockArgumentsTop, spec.ArgumentsTop)
	return b
}

func (a *Assembler) build(class Value, instSize int, spec MethodSpec) Value {
	rt := a.rt
	rt.Memory.GCBegin()
	defer rt.Memory.GCEnd()

	code := make([]byte, 2*len(a.code))
	for i, w := range a.code {
		binary.LittleEndian.PutUint16(code[2*i:], w)
	}
	if spec.ArgumentsSize < spec.ArgumentsCount {
		spec.ArgumentsSize = spec.ArgumentsCount
	}
	prim := NoPrimitive
	if spec.Primitive != "" {
		idx, ok := PrimitiveIndex(spec.Primitive)
		if !ok {
			fatalf(ErrUnknownPrimitive, "%s", spec.Primitive)
		}
		prim = idx
	}
	m := rt.Memory.Allocate(class, instSize)
	o := rt.Memory.Object(m)
	o.Vars[MethodSelector] = rt.Intern(spec.Selector)
	o.SetInt(MethodPrimitive, prim)
	o.Vars[MethodLiterals] = rt.NewArray(a.literals...)
	o.Vars[MethodBytecodes] = rt.NewByteArray(code)
	o.SetInt(MethodArgumentsCount, spec.ArgumentsCount)
	o.SetInt(MethodArgumentsSize, spec.ArgumentsSize)
	o.SetInt(MethodTemporariesCount, spec.TemporariesCount)
	o.SetInt(MethodStackSize, a.maxDepth+1)
	return m
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders the instructions of a method or block.
func (rt *Runtime) Disassemble(method Value) string {
	mo := rt.Memory.Object(method)
	if mo == nil {
		return ""
	}
	code := rt.Memory.Object(mo.Var(MethodBytecodes)).Bytes
	n := len(code) / 2
	var sb strings.Builder
	for ip := 0; ip < n; {
		pos := ip
		word := binary.LittleEndian.Uint16(code[2*ip:])
		ip++
		op, arg := Opcode(word>>8), int(word&0xFF)
		if op == OpExtended {
			op = Opcode(arg)
			if ip < n {
				arg = int(binary.LittleEndian.Uint16(code[2*ip:]))
				ip++
			}
		}
		switch {
		case op == OpSpecial && arg < len(specialNames):
			fmt.Fprintf(&sb, "%04d  %s", pos, specialNames[arg])
			if hasJumpWord(arg) && ip < n {
				fmt.Fprintf(&sb, " -> %04d", binary.LittleEndian.Uint16(code[2*ip:]))
				ip++
			}
		default:
			fmt.Fprintf(&sb, "%04d  %s %d", pos, op, arg)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
