package compiler

import (
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"github.com/chazu/marl/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to instruction words
// ---------------------------------------------------------------------------

type varKind int

const (
	varArgument varKind = iota
	varTemporary
)

type binding struct {
	kind  varKind
	index int // slot in the method's shared argument or temporary array
}

// scope maps the names declared by a method or block. Blocks see the
// names of every enclosing scope.
type scope struct {
	names map[string]binding
	outer *scope
}

// methodGen holds the state of one method compilation. Every block of the
// method shares its argument and temporary arrays, so declarations only
// ever grow numArgs and numTemps.
type methodGen struct {
	c        *Compiler
	rt       *vm.Runtime
	class    vm.Value
	ivars    map[string]int
	scope    *scope
	asm      *vm.Assembler
	numArgs  int
	numTemps int
	doIt     bool
	errors   []string
}

func (c *Compiler) newGen(class vm.Value) *methodGen {
	g := &methodGen{
		c:     c,
		rt:    c.rt,
		class: class,
		ivars: make(map[string]int),
		asm:   vm.NewAssembler(c.rt),
	}
	if class != vm.Nil {
		for i, name := range c.rt.InstanceVariableNames(class) {
			g.ivars[name] = i
		}
	}
	return g
}

// errorAt records a compilation error at node.
func (g *methodGen) errorAt(node Node, format string, args ...interface{}) {
	msg := fmt.Sprintf("line %d: %s", node.Span().Start.Line, fmt.Sprintf(format, args...))
	g.errors = append(g.errors, msg)
}

func (g *methodGen) pushScope() {
	g.scope = &scope{names: make(map[string]binding), outer: g.scope}
}

func (g *methodGen) popScope() {
	g.scope = g.scope.outer
}

// declare binds name in the innermost scope to a fresh slot.
func (g *methodGen) declare(node Node, name string, kind varKind) {
	if _, dup := g.scope.names[name]; dup {
		g.errorAt(node, "%s declared twice", name)
		return
	}
	if _, reserved := reservedWords[name]; reserved {
		g.errorAt(node, "cannot declare pseudo-variable %s", name)
		return
	}
	b := binding{kind: kind}
	if kind == varArgument {
		b.index = g.numArgs
		g.numArgs++
	} else {
		b.index = g.numTemps
		g.numTemps++
	}
	g.scope.names[name] = b
}

func (g *methodGen) lookup(name string) (binding, bool) {
	for s := g.scope; s != nil; s = s.outer {
		if b, ok := s.names[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

func isGlobalName(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

// ---------------------------------------------------------------------------
// Method, block and doIt bodies
// ---------------------------------------------------------------------------

// compileMethodDef compiles def for class without installing it.
func (c *Compiler) compileMethodDef(class vm.Value, def *MethodDef) (vm.Value, error) {
	for _, w := range checkMethod(def) {
		log.Warningf("%s>>%s: %s", c.rt.ClassNameOf(class), def.Selector, w)
	}

	g := c.newGen(class)
	g.pushScope()
	for _, p := range def.Parameters {
		g.declare(def, p, varArgument)
	}
	for _, t := range def.Temps {
		g.declare(def, t, varTemporary)
	}
	if def.Primitive != "" {
		if _, ok := vm.PrimitiveIndex(def.Primitive); !ok {
			g.errorAt(def, "unknown primitive %q", def.Primitive)
		}
	}
	if n := vm.SelectorArity(def.Selector); n != len(def.Parameters) {
		g.errorAt(def, "selector %s takes %d arguments, not %d", def.Selector, n, len(def.Parameters))
	}

	g.methodBody(def.Statements)
	if len(g.errors) > 0 {
		return vm.Nil, &CompileError{Errors: g.errors}
	}
	return g.asm.Method(vm.MethodSpec{
		Selector:         def.Selector,
		Primitive:        def.Primitive,
		ArgumentsCount:   len(def.Parameters),
		ArgumentsSize:    g.numArgs,
		TemporariesCount: g.numTemps,
	}), nil
}

// compileDoIt compiles statements into a doIt method answering the value
// of the last statement.
func (c *Compiler) compileDoIt(d *DoIt) (vm.Value, error) {
	g := c.newGen(vm.Nil)
	g.doIt = true
	g.pushScope()
	for _, t := range d.Temps {
		g.declare(d, t, varTemporary)
	}

	stmts := d.Statements
	if len(stmts) == 0 {
		g.asm.Emit(vm.OpPushConstant, vm.ConstNil)
		g.asm.Special(vm.SpecialStackReturn)
	}
	for i, stmt := range stmts {
		switch s := stmt.(type) {
		case *Return:
			g.expr(s.Value)
			g.asm.Special(vm.SpecialStackReturn)
		case *ExprStmt:
			g.expr(s.Expr)
			if i == len(stmts)-1 {
				g.asm.Special(vm.SpecialStackReturn)
			} else {
				g.asm.Special(vm.SpecialPopTop)
			}
		}
		if _, ok := stmt.(*Return); ok {
			break
		}
	}
	if len(g.errors) > 0 {
		return vm.Nil, &CompileError{Errors: g.errors}
	}
	return g.asm.Method(vm.MethodSpec{
		Selector:         "doIt",
		ArgumentsSize:    g.numArgs,
		TemporariesCount: g.numTemps,
	}), nil
}

// methodBody compiles statements that answer the receiver unless they
// return explicitly.
func (g *methodGen) methodBody(stmts []Stmt) {
	for _, stmt := range stmts {
		if ret, ok := stmt.(*Return); ok {
			g.expr(ret.Value)
			g.asm.Special(vm.SpecialStackReturn)
			return
		}
		g.expr(stmt.(*ExprStmt).Expr)
		g.asm.Special(vm.SpecialPopTop)
	}
	g.asm.Special(vm.SpecialSelfReturn)
}

// blockBody compiles the statements of a closure. The value of the last
// statement is answered to the sender of value; ^ returns from the home
// method.
func (g *methodGen) blockBody(stmts []Stmt) {
	if len(stmts) == 0 {
		g.asm.Emit(vm.OpPushConstant, vm.ConstNil)
	}
	for i, stmt := range stmts {
		if ret, ok := stmt.(*Return); ok {
			g.expr(ret.Value)
			g.asm.Special(vm.SpecialStackReturn)
			return
		}
		g.expr(stmt.(*ExprStmt).Expr)
		if i < len(stmts)-1 {
			g.asm.Special(vm.SpecialPopTop)
		}
	}
	g.asm.Special(vm.SpecialSelfReturn)
}

// inlineBody compiles the statements of a literal block in place, leaving
// the value of the last statement on the stack.
func (g *methodGen) inlineBody(b *Block) {
	g.pushScope()
	defer g.popScope()
	for _, t := range b.Temps {
		g.declare(b, t, varTemporary)
	}

	if len(b.Statements) == 0 {
		g.asm.Emit(vm.OpPushConstant, vm.ConstNil)
		return
	}
	for i, stmt := range b.Statements {
		if ret, ok := stmt.(*Return); ok {
			g.expr(ret.Value)
			g.asm.Special(vm.SpecialStackReturn)
			// Code after the return is unreachable but the stack still
			// balances as if a value were left.
			g.asm.Adjust(1)
			return
		}
		g.expr(stmt.(*ExprStmt).Expr)
		if i < len(b.Statements)-1 {
			g.asm.Special(vm.SpecialPopTop)
		}
	}
}

// compileBlock builds a CompiledBlock for b and pushes a closure over
// the running context.
func (g *methodGen) compileBlock(b *Block) {
	outer := g.asm
	g.asm = vm.NewAssembler(g.rt)
	g.pushScope()

	top := g.numArgs
	for _, p := range b.Parameters {
		g.declare(b, p, varArgument)
	}
	for _, t := range b.Temps {
		g.declare(b, t, varTemporary)
	}
	g.blockBody(b.Statements)

	block := g.asm.Block(vm.MethodSpec{
		Selector:         "[]",
		ArgumentsCount:   len(b.Parameters),
		ArgumentsSize:    g.numArgs,
		TemporariesCount: g.numTemps,
		ArgumentsTop:     top,
	})
	g.popScope()
	g.asm = outer

	g.asm.Emit(vm.OpPushLiteral, g.asm.Literal(g.rt.NewClosure(block)))
	g.asm.Special(vm.SpecialSetDefinedContext)
}

// ---------------------------------------------------------------------------
// Expression compilation
// ---------------------------------------------------------------------------

func (g *methodGen) expr(expr Expr) {
	switch e := expr.(type) {
	case *IntLiteral, *StringLiteral, *SymbolLiteral, *CharLiteral, *ArrayLiteral:
		g.asm.Emit(vm.OpPushLiteral, g.asm.Literal(g.literal(e)))
	case *DynamicArray:
		for _, el := range e.Elements {
			g.expr(el)
		}
		g.asm.Emit(vm.OpPushArray, len(e.Elements))
	case *Variable:
		g.variable(e)
	case *Assignment:
		g.assignment(e)
	case *UnaryMessage:
		g.send(e, e.Receiver, e.Selector, nil)
	case *BinaryMessage:
		g.send(e, e.Receiver, e.Selector, []Expr{e.Argument})
	case *KeywordMessage:
		g.send(e, e.Receiver, e.Selector, e.Arguments)
	case *Cascade:
		g.cascade(e)
	case *Block:
		g.compileBlock(e)
	case *Self:
		g.asm.Emit(vm.OpPushArgument, 0)
	case *Super:
		if g.class == vm.Nil {
			g.errorAt(e, "super outside a method")
		}
		g.asm.Emit(vm.OpPushArgument, 0)
	case *ThisContext:
		g.asm.Emit(vm.OpPushConstant, vm.ConstContext)
	case *NilLiteral:
		g.asm.Emit(vm.OpPushConstant, vm.ConstNil)
	case *TrueLiteral:
		g.asm.Emit(vm.OpPushConstant, vm.ConstTrue)
	case *FalseLiteral:
		g.asm.Emit(vm.OpPushConstant, vm.ConstFalse)
	default:
		g.errorAt(expr, "cannot compile %T", expr)
	}
}

// literal converts a literal node into an object.
func (g *methodGen) literal(expr Expr) vm.Value {
	rt := g.rt
	switch e := expr.(type) {
	case *IntLiteral:
		if e.Big != nil {
			return rt.Integer(e.Big)
		}
		if vm.FitsSmallInt(e.Value) {
			return vm.FromSmallInt(e.Value)
		}
		return rt.Integer(big.NewInt(e.Value))
	case *StringLiteral:
		return rt.NewString(e.Value)
	case *SymbolLiteral:
		return rt.Intern(e.Value)
	case *CharLiteral:
		return rt.Character(e.Value)
	case *ArrayLiteral:
		vals := make([]vm.Value, len(e.Elements))
		for i, el := range e.Elements {
			vals[i] = g.literal(el)
		}
		return rt.NewArray(vals...)
	case *NilLiteral:
		return vm.Nil
	case *TrueLiteral:
		return vm.True
	case *FalseLiteral:
		return vm.False
	}
	g.errorAt(expr, "%T is not a literal", expr)
	return vm.Nil
}

// variable pushes a variable: arguments and temporaries of the enclosing
// scopes, then instance variables, then globals.
func (g *methodGen) variable(v *Variable) {
	if b, ok := g.lookup(v.Name); ok {
		if b.kind == varArgument {
			g.asm.Emit(vm.OpPushArgument, b.index+1)
		} else {
			g.asm.Emit(vm.OpPushTemporary, b.index)
		}
		return
	}
	if i, ok := g.ivars[v.Name]; ok {
		g.asm.Emit(vm.OpPushInstance, i)
		return
	}
	if !isGlobalName(v.Name) {
		g.errorAt(v, "undefined variable %s", v.Name)
	}
	g.asm.Emit(vm.OpPushGlobal, g.asm.Selector(v.Name))
}

// assignment stores into a temporary, an instance variable or a global.
// Assignments leave the value on the stack. A doIt declares lowercase
// names on first assignment.
func (g *methodGen) assignment(a *Assignment) {
	b, ok := g.lookup(a.Variable)
	if !ok && g.doIt && !isGlobalName(a.Variable) {
		if _, iv := g.ivars[a.Variable]; !iv {
			g.declareOutermost(a.Variable)
			b, ok = g.lookup(a.Variable)
		}
	}
	switch {
	case ok && b.kind == varArgument:
		g.errorAt(a, "cannot assign to argument %s", a.Variable)
	case ok:
		g.expr(a.Value)
		g.asm.Emit(vm.OpAssignTemporary, b.index)
	default:
		if i, iv := g.ivars[a.Variable]; iv {
			g.expr(a.Value)
			g.asm.Emit(vm.OpAssignInstance, i)
			return
		}
		if !isGlobalName(a.Variable) {
			g.errorAt(a, "undefined variable %s", a.Variable)
			return
		}
		// Smalltalk at: #Name put: value
		g.asm.Emit(vm.OpPushGlobal, g.asm.Selector("Smalltalk"))
		g.asm.Emit(vm.OpPushLiteral, g.asm.Selector(a.Variable))
		g.expr(a.Value)
		g.asm.Send("at:put:", 2)
	}
}

// declareOutermost declares a temporary in the method scope.
func (g *methodGen) declareOutermost(name string) {
	s := g.scope
	for s.outer != nil {
		s = s.outer
	}
	s.names[name] = binding{kind: varTemporary, index: g.numTemps}
	g.numTemps++
}

// send compiles a message send, inlining control structures whose
// arguments are literal blocks.
func (g *methodGen) send(node Node, receiver Expr, selector string, args []Expr) {
	if g.inline(receiver, selector, args) {
		return
	}
	_, super := receiver.(*Super)
	g.expr(receiver)
	for _, arg := range args {
		g.expr(arg)
	}
	g.emitSend(selector, len(args), super)
}

func (g *methodGen) emitSend(selector string, argc int, super bool) {
	if super {
		g.asm.SendSuper(selector, argc)
		return
	}
	if g.c.opts.SpecialSends {
		switch argc {
		case 0:
			for i, s := range vm.UnarySelectors {
				if s == selector {
					g.asm.Emit(vm.OpSendUnary, i)
					return
				}
			}
		case 1:
			for i, s := range vm.BinarySelectors {
				if s == selector {
					g.asm.Emit(vm.OpSendBinary, i)
					return
				}
			}
		}
	}
	g.asm.Send(selector, argc)
}

// cascade sends every message to the value of the receiver expression,
// answering the result of the last one.
func (g *methodGen) cascade(c *Cascade) {
	_, super := c.Receiver.(*Super)
	g.expr(c.Receiver)
	for i, msg := range c.Messages {
		last := i == len(c.Messages)-1
		if !last {
			g.asm.Special(vm.SpecialDuplicate)
		}
		for _, arg := range msg.Arguments {
			g.expr(arg)
		}
		g.emitSend(msg.Selector, len(msg.Arguments), super)
		if !last {
			g.asm.Special(vm.SpecialPopTop)
		}
	}
}

// ---------------------------------------------------------------------------
// Inlined control structures
// ---------------------------------------------------------------------------

// literalBlock returns e as a block literal taking no arguments.
func literalBlock(e Expr) (*Block, bool) {
	b, ok := e.(*Block)
	if !ok || len(b.Parameters) > 0 {
		return nil, false
	}
	return b, true
}

// inline emits ifTrue:, ifFalse:, ifTrue:ifFalse:, ifFalse:ifTrue:, and:,
// or:, whileTrue: and whileFalse: with branches. A conditional branch
// that skips its arm pushes nil, which stands for the arm's value.
func (g *methodGen) inline(receiver Expr, selector string, args []Expr) bool {
	a := g.asm
	switch selector {
	case "ifTrue:", "ifFalse:":
		body, ok := literalBlock(args[0])
		if !ok {
			return false
		}
		g.expr(receiver)
		end := a.NewLabel()
		a.Jump(conditional(selector == "ifTrue:"), end)
		g.inlineBody(body)
		a.Bind(end)

	case "ifTrue:ifFalse:", "ifFalse:ifTrue:":
		first, ok1 := literalBlock(args[0])
		second, ok2 := literalBlock(args[1])
		if !ok1 || !ok2 {
			return false
		}
		g.expr(receiver)
		other, end := a.NewLabel(), a.NewLabel()
		a.Jump(conditional(selector == "ifTrue:ifFalse:"), other)
		g.inlineBody(first)
		a.Jump(vm.SpecialBranch, end)
		a.Bind(other)
		a.Special(vm.SpecialPopTop)
		g.inlineBody(second)
		a.Bind(end)

	case "and:", "or:":
		body, ok := literalBlock(args[0])
		if !ok {
			return false
		}
		g.expr(receiver)
		short, end := a.NewLabel(), a.NewLabel()
		a.Jump(conditional(selector == "and:"), short)
		g.inlineBody(body)
		a.Jump(vm.SpecialBranch, end)
		a.Bind(short)
		a.Special(vm.SpecialPopTop)
		if selector == "and:" {
			a.Emit(vm.OpPushConstant, vm.ConstFalse)
		} else {
			a.Emit(vm.OpPushConstant, vm.ConstTrue)
		}
		a.Bind(end)

	case "whileTrue:", "whileFalse:":
		cond, ok1 := literalBlock(receiver)
		body, ok2 := literalBlock(args[0])
		if !ok1 || !ok2 {
			return false
		}
		loop, end := a.NewLabel(), a.NewLabel()
		a.Bind(loop)
		g.inlineBody(cond)
		a.Jump(conditional(selector == "whileTrue:"), end)
		g.inlineBody(body)
		a.Special(vm.SpecialPopTop)
		a.Jump(vm.SpecialBranch, loop)
		a.Bind(end)
		// the exit branch pushed nil
		a.Adjust(1)

	default:
		return false
	}
	return true
}

// conditional returns the branch that runs the following arm when the
// condition is true (onTrue) or false.
func conditional(onTrue bool) int {
	if onTrue {
		return vm.SpecialBranchIfTrue
	}
	return vm.SpecialBranchIfFalse
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// CompileError carries every error found in a compilation unit.
type CompileError struct {
	Errors []string
}

func (e *CompileError) Error() string {
	return strings.Join(e.Errors, "\n")
}
