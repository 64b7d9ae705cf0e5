package vm

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// ExecState: the registers of the running process
// ---------------------------------------------------------------------------

// ExecState holds the decoded state of the context being executed: views
// of its receiver, arguments, temporaries, stack, literals and code, the
// instruction and stack pointers, and the message being assembled for the
// next send. Fetch loads it from a context, save writes ip and sp back.
type ExecState struct {
	rt      *Runtime
	process Value
	context Value

	receiver    Value
	arguments   []Value
	temporaries []Value
	stack       []Value
	literals    []Value
	code        []byte
	count       int
	ip          int
	sp          int

	byteslice int
	blocking  bool

	msgReceiver Value
	msgArgs     []Value
	argBuf      [8]Value
}

func (rt *Runtime) newExecState(process Value, blocking bool) *ExecState {
	po := rt.Memory.Object(process)
	es := &ExecState{
		rt:       rt,
		process:  process,
		context:  po.Vars[ProcessContext],
		blocking: blocking,
	}
	if es.context != Nil {
		es.fetch()
	}
	return es
}

// Runtime returns the runtime the state belongs to.
func (es *ExecState) Runtime() *Runtime { return es.rt }

// Process returns the process being executed.
func (es *ExecState) Process() Value { return es.process }

// Context returns the current context.
func (es *ExecState) Context() Value { return es.context }

// Receiver returns the receiver of the message being dispatched.
func (es *ExecState) Receiver() Value { return es.msgReceiver }

// ArgCount returns the number of message arguments.
func (es *ExecState) ArgCount() int { return len(es.msgArgs) }

// Arg returns message argument i.
func (es *ExecState) Arg(i int) Value {
	if i < 0 || i >= len(es.msgArgs) {
		return Nil
	}
	return es.msgArgs[i]
}

func (es *ExecState) fetch() {
	m := es.rt.Memory
	co := m.Object(es.context)
	if co == nil || len(co.Vars) < methodContextInstSize {
		fatalf(ErrContextCycle, "context %v is not an activation", es.context)
	}
	method := m.Object(co.Vars[ContextMethod])
	es.receiver = co.Vars[ContextReceiver]
	es.arguments = m.Object(co.Vars[ContextArguments]).Data
	es.temporaries = m.Object(co.Vars[ContextTemporaries]).Data
	es.stack = m.Object(co.Vars[ContextStack]).Data
	es.literals = m.Object(method.Vars[MethodLiterals]).Data
	es.code = m.Object(method.Vars[MethodBytecodes]).Bytes
	es.count = len(es.code) / 2
	es.ip = co.Int(ContextIP)
	es.sp = co.Int(ContextSP)
}

func (es *ExecState) save() {
	m := es.rt.Memory
	if es.context != Nil {
		co := m.Object(es.context)
		co.SetInt(ContextIP, es.ip)
		co.SetInt(ContextSP, es.sp)
	}
	m.Object(es.process).Vars[ProcessContext] = es.context
}

// Push pushes v on the evaluation stack, growing it when the compiled
// estimate was too small.
func (es *ExecState) Push(v Value) {
	if es.sp >= len(es.stack) {
		m := es.rt.Memory
		stack := m.Object(es.context).Vars[ContextStack]
		m.Resize(stack, 2*len(es.stack)+4)
		es.stack = m.Object(stack).Data
	}
	es.stack[es.sp] = v
	es.sp++
}

// Pop removes and returns the top of the stack.
func (es *ExecState) Pop() Value {
	if es.sp == 0 {
		return Nil
	}
	es.sp--
	v := es.stack[es.sp]
	es.stack[es.sp] = Nil
	return v
}

// Peek returns the top of the stack.
func (es *ExecState) Peek() Value {
	if es.sp == 0 {
		return Nil
	}
	return es.stack[es.sp-1]
}

func (es *ExecState) nextWord() int {
	if es.ip >= es.count {
		return 0
	}
	w := binary.LittleEndian.Uint16(es.code[2*es.ip:])
	es.ip++
	return int(w)
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// ExecuteScheduled runs process until its byteslice is exhausted, it
// yields, or it terminates. A preempted process stays ready.
func (rt *Runtime) ExecuteScheduled(process Value) error {
	return rt.execute(process, false)
}

// ExecuteBlocking runs process ignoring the byteslice until it terminates
// or yields.
func (rt *Runtime) ExecuteBlocking(process Value) error {
	return rt.execute(process, true)
}

func (rt *Runtime) execute(process Value, blocking bool) (err error) {
	po := rt.Memory.Object(process)
	if po == nil || po.Vars[ProcessContext] == Nil {
		rt.Scheduler.Remove(process)
		return nil
	}
	es := rt.newExecState(process, blocking)
	es.byteslice = rt.Memory.Object(rt.Processor).Int(ProcessorByteslice)

	rt.Scheduler.executing = append(rt.Scheduler.executing, es)
	defer func() {
		rt.Scheduler.executing = rt.Scheduler.executing[:len(rt.Scheduler.executing)-1]
		if r := recover(); r != nil {
			err = recoverFatal(r, process)
			rt.abortProcess(process, err)
		}
	}()
	es.run()
	return nil
}

func (rt *Runtime) abortProcess(process Value, err error) {
	log.Errorf("process %v aborted: %v", process, err)
	if po := rt.Memory.Object(process); po != nil && len(po.Vars) > ProcessContext {
		po.Vars[ProcessContext] = Nil
	}
	rt.Scheduler.Remove(process)
}

func (es *ExecState) run() {
	for es.context != Nil {
		if !es.blocking {
			if es.byteslice <= 0 {
				break
			}
			es.byteslice--
		}
		if es.ip >= es.count {
			// Fell off the end of the code: answer the receiver.
			if !es.leave(es.implicitResult(), false) {
				return
			}
			continue
		}
		if !es.step() {
			break
		}
	}
	if es.context != Nil {
		es.save()
	}
}

func (es *ExecState) implicitResult() Value {
	if es.rt.IsBlockContext(es.context) && es.sp > 0 {
		return es.Pop()
	}
	return es.receiver
}

// step executes one instruction and reports whether the process may keep
// running in this slice.
func (es *ExecState) step() bool {
	word := binary.LittleEndian.Uint16(es.code[2*es.ip:])
	es.ip++
	op, arg := Opcode(word>>8), int(word&0xFF)
	if op == OpExtended {
		op = Opcode(arg)
		arg = es.nextWord()
	}

	switch op {
	case OpPushInstance:
		o := es.rt.Memory.Object(es.receiver)
		if o == nil {
			es.Push(Nil)
		} else {
			es.Push(o.Var(arg))
		}
	case OpPushArgument:
		if arg == 0 {
			es.Push(es.receiver)
		} else {
			es.Push(es.arguments[arg-1])
		}
	case OpPushTemporary:
		es.Push(es.temporaries[arg])
	case OpPushLiteral:
		es.Push(es.literals[arg])
	case OpPushConstant:
		if arg == ConstContext {
			es.Push(es.context)
		} else {
			es.Push(FromHandle(arg))
		}
	case OpPushGlobal:
		v, ok := es.rt.DictAt(es.rt.Globals, es.literals[arg])
		if !ok {
			log.Debugf("unbound global %s", es.rt.SymbolString(es.literals[arg]))
		}
		es.Push(v)
	case OpPushArray:
		es.pushArray(arg)
	case OpAssignInstance:
		if o := es.rt.Memory.Object(es.receiver); o != nil && arg < len(o.Vars) {
			o.Vars[arg] = es.Peek()
		}
	case OpAssignTemporary:
		es.temporaries[arg] = es.Peek()
	case OpMarkArguments:
		es.markArguments(arg)
	case OpSendMessage:
		return es.send(es.literals[arg], es.rt.ClassOf(es.msgReceiver))
	case OpSendSuper:
		return es.sendSuper(es.literals[arg])
	case OpSendUnary:
		return es.sendUnary(arg)
	case OpSendBinary:
		return es.sendBinary(arg)
	case OpDoPrimitive:
		return es.doPrimitive(arg)
	case OpSpecial:
		return es.special(arg)
	default:
		fatalf(ErrUnknownOpcode, "opcode %d at %d", op, es.ip-1)
	}
	return true
}

func (es *ExecState) pushArray(n int) {
	vals := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		vals[i] = es.Pop()
	}
	es.Push(es.rt.NewArray(vals...))
}

func (es *ExecState) markArguments(n int) {
	args := es.argBuf[:0]
	if n > len(es.argBuf) {
		args = make([]Value, 0, n)
	}
	args = args[:n]
	for i := n - 1; i >= 0; i-- {
		args[i] = es.Pop()
	}
	es.msgArgs = args
	es.msgReceiver = es.Pop()
}

// ---------------------------------------------------------------------------
// Message sends
// ---------------------------------------------------------------------------

// send looks selector up starting at class and activates the result. A
// miss turns into doesNotUnderstand:.
func (es *ExecState) send(selector, class Value) bool {
	method, ok := es.rt.LookupMethod(class, selector)
	if !ok {
		return es.doesNotUnderstand(selector, class)
	}
	return es.activate(method)
}

// sendSuper starts lookup at the superclass of the class defining the
// running method.
func (es *ExecState) sendSuper(selector Value) bool {
	m := es.rt.Memory
	method := m.Object(es.context).Vars[ContextMethod]
	defining := m.Object(method).Vars[MethodClass]
	if es.rt.IsBlockContext(es.context) {
		defining = es.homeMethodClass()
	}
	return es.send(selector, es.rt.Superclass(defining))
}

// homeMethodClass finds the defining class of the method enclosing the
// running block.
func (es *ExecState) homeMethodClass() Value {
	m := es.rt.Memory
	ctx := es.context
	for es.rt.IsBlockContext(ctx) {
		outer := m.Object(ctx).Vars[BlockContextOuter]
		if outer == Nil {
			break
		}
		ctx = outer
	}
	method := m.Object(ctx).Vars[ContextMethod]
	return m.Object(method).Vars[MethodClass]
}

// SendMessage dispatches selector to receiver with args from primitive
// code, as if the current method had sent it.
func (es *ExecState) SendMessage(receiver, selector Value, args []Value) bool {
	es.msgReceiver = receiver
	es.msgArgs = append(es.argBuf[:0], args...)
	return es.send(selector, es.rt.ClassOf(receiver))
}

func (es *ExecState) doesNotUnderstand(selector, class Value) bool {
	rt := es.rt
	dnu := rt.selectors.doesNotUnderstand
	method, ok := rt.LookupMethod(class, dnu)
	if !ok || selector == dnu {
		fatalf(ErrDoesNotUnderstand, "%s>>%s", rt.ClassNameOf(class), rt.SymbolString(selector))
	}
	msg := rt.NewMessage(selector, es.msgArgs)
	es.msgArgs = append(es.argBuf[:0], msg)
	return es.activate(method)
}

// activate runs method's primitive if it has one and, unless the
// primitive handled the send, enters a new context for it.
func (es *ExecState) activate(method Value) bool {
	rt := es.rt
	mo := rt.Memory.Object(method)
	if prim := mo.Int(MethodPrimitive); prim >= 0 && mo.Vars[MethodPrimitive].IsSmallInt() {
		switch es.callPrimitive(prim) {
		case PrimSucceeded:
			return true
		case PrimYielded:
			return false
		}
	}
	if rt.contextDepth(es.context) >= rt.opts.StackLimit {
		fatalf(ErrStackOverflow, "depth %d sending #%s", rt.opts.StackLimit, rt.SymbolString(mo.Vars[MethodSelector]))
	}
	ctx := rt.newMethodContext(es.context, method, es.msgReceiver, es.msgArgs)
	es.enter(ctx)
	return true
}

// ActivateBlock enters closure with args. Used by the value primitives.
func (es *ExecState) ActivateBlock(closure Value, args []Value) {
	rt := es.rt
	if rt.contextDepth(es.context) >= rt.opts.StackLimit {
		fatalf(ErrStackOverflow, "depth %d entering block", rt.opts.StackLimit)
	}
	es.enter(rt.newBlockContext(es.context, closure, args))
}

// enter switches to ctx: the current state is saved, ctx becomes current
// and its state is fetched.
func (es *ExecState) enter(ctx Value) {
	es.save()
	es.context = ctx
	es.rt.Memory.Object(es.process).Vars[ProcessContext] = ctx
	es.fetch()
	es.rt.Scheduler.collectIfDue()
}

// leave pops the current context and answers value to its parent, or to
// its return context for a non-local return. Leaving the bottom context
// terminates the process.
func (es *ExecState) leave(value Value, useReturnContext bool) bool {
	rt := es.rt
	co := rt.Memory.Object(es.context)
	target := co.Vars[ContextParent]
	if useReturnContext {
		if rt.IsBlockContext(es.context) && !rt.onChain(es.context, es.homeContext()) {
			log.Warningf("non-local return from a block whose home context has returned; answering to the caller")
		} else {
			target = co.Vars[ContextReturnContext]
		}
	}
	if target == Nil {
		es.terminate(value)
		return false
	}
	es.checkTarget(target)
	es.context = target
	rt.Memory.Object(es.process).Vars[ProcessContext] = target
	es.fetch()
	es.Push(value)
	return true
}

// checkTarget aborts the process when the context being returned to is not
// a live context, or when it is no shallower than the one being left and
// its parent chain turns out to be cyclic.
func (es *ExecState) checkTarget(target Value) {
	rt := es.rt
	to := rt.Memory.Object(target)
	if to == nil || len(to.Vars) < methodContextInstSize || !rt.InheritsFrom(to.Class, rt.Classes.ContextPart) {
		fatalf(ErrContextCycle, "returning to dangling context %v", target)
	}
	if target != es.context && rt.contextDepth(target) < rt.contextDepth(es.context) {
		return
	}
	if err := rt.CheckContextChain(target, rt.opts.StackLimit+1); err != nil {
		fatalf(ErrContextCycle, "returning from %v: %v", es.context, err)
	}
}

// homeContext returns the method context a block context was defined in.
func (es *ExecState) homeContext() Value {
	m := es.rt.Memory
	ctx := es.context
	for es.rt.IsBlockContext(ctx) {
		ctx = m.Object(ctx).Vars[BlockContextOuter]
	}
	return ctx
}

func (es *ExecState) terminate(value Value) {
	rt := es.rt
	po := rt.Memory.Object(es.process)
	po.Vars[ProcessReturnedObject] = value
	po.Vars[ProcessContext] = Nil
	es.context = Nil
	rt.Scheduler.Remove(es.process)
	schedulerLog.Debugf("process %v terminated with %v", es.process, value)
}

// ---------------------------------------------------------------------------
// Fast paths
// ---------------------------------------------------------------------------

func (es *ExecState) sendUnary(op int) bool {
	rcv := es.Pop()
	switch op {
	case 0:
		es.Push(FromBool(rcv == Nil))
		return true
	case 1:
		es.Push(FromBool(rcv != Nil))
		return true
	}
	fatalf(ErrUnknownOpcode, "unary operator %d", op)
	return false
}

func (es *ExecState) sendBinary(op int) bool {
	arg := es.Pop()
	rcv := es.Pop()
	if op >= len(es.rt.selectors.binary) {
		fatalf(ErrUnknownOpcode, "binary operator %d", op)
	}
	if rcv.IsSmallInt() && arg.IsSmallInt() {
		a, b := rcv.SmallInt(), arg.SmallInt()
		switch op {
		case 0:
			if r := a + b; FitsSmallInt(r) {
				es.Push(FromSmallInt(r))
				return true
			}
		case 1:
			if r := a - b; FitsSmallInt(r) {
				es.Push(FromSmallInt(r))
				return true
			}
		case 2:
			es.Push(FromBool(a < b))
			return true
		case 3:
			es.Push(FromBool(a > b))
			return true
		case 4:
			es.Push(FromBool(a <= b))
			return true
		case 5:
			es.Push(FromBool(a >= b))
			return true
		case 6:
			es.Push(FromBool(a == b))
			return true
		case 7:
			es.Push(FromBool(a != b))
			return true
		}
	}
	es.msgReceiver = rcv
	es.msgArgs = append(es.argBuf[:0], arg)
	return es.send(es.rt.selectors.binary[op], es.rt.ClassOf(rcv))
}

// doPrimitive runs primitive idx on the message marked by the preceding
// mark-arguments. On failure execution falls through to the following
// code. On success the primitive's answer is returned from the current
// context; a primitive that entered a new context has it answer to the
// current context's parent instead.
func (es *ExecState) doPrimitive(idx int) bool {
	m := es.rt.Memory
	ctx := es.context
	parent := m.Object(ctx).Vars[ContextParent]
	result := es.callPrimitive(idx)
	if result == PrimFailed {
		return true
	}
	if es.context == ctx {
		cont := es.leave(es.Pop(), false)
		return cont && result == PrimSucceeded
	}
	if es.context == Nil {
		return false
	}
	if callee := m.Object(es.context); callee.Vars[ContextParent] == ctx {
		callee.Vars[ContextParent] = parent
		if !es.rt.IsBlockContext(es.context) {
			callee.Vars[ContextReturnContext] = parent
		}
	}
	return result == PrimSucceeded
}

// ---------------------------------------------------------------------------
// Specials
// ---------------------------------------------------------------------------

func (es *ExecState) special(op int) bool {
	switch op {
	case SpecialPopTop:
		es.Pop()
	case SpecialSelfReturn:
		var v Value
		if es.rt.IsBlockContext(es.context) {
			v = es.Pop()
		} else {
			v = es.receiver
		}
		return es.leave(v, false)
	case SpecialStackReturn:
		return es.leave(es.Pop(), true)
	case SpecialBranchIfTrue, SpecialBranchIfFalse:
		cond := es.Pop()
		jump := es.nextWord()
		var skip bool
		if op == SpecialBranchIfTrue {
			skip = cond == False
		} else {
			skip = cond == True
		}
		if skip {
			es.Push(Nil)
			es.ip = jump
		}
	case SpecialBranch:
		es.ip = es.nextWord()
	case SpecialDuplicate:
		es.Push(es.Peek())
	case SpecialSetDefinedContext:
		// Each evaluation of a block literal gets its own closure bound to
		// the running context.
		closure := es.rt.Memory.Copy(es.Pop())
		if o := es.rt.Memory.Object(closure); o != nil && o.Class == es.rt.Classes.BlockClosure {
			o.Vars[ClosureDefinedContext] = es.context
		}
		es.Push(closure)
	default:
		fatalf(ErrUnknownOpcode, "special %d", op)
	}
	return true
}
