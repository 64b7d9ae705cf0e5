package vm

import "fmt"

// ---------------------------------------------------------------------------
// Contexts and closures
// ---------------------------------------------------------------------------

// NewClosure creates a BlockClosure over block with no defining context.
func (rt *Runtime) NewClosure(block Value) Value {
	c := rt.Memory.Allocate(rt.Classes.BlockClosure, closureInstSize)
	rt.Memory.Object(c).Vars[ClosureBlock] = block
	return c
}

// contextDepth returns the depth stored in ctx, 0 for nil.
func (rt *Runtime) contextDepth(ctx Value) int {
	if o := rt.Memory.Object(ctx); o != nil && ctx != Nil {
		return o.Int(ContextDepth)
	}
	return 0
}

// newMethodContext creates the activation of method on receiver. Its
// return context is its parent.
func (rt *Runtime) newMethodContext(parent, method, receiver Value, args []Value) Value {
	m := rt.Memory
	m.GCBegin()
	defer m.GCEnd()

	mo := m.Object(method)
	argsSize := mo.Int(MethodArgumentsSize)
	if argsSize < len(args) {
		argsSize = len(args)
	}
	arguments := m.AllocateData(rt.Classes.Array, 0, true, argsSize)
	copy(m.Object(arguments).Data, args)
	temporaries := m.AllocateData(rt.Classes.Array, 0, true, mo.Int(MethodTemporariesCount))
	stack := m.AllocateData(rt.Classes.Array, 0, true, mo.Int(MethodStackSize))

	ctx := m.Allocate(rt.Classes.MethodContext, methodContextInstSize)
	co := m.Object(ctx)
	co.Vars[ContextParent] = parent
	co.Vars[ContextMethod] = method
	co.Vars[ContextReceiver] = receiver
	co.Vars[ContextArguments] = arguments
	co.Vars[ContextTemporaries] = temporaries
	co.Vars[ContextStack] = stack
	co.SetInt(ContextIP, 0)
	co.SetInt(ContextSP, 0)
	co.Vars[ContextReturnContext] = parent
	co.SetInt(ContextDepth, rt.contextDepth(parent)+1)
	return ctx
}

// newBlockContext creates the activation of closure. The context shares
// the argument and temporary arrays of the closure's defining context and
// stores args starting at the block's argumentsTop; its receiver and
// return context are the defining context's.
func (rt *Runtime) newBlockContext(parent, closure Value, args []Value) Value {
	m := rt.Memory
	m.GCBegin()
	defer m.GCEnd()

	cl := m.Object(closure)
	block := cl.Vars[ClosureBlock]
	bo := m.Object(block)
	top := bo.Int(BlockArgumentsTop)
	outer := cl.Vars[ClosureDefinedContext]

	var arguments, temporaries, receiver, returnContext Value
	if oo := m.Object(outer); outer != Nil && oo != nil {
		arguments = oo.Vars[ContextArguments]
		temporaries = oo.Vars[ContextTemporaries]
		receiver = oo.Vars[ContextReceiver]
		returnContext = oo.Vars[ContextReturnContext]
	} else {
		arguments = m.AllocateData(rt.Classes.Array, 0, true, top+len(args))
		temporaries = m.AllocateData(rt.Classes.Array, 0, true, bo.Int(MethodTemporariesCount))
		receiver = Nil
		returnContext = parent
	}
	if need := top + len(args); m.Object(arguments).Size() < need {
		m.Resize(arguments, need)
	}
	copy(m.Object(arguments).Data[top:], args)
	stack := m.AllocateData(rt.Classes.Array, 0, true, bo.Int(MethodStackSize))

	ctx := m.Allocate(rt.Classes.BlockContext, blockContextInstSize)
	co := m.Object(ctx)
	co.Vars[ContextParent] = parent
	co.Vars[ContextMethod] = block
	co.Vars[ContextReceiver] = receiver
	co.Vars[ContextArguments] = arguments
	co.Vars[ContextTemporaries] = temporaries
	co.Vars[ContextStack] = stack
	co.SetInt(ContextIP, 0)
	co.SetInt(ContextSP, 0)
	co.Vars[ContextReturnContext] = returnContext
	co.SetInt(ContextDepth, rt.contextDepth(parent)+1)
	co.Vars[BlockContextOuter] = outer
	co.Vars[BlockContextClosure] = closure
	return ctx
}

// IsBlockContext reports whether ctx is a BlockContext.
func (rt *Runtime) IsBlockContext(ctx Value) bool {
	o := rt.Memory.Object(ctx)
	return o != nil && ctx != Nil && o.Class == rt.Classes.BlockContext
}

// CheckContextChain follows parent links from ctx and fails with
// ErrContextCycle when the chain revisits a context, reaches a reclaimed
// handle or runs longer than limit.
func (rt *Runtime) CheckContextChain(ctx Value, limit int) error {
	seen := make(map[Value]bool)
	for n := 0; ctx != Nil; n++ {
		if n > limit {
			return fmt.Errorf("%w: chain longer than %d", ErrContextCycle, limit)
		}
		if seen[ctx] {
			return fmt.Errorf("%w: context %v revisited", ErrContextCycle, ctx)
		}
		seen[ctx] = true
		o := rt.Memory.Object(ctx)
		if o == nil || len(o.Vars) < methodContextInstSize {
			return fmt.Errorf("%w: dangling parent %v", ErrContextCycle, ctx)
		}
		ctx = o.Vars[ContextParent]
	}
	return nil
}

// onChain reports whether target is ctx or one of its ancestors. The walk
// gives up after the stack limit so a cyclic chain cannot hang it.
func (rt *Runtime) onChain(ctx, target Value) bool {
	c := ctx
	for n := 0; c != Nil && n <= rt.opts.StackLimit; n++ {
		if c == target {
			return true
		}
		o := rt.Memory.Object(c)
		if o == nil {
			return false
		}
		c = o.Var(ContextParent)
	}
	return false
}
