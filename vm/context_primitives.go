package vm

// ---------------------------------------------------------------------------
// ContextPart Primitives
// ---------------------------------------------------------------------------
//
// Exception handling lives in the class library. These give it the
// linkage it needs: walk the parent chain, read the handler slots set by
// on:do:, and return from a handler context with a value.

func registerContextPrimitives() {
	definePrimitive("ContextPart_parent", func(es *ExecState) PrimResult {
		co := es.contextArg(es.Receiver())
		if co == nil {
			return PrimFailed
		}
		return es.Answer(co.Vars[ContextParent])
	})

	definePrimitive("ContextPart_receiver", func(es *ExecState) PrimResult {
		co := es.contextArg(es.Receiver())
		if co == nil {
			return PrimFailed
		}
		return es.Answer(co.Vars[ContextReceiver])
	})

	definePrimitive("ContextPart_method", func(es *ExecState) PrimResult {
		co := es.contextArg(es.Receiver())
		if co == nil {
			return PrimFailed
		}
		return es.Answer(co.Vars[ContextMethod])
	})

	// handledException - nil for method contexts
	definePrimitive("ContextPart_handledException", func(es *ExecState) PrimResult {
		co := es.contextArg(es.Receiver())
		if co == nil {
			return PrimFailed
		}
		return es.Answer(co.Var(BlockContextHandledException))
	})

	definePrimitive("ContextPart_handlerBlock", func(es *ExecState) PrimResult {
		co := es.contextArg(es.Receiver())
		if co == nil {
			return PrimFailed
		}
		return es.Answer(co.Var(BlockContextHandlerBlock))
	})

	// unwindWith: value - abandon every context above the receiver and
	// answer value from it to its parent
	definePrimitive("ContextPart_unwindWith", func(es *ExecState) PrimResult {
		ctx := es.Receiver()
		co := es.contextArg(ctx)
		if co == nil || !es.rt.onChain(es.context, ctx) {
			return PrimFailed
		}
		value := es.Arg(0)
		if len(co.Vars) > BlockContextHandledException {
			co.Vars[BlockContextHandledException] = Nil
		}
		es.save()
		es.context = ctx
		if !es.leave(value, false) {
			return PrimYielded
		}
		return PrimSucceeded
	})
}

func (es *ExecState) contextArg(v Value) *Object {
	o := es.rt.Memory.Object(v)
	if o == nil || v == Nil || !es.rt.InheritsFrom(o.Class, es.rt.Classes.ContextPart) {
		return nil
	}
	return o
}
