package vm

// ---------------------------------------------------------------------------
// Block Primitives
// ---------------------------------------------------------------------------

func registerBlockPrimitives() {
	// value, value:, value:value:, ... - enter the block with the message
	// arguments
	value := func(es *ExecState) PrimResult {
		return es.valueBlock(es.Receiver(), append([]Value(nil), es.msgArgs...))
	}
	definePrimitive("BlockClosure_value", value)
	definePrimitive("BlockClosure_valueWith", value)

	// valueWithArguments: anArray
	definePrimitive("BlockClosure_valueWithArguments", func(es *ExecState) PrimResult {
		ao := es.rt.Memory.Object(es.Arg(0))
		if ao == nil || ao.Class != es.rt.Classes.Array {
			return PrimFailed
		}
		return es.valueBlock(es.Receiver(), append([]Value(nil), ao.Data...))
	})

	// on: exceptionClass do: handlerBlock - enter the receiver in a context
	// marked as handling exceptionClass
	definePrimitive("BlockClosure_on_do", func(es *ExecState) PrimResult {
		if res := es.valueBlock(es.Receiver(), nil); res != PrimSucceeded {
			return res
		}
		co := es.rt.Memory.Object(es.context)
		co.Vars[BlockContextHandledException] = es.Arg(0)
		co.Vars[BlockContextHandlerBlock] = es.Arg(1)
		return PrimSucceeded
	})

	// newProcess - a suspended, unscheduled process evaluating the block
	definePrimitive("BlockClosure_newProcess", func(es *ExecState) PrimResult {
		if !es.isClosure(es.Receiver()) {
			return PrimFailed
		}
		return es.Answer(es.rt.NewBlockProcess(es.Receiver()))
	})

	// numArgs
	definePrimitive("BlockClosure_numArgs", func(es *ExecState) PrimResult {
		if !es.isClosure(es.Receiver()) {
			return PrimFailed
		}
		m := es.rt.Memory
		block := m.Object(m.Object(es.Receiver()).Vars[ClosureBlock])
		return es.AnswerInt(int64(block.Int(MethodArgumentsCount)))
	})
}

func (es *ExecState) isClosure(v Value) bool {
	return es.rt.ClassOf(v) == es.rt.Classes.BlockClosure
}

// valueBlock enters closure when args match its arity.
func (es *ExecState) valueBlock(closure Value, args []Value) PrimResult {
	if !es.isClosure(closure) {
		return PrimFailed
	}
	m := es.rt.Memory
	block := m.Object(m.Object(closure).Vars[ClosureBlock])
	if block == nil || block.Int(MethodArgumentsCount) != len(args) {
		return PrimFailed
	}
	es.ActivateBlock(closure, args)
	return PrimSucceeded
}
