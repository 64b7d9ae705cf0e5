package vm

// ---------------------------------------------------------------------------
// Dictionary Primitives
// ---------------------------------------------------------------------------
//
// Identity-keyed; Smalltalk (the SystemDictionary) answers to the same
// primitives.

func registerDictionaryPrimitives() {
	// at: key - fails when absent so the method body can answer a default
	definePrimitive("Dictionary_at", func(es *ExecState) PrimResult {
		if !es.isDictionary(es.Receiver()) {
			return PrimFailed
		}
		v, ok := es.rt.DictAt(es.Receiver(), es.Arg(0))
		if !ok {
			return PrimFailed
		}
		return es.Answer(v)
	})

	definePrimitive("Dictionary_at_put", func(es *ExecState) PrimResult {
		if !es.isDictionary(es.Receiver()) || es.Arg(0) == Nil {
			return PrimFailed
		}
		es.rt.DictAtPut(es.Receiver(), es.Arg(0), es.Arg(1))
		return es.Answer(es.Arg(1))
	})

	definePrimitive("Dictionary_removeKey", func(es *ExecState) PrimResult {
		if !es.isDictionary(es.Receiver()) {
			return PrimFailed
		}
		return es.AnswerBool(es.rt.DictRemoveKey(es.Receiver(), es.Arg(0)))
	})

	definePrimitive("Dictionary_includesKey", func(es *ExecState) PrimResult {
		if !es.isDictionary(es.Receiver()) {
			return PrimFailed
		}
		return es.AnswerBool(es.rt.DictIncludes(es.Receiver(), es.Arg(0)))
	})

	definePrimitive("Dictionary_size", func(es *ExecState) PrimResult {
		if !es.isDictionary(es.Receiver()) {
			return PrimFailed
		}
		return es.AnswerInt(int64(es.rt.DictTally(es.Receiver())))
	})

	// keys - an Array in table order
	definePrimitive("Dictionary_keys", func(es *ExecState) PrimResult {
		if !es.isDictionary(es.Receiver()) {
			return PrimFailed
		}
		var keys []Value
		es.rt.DictDo(es.Receiver(), func(k, _ Value) { keys = append(keys, k) })
		return es.Answer(es.rt.NewArray(keys...))
	})
}

func (es *ExecState) isDictionary(v Value) bool {
	o := es.rt.Memory.Object(v)
	return o != nil && v != Nil && es.rt.InheritsFrom(o.Class, es.rt.Classes.Dictionary) && len(o.Data)%2 == 0
}
