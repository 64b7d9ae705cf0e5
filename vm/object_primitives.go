package vm

// ---------------------------------------------------------------------------
// Object and Behavior Primitives
// ---------------------------------------------------------------------------

func registerObjectPrimitives() {
	// Behavior>>new - fixed instance, or an empty indexable one
	definePrimitive("Behavior_new", func(es *ExecState) PrimResult {
		rt := es.rt
		if !rt.IsKindOf(es.Receiver(), rt.Classes.Behavior) {
			return PrimFailed
		}
		return es.Answer(rt.Instantiate(es.Receiver(), 0))
	})

	// Behavior>>new: size
	definePrimitive("Behavior_newColon", func(es *ExecState) PrimResult {
		rt := es.rt
		n, ok := es.intArg(0)
		if !ok || n < 0 || n > maxObjectSize || !rt.IsKindOf(es.Receiver(), rt.Classes.Behavior) {
			return PrimFailed
		}
		return es.Answer(rt.Instantiate(es.Receiver(), int(n)))
	})

	// Behavior>>name
	definePrimitive("Behavior_name", func(es *ExecState) PrimResult {
		rt := es.rt
		if !rt.IsKindOf(es.Receiver(), rt.Classes.Behavior) {
			return PrimFailed
		}
		return es.Answer(rt.NewString(rt.ClassNameOf(es.Receiver())))
	})

	// Behavior>>superclass
	definePrimitive("Behavior_superclass", func(es *ExecState) PrimResult {
		rt := es.rt
		if !rt.IsKindOf(es.Receiver(), rt.Classes.Behavior) {
			return PrimFailed
		}
		return es.Answer(rt.Superclass(es.Receiver()))
	})

	// Object>>class
	definePrimitive("Object_class", func(es *ExecState) PrimResult {
		return es.Answer(es.rt.ClassOf(es.Receiver()))
	})

	// Object>>== anObject
	definePrimitive("Object_identityEqual", func(es *ExecState) PrimResult {
		return es.AnswerBool(es.Receiver() == es.Arg(0))
	})

	// Object>>identityHash
	definePrimitive("Object_identityHash", func(es *ExecState) PrimResult {
		v := es.Receiver()
		if v.IsSmallInt() {
			return es.Answer(v)
		}
		return es.AnswerInt(int64(v.Handle()))
	})

	// Object>>copy - shallow
	definePrimitive("Object_copy", func(es *ExecState) PrimResult {
		return es.Answer(es.rt.Memory.Copy(es.Receiver()))
	})

	// Object>>at: index - 1-based access to the variable part
	definePrimitive("Object_at", func(es *ExecState) PrimResult {
		o := es.rt.Memory.Object(es.Receiver())
		i, ok := es.intArg(0)
		if o == nil || !ok || i < 1 || i > int64(o.Size()) {
			return PrimFailed
		}
		if o.HasRefs {
			return es.Answer(o.Data[i-1])
		}
		return es.Answer(FromSmallInt(int64(o.Bytes[i-1])))
	})

	// Object>>at: index put: value - refused on constants
	definePrimitive("Object_at_put", func(es *ExecState) PrimResult {
		o := es.rt.Memory.Object(es.Receiver())
		i, ok := es.intArg(0)
		if o == nil || o.Constant || !ok || i < 1 || i > int64(o.Size()) {
			return PrimFailed
		}
		v := es.Arg(1)
		if o.HasRefs {
			o.Data[i-1] = v
			return es.Answer(v)
		}
		if !v.IsSmallInt() || v.SmallInt() < 0 || v.SmallInt() > 255 {
			return PrimFailed
		}
		o.Bytes[i-1] = byte(v.SmallInt())
		return es.Answer(v)
	})

	// Object>>basicSize
	definePrimitive("Object_size", func(es *ExecState) PrimResult {
		o := es.rt.Memory.Object(es.Receiver())
		if o == nil {
			return es.Answer(FromSmallInt(0))
		}
		return es.AnswerInt(int64(o.Size()))
	})

	// Object>>instVarAt: index
	definePrimitive("Object_instVarAt", func(es *ExecState) PrimResult {
		o := es.rt.Memory.Object(es.Receiver())
		i, ok := es.intArg(0)
		if o == nil || !ok || i < 1 || i > int64(len(o.Vars)) {
			return PrimFailed
		}
		return es.Answer(o.Vars[i-1])
	})

	// Object>>instVarAt: index put: value
	definePrimitive("Object_instVarAt_put", func(es *ExecState) PrimResult {
		o := es.rt.Memory.Object(es.Receiver())
		i, ok := es.intArg(0)
		if o == nil || o.Constant || !ok || i < 1 || i > int64(len(o.Vars)) {
			return PrimFailed
		}
		o.Vars[i-1] = es.Arg(1)
		return es.Answer(es.Arg(1))
	})

	// Object>>perform: selector with: ... - resend with the remaining
	// arguments
	definePrimitive("Object_perform", func(es *ExecState) PrimResult {
		rt := es.rt
		selector := es.Arg(0)
		if !rt.IsSymbol(selector) || SelectorArity(rt.SymbolString(selector)) != es.ArgCount()-1 {
			return PrimFailed
		}
		args := append([]Value(nil), es.msgArgs[1:]...)
		return es.perform(es.Receiver(), selector, args)
	})

	// Object>>perform: selector withArguments: anArray
	definePrimitive("Object_performWithArguments", func(es *ExecState) PrimResult {
		rt := es.rt
		selector := es.Arg(0)
		ao := rt.Memory.Object(es.Arg(1))
		if !rt.IsSymbol(selector) || ao == nil || ao.Class != rt.Classes.Array {
			return PrimFailed
		}
		if SelectorArity(rt.SymbolString(selector)) != len(ao.Data) {
			return PrimFailed
		}
		args := append([]Value(nil), ao.Data...)
		return es.perform(es.Receiver(), selector, args)
	})

	// Object>>isConstant
	definePrimitive("Object_isConstant", func(es *ExecState) PrimResult {
		o := es.rt.Memory.Object(es.Receiver())
		return es.AnswerBool(o == nil || o.Constant)
	})

	// Object>>printString - printed form of kernel values
	definePrimitive("Object_printString", func(es *ExecState) PrimResult {
		return es.Answer(es.rt.NewString(es.rt.PrintString(es.Receiver())))
	})

	// Transcript show: anObject - strings verbatim, anything else printed
	definePrimitive("Transcript_show", func(es *ExecState) PrimResult {
		rt := es.rt
		v := es.Arg(0)
		var text string
		if o := rt.Memory.Object(v); o != nil && rt.IsString(v) && !rt.IsSymbol(v) {
			text = string(o.Bytes)
		} else {
			text = rt.PrintString(v)
		}
		if _, err := rt.Output.Write([]byte(text)); err != nil {
			log.Warningf("transcript: %v", err)
		}
		return es.Answer(es.Receiver())
	})

	// Smalltalk collectGarbage - collect at the next safe point
	definePrimitive("Smalltalk_collectGarbage", func(es *ExecState) PrimResult {
		es.rt.Memory.RequestCollection()
		return es.Answer(es.Receiver())
	})
}

func (es *ExecState) perform(receiver, selector Value, args []Value) PrimResult {
	if !es.SendMessage(receiver, selector, args) {
		return PrimYielded
	}
	return PrimSucceeded
}
