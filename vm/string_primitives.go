package vm

import "bytes"

// ---------------------------------------------------------------------------
// String and Symbol Primitives
// ---------------------------------------------------------------------------

func registerStringPrimitives() {
	definePrimitive("String_size", func(es *ExecState) PrimResult {
		o := es.stringArg(es.Receiver())
		if o == nil {
			return PrimFailed
		}
		return es.AnswerInt(int64(len(o.Bytes)))
	})

	// at: index - a Character
	definePrimitive("String_at", func(es *ExecState) PrimResult {
		o := es.stringArg(es.Receiver())
		i, ok := es.intArg(0)
		if o == nil || !ok || i < 1 || i > int64(len(o.Bytes)) {
			return PrimFailed
		}
		return es.Answer(es.rt.Character(o.Bytes[i-1]))
	})

	// at: index put: aCharacter - symbols are constant
	definePrimitive("String_at_put", func(es *ExecState) PrimResult {
		o := es.stringArg(es.Receiver())
		i, ok := es.intArg(0)
		c, cok := es.rt.CharacterCode(es.Arg(1))
		if o == nil || o.Constant || !ok || !cok || i < 1 || i > int64(len(o.Bytes)) {
			return PrimFailed
		}
		o.Bytes[i-1] = c
		return es.Answer(es.Arg(1))
	})

	definePrimitive("String_hash", func(es *ExecState) PrimResult {
		o := es.stringArg(es.Receiver())
		if o == nil {
			return PrimFailed
		}
		return es.Answer(FromSmallInt(int64(StringHash(o.Bytes))))
	})

	// = aString - content equality; symbols compare as their text
	definePrimitive("String_equal", func(es *ExecState) PrimResult {
		a := es.stringArg(es.Receiver())
		if a == nil {
			return PrimFailed
		}
		b := es.stringArg(es.Arg(0))
		return es.AnswerBool(b != nil && bytes.Equal(a.Bytes, b.Bytes))
	})

	definePrimitive("String_asSymbol", func(es *ExecState) PrimResult {
		o := es.stringArg(es.Receiver())
		if o == nil {
			return PrimFailed
		}
		return es.Answer(es.rt.Intern(string(o.Bytes)))
	})

	definePrimitive("Symbol_asString", func(es *ExecState) PrimResult {
		if !es.rt.IsSymbol(es.Receiver()) {
			return PrimFailed
		}
		return es.Answer(es.rt.NewString(es.rt.SymbolString(es.Receiver())))
	})

	// , aString - a new String
	definePrimitive("String_concat", func(es *ExecState) PrimResult {
		a := es.stringArg(es.Receiver())
		b := es.stringArg(es.Arg(0))
		if a == nil || b == nil {
			return PrimFailed
		}
		s := es.rt.Memory.AllocateData(es.rt.Classes.String, 0, false, len(a.Bytes)+len(b.Bytes))
		so := es.rt.Memory.Object(s)
		copy(so.Bytes, a.Bytes)
		copy(so.Bytes[len(a.Bytes):], b.Bytes)
		return es.Answer(s)
	})
}

func (es *ExecState) stringArg(v Value) *Object {
	if !es.rt.IsString(v) {
		return nil
	}
	return es.rt.Memory.Object(v)
}
