package vm

// ---------------------------------------------------------------------------
// Character Primitives
// ---------------------------------------------------------------------------

func registerCharacterPrimitives() {
	// Character>>value
	definePrimitive("Character_value", func(es *ExecState) PrimResult {
		c, ok := es.rt.CharacterCode(es.Receiver())
		if !ok {
			return PrimFailed
		}
		return es.Answer(FromSmallInt(int64(c)))
	})

	// Character class>>value: anInteger - the shared instance
	definePrimitive("Character_new", func(es *ExecState) PrimResult {
		n, ok := es.intArg(0)
		if !ok || n < 0 || n > 255 {
			return PrimFailed
		}
		return es.Answer(es.rt.Character(byte(n)))
	})
}
