package vm

import "math/big"

// ---------------------------------------------------------------------------
// Arrays, strings and characters
// ---------------------------------------------------------------------------

// NewArray creates an Array holding vals.
func (rt *Runtime) NewArray(vals ...Value) Value {
	a := rt.Memory.AllocateData(rt.Classes.Array, 0, true, len(vals))
	copy(rt.Memory.Object(a).Data, vals)
	return a
}

// ArrayValues returns the variable part of a pointer object. The slice
// aliases the object.
func (rt *Runtime) ArrayValues(v Value) []Value {
	o := rt.Memory.Object(v)
	if o == nil || !o.HasRefs {
		return nil
	}
	return o.Data
}

// NewString creates a String with the bytes of s.
func (rt *Runtime) NewString(s string) Value {
	v := rt.Memory.AllocateData(rt.Classes.String, 0, false, len(s))
	copy(rt.Memory.Object(v).Bytes, s)
	return v
}

// NewByteArray creates a ByteArray holding a copy of b.
func (rt *Runtime) NewByteArray(b []byte) Value {
	v := rt.Memory.AllocateData(rt.Classes.ByteArray, 0, false, len(b))
	copy(rt.Memory.Object(v).Bytes, b)
	return v
}

// IsString reports whether v is a String or Symbol.
func (rt *Runtime) IsString(v Value) bool {
	return rt.IsKindOf(v, rt.Classes.String)
}

// Character returns the shared Character for code c.
func (rt *Runtime) Character(c byte) Value {
	return rt.Memory.Object(rt.characters).Data[c]
}

// CharacterCode returns the code of a Character.
func (rt *Runtime) CharacterCode(v Value) (byte, bool) {
	o := rt.Memory.Object(v)
	if o == nil || o.Class != rt.Classes.Character {
		return 0, false
	}
	return byte(o.Int(CharacterValue)), true
}

// NewMessage builds the Message passed to doesNotUnderstand:.
func (rt *Runtime) NewMessage(selector Value, args []Value) Value {
	rt.Memory.GCBegin()
	defer rt.Memory.GCEnd()
	arr := rt.NewArray(args...)
	msg := rt.Memory.Allocate(rt.Classes.Message, messageInstSize)
	mo := rt.Memory.Object(msg)
	mo.Vars[MessageSelector] = selector
	mo.Vars[MessageArguments] = arr
	return msg
}

// ---------------------------------------------------------------------------
// Integers
// ---------------------------------------------------------------------------
//
// LargeIntegers are byte objects: a sign byte (0 positive, 1 negative)
// followed by the big-endian magnitude.

// Integer returns n as a small integer when it fits, otherwise as a
// LargeInteger.
func (rt *Runtime) Integer(n *big.Int) Value {
	if n.IsInt64() && FitsSmallInt(n.Int64()) {
		return FromSmallInt(n.Int64())
	}
	mag := n.Bytes()
	v := rt.Memory.AllocateData(rt.Classes.LargeInteger, 0, false, len(mag)+1)
	o := rt.Memory.Object(v)
	if n.Sign() < 0 {
		o.Bytes[0] = 1
	}
	copy(o.Bytes[1:], mag)
	return v
}

// BigValue returns the integer value of a small integer or LargeInteger.
func (rt *Runtime) BigValue(v Value) (*big.Int, bool) {
	if v.IsSmallInt() {
		return big.NewInt(v.SmallInt()), true
	}
	o := rt.Memory.Object(v)
	if o == nil || o.Class != rt.Classes.LargeInteger || len(o.Bytes) == 0 {
		return nil, false
	}
	n := new(big.Int).SetBytes(o.Bytes[1:])
	if o.Bytes[0] == 1 {
		n.Neg(n)
	}
	return n, true
}
