package vm

// Object is one entry of the object table.
//
// The fixed part (Vars) is sized by the class. The variable part holds
// either references (Data) or raw bytes (Bytes); which one is fixed at
// creation by HasRefs and never changes.
type Object struct {
	Class    Value
	HasRefs  bool
	Constant bool

	Vars  []Value
	Data  []Value
	Bytes []byte

	marked    bool
	finalized bool
}

// Size returns the length of the variable part.
func (o *Object) Size() int {
	if o.HasRefs {
		return len(o.Data)
	}
	return len(o.Bytes)
}

// Var returns instance variable i, or nil when out of range.
func (o *Object) Var(i int) Value {
	if i < 0 || i >= len(o.Vars) {
		return Nil
	}
	return o.Vars[i]
}

// Int returns instance variable i decoded as a small integer, 0 otherwise.
func (o *Object) Int(i int) int {
	v := o.Var(i)
	if !v.IsSmallInt() {
		return 0
	}
	return int(v.SmallInt())
}

// SetInt stores n into instance variable i.
func (o *Object) SetInt(i int, n int) {
	o.Vars[i] = FromSmallInt(int64(n))
}
