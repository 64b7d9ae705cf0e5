package vm

import "fmt"

// Value is a tagged reference.
//
// Encoding scheme:
//   - SmallInt: low bit 1, the remaining 63 bits hold a signed integer
//   - Object:   low bit 0, the remaining bits hold a handle into the
//     object table
//
// Handles 0, 1 and 2 are reserved for nil, true and false, so the zero
// Value is nil. Two Values are identical iff their encodings are equal;
// handles never move, so this holds across collections.
type Value uint64

// Pre-defined special values
const (
	Nil   Value = 0
	True  Value = 2
	False Value = 4
)

// Small integer range: one bit is spent on the tag.
const (
	MaxSmallInt int64 = 1<<62 - 1
	MinSmallInt int64 = -(1 << 62)
)

const (
	handleNil   = 0
	handleTrue  = 1
	handleFalse = 2

	firstFreeHandle = 3
)

// ---------------------------------------------------------------------------
// Small integers
// ---------------------------------------------------------------------------

// FitsSmallInt reports whether n can be encoded as an immediate.
func FitsSmallInt(n int64) bool {
	return n >= MinSmallInt && n <= MaxSmallInt
}

// FromSmallInt encodes n. Callers must check FitsSmallInt first; values
// outside the range are truncated.
func FromSmallInt(n int64) Value {
	return Value(uint64(n)<<1 | 1)
}

// IsSmallInt returns true if v is an immediate small integer.
func (v Value) IsSmallInt() bool {
	return v&1 == 1
}

// SmallInt decodes an immediate small integer.
func (v Value) SmallInt() int64 {
	return int64(v) >> 1
}

// ---------------------------------------------------------------------------
// Heap references
// ---------------------------------------------------------------------------

// IsObject returns true if v is a heap reference (nil, true and false
// included).
func (v Value) IsObject() bool {
	return v&1 == 0
}

// Handle returns the object table index of a heap reference.
func (v Value) Handle() int {
	return int(v >> 1)
}

// FromHandle builds the Value for an object table index.
func FromHandle(h int) Value {
	return Value(uint64(h) << 1)
}

// IsNil returns true if v is nil.
func (v Value) IsNil() bool { return v == Nil }

// FromBool returns true or false.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// String renders the encoding for debugging; use Runtime.PrintString for
// the language-level representation.
func (v Value) String() string {
	switch {
	case v == Nil:
		return "nil"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsSmallInt():
		return fmt.Sprintf("%d", v.SmallInt())
	default:
		return fmt.Sprintf("@%d", v.Handle())
	}
}
