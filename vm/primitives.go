package vm

import "strings"

// ---------------------------------------------------------------------------
// Primitive table
// ---------------------------------------------------------------------------

// PrimResult is the outcome of a primitive.
type PrimResult int

const (
	// PrimSucceeded: the answer has been pushed (or a new context entered)
	// and execution continues.
	PrimSucceeded PrimResult = iota
	// PrimFailed: nothing was pushed; the method body runs instead.
	PrimFailed
	// PrimYielded: the answer has been pushed and the process gives up the
	// rest of its slice.
	PrimYielded
)

// PrimitiveFunc implements a primitive. It reads the receiver and
// arguments of the message from es.
type PrimitiveFunc func(es *ExecState) PrimResult

type primitive struct {
	name string
	fn   PrimitiveFunc
}

var (
	primitiveTable []primitive
	primitiveIndex map[string]int
)

// The registration order fixes the indices stored in compiled methods and
// therefore in images. New primitives go at the end of a group's file and
// groups are only ever appended.
func init() {
	primitiveIndex = make(map[string]int)
	registerProcessPrimitives()
	registerObjectPrimitives()
	registerBlockPrimitives()
	registerContextPrimitives()
	registerIntegerPrimitives()
	registerCharacterPrimitives()
	registerStringPrimitives()
	registerDictionaryPrimitives()
}

func definePrimitive(name string, fn PrimitiveFunc) {
	if _, dup := primitiveIndex[name]; dup {
		panic("primitive defined twice: " + name)
	}
	primitiveIndex[name] = len(primitiveTable)
	primitiveTable = append(primitiveTable, primitive{name, fn})
}

// PrimitiveIndex resolves a primitive name to its index.
func PrimitiveIndex(name string) (int, bool) {
	i, ok := primitiveIndex[name]
	return i, ok
}

// PrimitiveName returns the name registered at index, "" if none.
func PrimitiveName(index int) string {
	if index < 0 || index >= len(primitiveTable) {
		return ""
	}
	return primitiveTable[index].name
}

// PrimitiveNames lists every primitive in index order.
func PrimitiveNames() []string {
	names := make([]string, len(primitiveTable))
	for i, p := range primitiveTable {
		names[i] = p.name
	}
	return names
}

func (es *ExecState) callPrimitive(index int) PrimResult {
	if index < 0 || index >= len(primitiveTable) {
		fatalf(ErrUnknownPrimitive, "index %d", index)
	}
	return primitiveTable[index].fn(es)
}

// ---------------------------------------------------------------------------
// Helpers for primitive implementations
// ---------------------------------------------------------------------------

// Answer pushes v as the result of the primitive.
func (es *ExecState) Answer(v Value) PrimResult {
	es.Push(v)
	return PrimSucceeded
}

// AnswerInt pushes n, failing when it does not fit a small integer.
func (es *ExecState) AnswerInt(n int64) PrimResult {
	if !FitsSmallInt(n) {
		return PrimFailed
	}
	return es.Answer(FromSmallInt(n))
}

// AnswerBool pushes true or false.
func (es *ExecState) AnswerBool(b bool) PrimResult {
	return es.Answer(FromBool(b))
}

func (es *ExecState) intArg(i int) (int64, bool) {
	v := es.Arg(i)
	if !v.IsSmallInt() {
		return 0, false
	}
	return v.SmallInt(), true
}

// SelectorArity returns the number of arguments a selector takes.
func SelectorArity(name string) int {
	if name == "" {
		return 0
	}
	if n := strings.Count(name, ":"); n > 0 {
		return n
	}
	c := name[0]
	if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return 0
	}
	return 1
}
