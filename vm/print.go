package vm

import (
	"strconv"
	"strings"
)

// PrintString renders v the way the kernel prints it: integers in decimal,
// strings quoted, symbols with a leading #, characters with a leading $,
// classes by name, arrays element by element and anything else as
// "a ClassName".
func (rt *Runtime) PrintString(v Value) string {
	var sb strings.Builder
	rt.printOn(&sb, v, 0)
	return sb.String()
}

const maxPrintDepth = 4

func (rt *Runtime) printOn(sb *strings.Builder, v Value, depth int) {
	switch v {
	case Nil:
		sb.WriteString("nil")
		return
	case True:
		sb.WriteString("true")
		return
	case False:
		sb.WriteString("false")
		return
	}
	if v.IsSmallInt() {
		sb.WriteString(strconv.FormatInt(v.SmallInt(), 10))
		return
	}
	o := rt.Memory.Object(v)
	if o == nil {
		sb.WriteString("<reclaimed>")
		return
	}
	class := o.Class
	switch {
	case class == rt.Classes.Symbol:
		sb.WriteByte('#')
		sb.Write(o.Bytes)
	case class == rt.Classes.String:
		sb.WriteByte('\'')
		sb.WriteString(strings.ReplaceAll(string(o.Bytes), "'", "''"))
		sb.WriteByte('\'')
	case class == rt.Classes.Character:
		sb.WriteByte('$')
		sb.WriteByte(byte(o.Int(CharacterValue)))
	case class == rt.Classes.LargeInteger:
		n, _ := rt.BigValue(v)
		sb.WriteString(n.String())
	case class == rt.Classes.Array:
		if depth >= maxPrintDepth {
			sb.WriteString("(...)")
			return
		}
		sb.WriteByte('(')
		for _, e := range o.Data {
			rt.printOn(sb, e, depth+1)
			sb.WriteByte(' ')
		}
		sb.WriteByte(')')
	case rt.IsKindOf(v, rt.Classes.Behavior):
		sb.WriteString(rt.ClassNameOf(v))
	default:
		name := rt.ClassNameOf(class)
		if name != "" && strings.ContainsRune("AEIOU", rune(name[0])) {
			sb.WriteString("an ")
		} else {
			sb.WriteString("a ")
		}
		sb.WriteString(name)
	}
}
