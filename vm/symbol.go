package vm

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// StringHash returns the hash of s: the sum over each pair of adjacent
// bytes (taken as signed) in 32-bit arithmetic, shifted right by two when
// it does not fit a 31-bit signed integer, then sign-extended from 31
// bits.
func StringHash(s []byte) int32 {
	var ret int32
	for i := 1; i < len(s); i++ {
		ret += int32(int8(s[i])) + int32(int8(s[i-1]))
	}
	if ret < -(1<<30) || ret > 1<<30-1 {
		ret >>= 2
	}
	return (ret << 1) >> 1
}

// Intern returns the canonical Symbol for name, creating it on first use.
// Content is compared only here; everywhere else symbols compare by
// identity.
func (rt *Runtime) Intern(name string) Value {
	table := rt.Memory.Object(rt.Symbols)
	if table.Int(DictTally) >= len(table.Data)/4 {
		rt.dictRehash(table)
	}
	hash := StringHash([]byte(name))
	n := len(table.Data)
	i := startIndex(int(hash), n/2)
	for probes := 0; probes < n/2; probes++ {
		entry := table.Data[i]
		if entry == Nil {
			break
		}
		if string(rt.Memory.Object(entry).Bytes) == name {
			return table.Data[i+1]
		}
		i += 2
		if i >= n {
			i = 0
		}
	}

	sym := rt.Memory.AllocateData(rt.Classes.Symbol, symbolInstSize, false, len(name))
	so := rt.Memory.Object(sym)
	copy(so.Bytes, name)
	so.SetInt(SymbolHash, int(hash))
	so.Constant = true
	table.Data[i] = sym
	table.Data[i+1] = sym
	table.SetInt(DictTally, table.Int(DictTally)+1)
	return sym
}

// IsSymbol reports whether v is a Symbol.
func (rt *Runtime) IsSymbol(v Value) bool {
	o := rt.Memory.Object(v)
	return o != nil && o.Class == rt.Classes.Symbol
}

// SymbolString returns the text of a Symbol or String, "" otherwise.
func (rt *Runtime) SymbolString(v Value) string {
	o := rt.Memory.Object(v)
	if o == nil || o.HasRefs {
		return ""
	}
	return string(o.Bytes)
}
