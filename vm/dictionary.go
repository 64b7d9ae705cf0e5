package vm

// ---------------------------------------------------------------------------
// Dictionary: open-addressed hash table
// ---------------------------------------------------------------------------
//
// The variable part holds key/value pairs [k0 v0 k1 v1 ...]; a nil key
// marks an empty pair. Keys compare by identity. Lookup starts at pair
// (hash mod capacity) and probes forward one pair at a time, wrapping at
// the end. Inserting a new key into a table whose tally has reached half
// its capacity first doubles the capacity.

const minDictionaryCapacity = 8

// NewDictionary creates an empty Dictionary with room for capacity pairs.
func (rt *Runtime) NewDictionary(capacity int) Value {
	return rt.newDictionaryOf(rt.Classes.Dictionary, capacity)
}

func (rt *Runtime) newDictionaryOf(class Value, capacity int) Value {
	if capacity < minDictionaryCapacity {
		capacity = minDictionaryCapacity
	}
	d := rt.Memory.AllocateData(class, dictInstSize, true, 2*capacity)
	rt.Memory.Object(d).SetInt(DictTally, 0)
	return d
}

// hashOf returns the hash used to place key. Symbols use their cached
// string hash, small integers their value, other objects their handle.
func (rt *Runtime) hashOf(key Value) int {
	if key.IsSmallInt() {
		return int(key.SmallInt())
	}
	if o := rt.Memory.Object(key); o != nil && o.Class == rt.Classes.Symbol {
		return o.Int(SymbolHash)
	}
	return key.Handle()
}

// startIndex maps a hash to the first pair index to probe.
func startIndex(hash, capacity int) int {
	if hash < 0 {
		hash = -hash
	}
	return 2 * (hash % capacity)
}

// dictIndex returns the pair index holding key, or the first empty pair
// found while probing when key is absent. The index is -1 when the table
// is full and key is absent.
func (rt *Runtime) dictIndex(o *Object, key Value) (int, bool) {
	n := len(o.Data)
	if n < 2 {
		return -1, false
	}
	capacity := n / 2
	i := startIndex(rt.hashOf(key), capacity)
	for probes := 0; probes < capacity; probes++ {
		k := o.Data[i]
		if k == Nil {
			return i, false
		}
		if k == key {
			return i, true
		}
		i += 2
		if i >= n {
			i = 0
		}
	}
	return -1, false
}

// DictAt returns the value stored under key.
func (rt *Runtime) DictAt(dict, key Value) (Value, bool) {
	o := rt.Memory.Object(dict)
	if o == nil || key == Nil {
		return Nil, false
	}
	i, found := rt.dictIndex(o, key)
	if !found {
		return Nil, false
	}
	return o.Data[i+1], true
}

// DictIncludes reports whether key is present.
func (rt *Runtime) DictIncludes(dict, key Value) bool {
	_, ok := rt.DictAt(dict, key)
	return ok
}

// DictAtPut stores value under key, rehashing first when the table is at
// half load.
func (rt *Runtime) DictAtPut(dict, key, value Value) {
	o := rt.Memory.Object(dict)
	if o == nil || key == Nil {
		return
	}
	i, found := rt.dictIndex(o, key)
	if found {
		o.Data[i+1] = value
		return
	}
	tally := o.Int(DictTally)
	if i < 0 || tally >= len(o.Data)/4 {
		rt.dictRehash(o)
		i, _ = rt.dictIndex(o, key)
		tally = o.Int(DictTally)
	}
	o.Data[i] = key
	o.Data[i+1] = value
	o.SetInt(DictTally, tally+1)
}

// DictRemoveKey deletes key and reports whether it was present. The pairs
// following the removed one in its probe run are re-inserted so later
// lookups do not stop early at the hole.
func (rt *Runtime) DictRemoveKey(dict, key Value) bool {
	o := rt.Memory.Object(dict)
	if o == nil || key == Nil {
		return false
	}
	i, found := rt.dictIndex(o, key)
	if !found {
		return false
	}
	o.Data[i], o.Data[i+1] = Nil, Nil
	o.SetInt(DictTally, o.Int(DictTally)-1)

	n := len(o.Data)
	for j := (i + 2) % n; o.Data[j] != Nil; j = (j + 2) % n {
		k, v := o.Data[j], o.Data[j+1]
		o.Data[j], o.Data[j+1] = Nil, Nil
		slot, _ := rt.dictIndex(o, k)
		o.Data[slot], o.Data[slot+1] = k, v
	}
	return true
}

// DictTally returns the number of pairs in use.
func (rt *Runtime) DictTally(dict Value) int {
	o := rt.Memory.Object(dict)
	if o == nil {
		return 0
	}
	return o.Int(DictTally)
}

// DictCapacity returns the number of pairs the table can hold.
func (rt *Runtime) DictCapacity(dict Value) int {
	o := rt.Memory.Object(dict)
	if o == nil {
		return 0
	}
	return len(o.Data) / 2
}

// DictDo calls fn for every pair, in table order.
func (rt *Runtime) DictDo(dict Value, fn func(key, value Value)) {
	o := rt.Memory.Object(dict)
	if o == nil {
		return
	}
	for i := 0; i+1 < len(o.Data); i += 2 {
		if o.Data[i] != Nil {
			fn(o.Data[i], o.Data[i+1])
		}
	}
}

// dictRehash doubles the capacity and re-inserts every pair. The tally is
// recounted from the pairs that survive.
func (rt *Runtime) dictRehash(o *Object) {
	old := o.Data
	capacity := len(old)
	if capacity < 2*minDictionaryCapacity {
		capacity = 2 * minDictionaryCapacity
	}
	o.Data = make([]Value, 2*capacity)
	tally := 0
	for i := 0; i+1 < len(old); i += 2 {
		k := old[i]
		if k == Nil {
			continue
		}
		slot, found := rt.dictIndex(o, k)
		if found {
			continue
		}
		o.Data[slot], o.Data[slot+1] = k, old[i+1]
		tally++
	}
	o.SetInt(DictTally, tally)
}
