package vm

// ---------------------------------------------------------------------------
// ObjectMemory: the object table
// ---------------------------------------------------------------------------

// maxHandles bounds the object table; running past it is fatal.
const maxHandles = 1 << 40

// maxObjectSize bounds the variable part of a single object.
const maxObjectSize = 1 << 40

// ObjectMemory owns every heap object. A Value's handle is an index into
// the table and stays valid for as long as the object is reachable.
type ObjectMemory struct {
	objects []*Object
	free    []int
	live    int

	// allocations since the last collection, and the count at which the
	// collector should be asked to run (0 disables automatic collection)
	allocated int
	threshold int

	// gc_begin/gc_end nesting depth; collection is refused while positive
	depth   int
	pending bool
	inPass  bool

	pinned map[int]int

	// needsFinalization reports whether instances of class must receive
	// finalize before they are reclaimed.
	needsFinalization func(class Value) bool
	finalizeQueue     []Value
}

// NewObjectMemory creates a table with the nil, true and false entries
// reserved. Their classes are filled in by the bootstrap.
func NewObjectMemory(initial, threshold int) *ObjectMemory {
	if initial < 16 {
		initial = 16
	}
	m := &ObjectMemory{
		objects:   make([]*Object, firstFreeHandle, initial),
		threshold: threshold,
		pinned:    make(map[int]int),
	}
	for h := 0; h < firstFreeHandle; h++ {
		m.objects[h] = &Object{Constant: true}
	}
	m.live = firstFreeHandle
	return m
}

// Object returns the table entry for v, or nil for immediates and
// reclaimed handles.
func (m *ObjectMemory) Object(v Value) *Object {
	if v.IsSmallInt() {
		return nil
	}
	h := v.Handle()
	if h < 0 || h >= len(m.objects) {
		return nil
	}
	return m.objects[h]
}

// Live returns the number of live objects.
func (m *ObjectMemory) Live() int { return m.live }

// Capacity returns the size of the object table.
func (m *ObjectMemory) Capacity() int { return len(m.objects) }

// Allocate creates an object of class with instSize zeroed instance
// variables and no variable part.
func (m *ObjectMemory) Allocate(class Value, instSize int) Value {
	return m.install(&Object{Class: class, HasRefs: true, Vars: make([]Value, instSize)})
}

// AllocateData creates an object with a variable part of n elements.
// hasRefs selects between a reference part and a byte part.
func (m *ObjectMemory) AllocateData(class Value, instSize int, hasRefs bool, n int) Value {
	if n < 0 || n > maxObjectSize {
		fatalf(ErrOutOfMemory, "variable part of %d elements", n)
	}
	o := &Object{Class: class, HasRefs: hasRefs, Vars: make([]Value, instSize)}
	if hasRefs {
		o.Data = make([]Value, n)
	} else {
		o.Bytes = make([]byte, n)
	}
	return m.install(o)
}

func (m *ObjectMemory) install(o *Object) Value {
	m.allocated++
	if n := len(m.free); n > 0 {
		h := m.free[n-1]
		m.free = m.free[:n-1]
		m.objects[h] = o
		m.live++
		return FromHandle(h)
	}
	if len(m.objects) >= maxHandles {
		fatalf(ErrOutOfMemory, "%d handles in use", len(m.objects))
	}
	if len(m.objects) == cap(m.objects) {
		grown := make([]*Object, len(m.objects), 2*cap(m.objects))
		copy(grown, m.objects)
		m.objects = grown
		memoryLog.Debugf("object table grown to %d entries", cap(grown))
	}
	m.objects = append(m.objects, o)
	m.live++
	return FromHandle(len(m.objects) - 1)
}

// Resize changes the length of the variable part. Elements up to the
// smaller of the two lengths are preserved; truncation drops the rest.
func (m *ObjectMemory) Resize(v Value, n int) {
	o := m.Object(v)
	if o == nil {
		return
	}
	if n < 0 || n > maxObjectSize {
		fatalf(ErrOutOfMemory, "resize to %d elements", n)
	}
	if o.HasRefs {
		data := make([]Value, n)
		copy(data, o.Data)
		o.Data = data
		return
	}
	b := make([]byte, n)
	copy(b, o.Bytes)
	o.Bytes = b
}

// Copy makes a shallow copy of v. The copy is never constant.
func (m *ObjectMemory) Copy(v Value) Value {
	o := m.Object(v)
	if o == nil || v.Handle() < firstFreeHandle {
		return v
	}
	c := &Object{
		Class:   o.Class,
		HasRefs: o.HasRefs,
		Vars:    append([]Value(nil), o.Vars...),
	}
	if o.HasRefs {
		c.Data = append([]Value(nil), o.Data...)
	} else {
		c.Bytes = append([]byte(nil), o.Bytes...)
	}
	return m.install(c)
}

// ---------------------------------------------------------------------------
// Collection bracket
// ---------------------------------------------------------------------------

// GCBegin opens a critical section in which the collector must not run.
// Sections nest.
func (m *ObjectMemory) GCBegin() { m.depth++ }

// GCEnd closes a critical section opened by GCBegin.
func (m *ObjectMemory) GCEnd() {
	if m.depth > 0 {
		m.depth--
	}
}

// InCriticalSection reports whether a GCBegin is outstanding.
func (m *ObjectMemory) InCriticalSection() bool { return m.depth > 0 }

// Pin keeps v alive across collections until a matching Unpin.
func (m *ObjectMemory) Pin(v Value) {
	if v.IsObject() {
		m.pinned[v.Handle()]++
	}
}

// Unpin releases one Pin of v.
func (m *ObjectMemory) Unpin(v Value) {
	if !v.IsObject() {
		return
	}
	h := v.Handle()
	if m.pinned[h] <= 1 {
		delete(m.pinned, h)
		return
	}
	m.pinned[h]--
}

// RequestCollection asks for a collection at the next safe point.
func (m *ObjectMemory) RequestCollection() { m.pending = true }

// ShouldCollect reports whether a collection is due.
func (m *ObjectMemory) ShouldCollect() bool {
	if m.depth > 0 || m.inPass {
		return false
	}
	return m.pending || (m.threshold > 0 && m.allocated >= m.threshold)
}

// ---------------------------------------------------------------------------
// Mark-sweep
// ---------------------------------------------------------------------------

// Collect reclaims every object unreachable from roots and the pinned set.
// It returns the number of objects freed. Objects whose class needs
// finalization are kept alive for one more pass and queued; the caller
// drains the queue with TakeFinalizable outside the collection.
//
// Collect refuses to run inside a GCBegin/GCEnd section and records the
// request instead.
func (m *ObjectMemory) Collect(roots []Value) int {
	if m.inPass {
		fatalf(ErrCollectorReentered, "collect called during a pass")
	}
	if m.depth > 0 {
		m.pending = true
		return 0
	}
	m.inPass = true
	defer func() { m.inPass = false }()

	var work []int
	push := func(v Value) {
		if !v.IsObject() {
			return
		}
		h := v.Handle()
		if h >= len(m.objects) {
			return
		}
		o := m.objects[h]
		if o == nil || o.marked {
			return
		}
		o.marked = true
		work = append(work, h)
	}
	drain := func() {
		for len(work) > 0 {
			h := work[len(work)-1]
			work = work[:len(work)-1]
			o := m.objects[h]
			push(o.Class)
			for _, v := range o.Vars {
				push(v)
			}
			if o.HasRefs {
				for _, v := range o.Data {
					push(v)
				}
			}
		}
	}

	for h := 0; h < firstFreeHandle; h++ {
		push(FromHandle(h))
	}
	for _, v := range roots {
		push(v)
	}
	for h := range m.pinned {
		push(FromHandle(h))
	}
	for _, v := range m.finalizeQueue {
		push(v)
	}
	drain()

	// Dead objects that still owe a finalize are resurrected together with
	// everything they reference.
	if m.needsFinalization != nil {
		for h, o := range m.objects {
			if o == nil || o.marked || o.finalized {
				continue
			}
			if m.needsFinalization(o.Class) {
				o.finalized = true
				m.finalizeQueue = append(m.finalizeQueue, FromHandle(h))
				push(FromHandle(h))
			}
		}
		drain()
	}

	freed := 0
	for h := firstFreeHandle; h < len(m.objects); h++ {
		o := m.objects[h]
		if o == nil {
			continue
		}
		if o.marked {
			o.marked = false
			continue
		}
		m.objects[h] = nil
		m.free = append(m.free, h)
		freed++
	}
	for h := 0; h < firstFreeHandle; h++ {
		m.objects[h].marked = false
	}
	m.live -= freed
	m.allocated = 0
	m.pending = false
	memoryLog.Debugf("collected %d objects, %d live", freed, m.live)
	return freed
}

// TakeFinalizable returns and clears the objects waiting for finalize.
func (m *ObjectMemory) TakeFinalizable() []Value {
	q := m.finalizeQueue
	m.finalizeQueue = nil
	return q
}
