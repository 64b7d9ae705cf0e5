package vm

// ---------------------------------------------------------------------------
// Classes and method lookup
// ---------------------------------------------------------------------------

// ClassOf returns the class of any value.
func (rt *Runtime) ClassOf(v Value) Value {
	if v.IsSmallInt() {
		return rt.Classes.SmallInteger
	}
	if o := rt.Memory.Object(v); o != nil {
		return o.Class
	}
	return rt.Classes.UndefinedObject
}

// Superclass returns the superclass of class, nil at the root.
func (rt *Runtime) Superclass(class Value) Value {
	if o := rt.Memory.Object(class); o != nil {
		return o.Var(BehaviorSuperclass)
	}
	return Nil
}

// IsMetaclass reports whether class is a metaclass.
func (rt *Runtime) IsMetaclass(class Value) bool {
	return rt.ClassOf(class) == rt.Classes.Metaclass
}

// ClassNameOf returns the name of class; metaclasses print as
// "Name class".
func (rt *Runtime) ClassNameOf(class Value) string {
	o := rt.Memory.Object(class)
	if o == nil {
		return "nil"
	}
	if rt.IsMetaclass(class) {
		return rt.ClassNameOf(o.Var(MetaclassInstanceClass)) + " class"
	}
	return rt.SymbolString(o.Var(ClassName))
}

// InheritsFrom reports whether class is ancestor or one of its
// subclasses.
func (rt *Runtime) InheritsFrom(class, ancestor Value) bool {
	for c := class; c != Nil; c = rt.Superclass(c) {
		if c == ancestor {
			return true
		}
	}
	return false
}

// IsKindOf reports whether v is an instance of class or a subclass.
func (rt *Runtime) IsKindOf(v, class Value) bool {
	return rt.InheritsFrom(rt.ClassOf(v), class)
}

// NewClass creates a class and its metaclass, registers the class under
// name in the global namespace and links both into their superclasses'
// subclass lists. ivars are the class's own instance variable names.
//
// Redefining an existing class with the same superclass and instance
// variables returns the existing class so its methods are kept.
func (rt *Runtime) NewClass(name string, super Value, ivars []string) Value {
	m := rt.Memory
	if existing, ok := rt.Global(name); ok && rt.IsKindOf(existing, rt.Classes.Behavior) {
		if rt.Superclass(existing) == super && sameNames(rt.instanceVariableNames(existing), rt.inheritedIvars(super, ivars)) {
			return existing
		}
	}

	m.GCBegin()
	defer m.GCEnd()

	size := len(ivars)
	format := FormatFixed
	metaSuper := rt.Classes.Class
	metaSize := classInstSize
	metaIvars := m.Object(rt.Classes.Class).Var(BehaviorInstanceVariables)
	if so := m.Object(super); super != Nil && so != nil {
		size += so.Int(BehaviorInstanceSize)
		format = so.Int(BehaviorFormat)
		metaSuper = so.Class
		mso := m.Object(so.Class)
		metaSize = mso.Int(BehaviorInstanceSize)
		metaIvars = mso.Var(BehaviorInstanceVariables)
	}

	meta := m.Allocate(rt.Classes.Metaclass, classInstSize)
	cls := m.Allocate(meta, metaSize)
	mo, co := m.Object(meta), m.Object(cls)

	mo.Vars[BehaviorSuperclass] = metaSuper
	mo.Vars[BehaviorMethods] = rt.NewDictionary(8)
	mo.SetInt(BehaviorInstanceSize, metaSize)
	mo.Vars[BehaviorInstanceVariables] = metaIvars
	mo.Vars[BehaviorSubclasses] = rt.NewArray()
	mo.Vars[BehaviorFinalization] = False
	mo.SetInt(BehaviorFormat, FormatFixed)
	mo.Vars[MetaclassInstanceClass] = cls

	co.Vars[BehaviorSuperclass] = super
	co.Vars[BehaviorMethods] = rt.NewDictionary(16)
	co.SetInt(BehaviorInstanceSize, size)
	co.Vars[BehaviorInstanceVariables] = rt.symbolArray(rt.inheritedIvars(super, ivars))
	co.Vars[BehaviorSubclasses] = rt.NewArray()
	co.Vars[BehaviorFinalization] = False
	co.SetInt(BehaviorFormat, format)
	co.Vars[ClassName] = rt.Intern(name)

	if super != Nil {
		rt.addSubclass(super, cls)
	}
	rt.addSubclass(metaSuper, meta)
	rt.SetGlobal(name, cls)
	return cls
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// instanceVariableNames returns every instance variable name of class,
// inherited ones first.
func (rt *Runtime) instanceVariableNames(class Value) []string {
	o := rt.Memory.Object(class)
	if o == nil {
		return nil
	}
	var names []string
	for _, v := range rt.ArrayValues(o.Var(BehaviorInstanceVariables)) {
		names = append(names, rt.SymbolString(v))
	}
	return names
}

// InstanceVariableNames is the exported form used by the compiler.
func (rt *Runtime) InstanceVariableNames(class Value) []string {
	return rt.instanceVariableNames(class)
}

// SetFinalization marks whether instances of class receive finalize
// before being reclaimed.
func (rt *Runtime) SetFinalization(class Value, on bool) {
	if o := rt.Memory.Object(class); o != nil && len(o.Vars) > BehaviorFinalization {
		o.Vars[BehaviorFinalization] = FromBool(on)
	}
}

func (rt *Runtime) classNeedsFinalization(class Value) bool {
	o := rt.Memory.Object(class)
	return o != nil && len(o.Vars) > BehaviorFinalization && o.Vars[BehaviorFinalization] == True
}

// LookupMethod walks the superclass chain from class and returns the first
// method stored under selector. Absence is reported, never an error.
func (rt *Runtime) LookupMethod(class, selector Value) (Value, bool) {
	for c := class; c != Nil; {
		o := rt.Memory.Object(c)
		if o == nil || len(o.Vars) <= BehaviorMethods {
			break
		}
		if m, ok := rt.DictAt(o.Vars[BehaviorMethods], selector); ok {
			return m, true
		}
		c = o.Vars[BehaviorSuperclass]
	}
	return Nil, false
}

// InstallMethod stores method in class's method dictionary under its
// selector and records class as the method's defining class.
func (rt *Runtime) InstallMethod(class, method Value) {
	mo := rt.Memory.Object(method)
	co := rt.Memory.Object(class)
	if mo == nil || co == nil || len(mo.Vars) <= MethodClass || len(co.Vars) <= BehaviorMethods {
		return
	}
	mo.Vars[MethodClass] = class
	rt.DictAtPut(co.Vars[BehaviorMethods], mo.Vars[MethodSelector], method)
}

// Instantiate creates an instance of class with n indexed elements,
// following the class's format. n is ignored for fixed classes.
func (rt *Runtime) Instantiate(class Value, n int) Value {
	co := rt.Memory.Object(class)
	if co == nil || class == Nil {
		return Nil
	}
	size := co.Int(BehaviorInstanceSize)
	switch co.Int(BehaviorFormat) {
	case FormatPointers:
		return rt.Memory.AllocateData(class, size, true, n)
	case FormatBytes:
		return rt.Memory.AllocateData(class, size, false, n)
	default:
		return rt.Memory.Allocate(class, size)
	}
}

// ---------------------------------------------------------------------------
// Global namespace
// ---------------------------------------------------------------------------

// Global returns the value bound to name in Smalltalk.
func (rt *Runtime) Global(name string) (Value, bool) {
	return rt.DictAt(rt.Globals, rt.Intern(name))
}

// SetGlobal binds name in Smalltalk.
func (rt *Runtime) SetGlobal(name string, v Value) {
	rt.DictAtPut(rt.Globals, rt.Intern(name), v)
}
