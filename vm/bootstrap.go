package vm

import (
	"io"
	"os"
	"time"
)

// ---------------------------------------------------------------------------
// Runtime: process-wide state
// ---------------------------------------------------------------------------

// Options configures a Runtime.
type Options struct {
	// Byteslice is the number of instructions a process may execute per
	// scheduled slice.
	Byteslice int
	// StackLimit is the maximum context depth of a process.
	StackLimit int
	// GCThreshold is the number of allocations between automatic
	// collections; 0 disables them.
	GCThreshold int
	// PollInterval is the timeout of the blocking poll made when a
	// scheduler lap finds nothing runnable.
	PollInterval time.Duration
	// Output receives Transcript output.
	Output io.Writer
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Byteslice:    100,
		StackLimit:   10000,
		GCThreshold:  100000,
		PollInterval: time.Millisecond,
		Output:       os.Stdout,
	}
}

// Classes holds the kernel classes the runtime addresses directly.
type Classes struct {
	Object             Value
	Behavior           Value
	Class              Value
	Metaclass          Value
	UndefinedObject    Value
	Boolean            Value
	True               Value
	False              Value
	Magnitude          Value
	Character          Value
	Number             Value
	SmallInteger       Value
	LargeInteger       Value
	Collection         Value
	ArrayedCollection  Value
	Array              Value
	ByteArray          Value
	String             Value
	Symbol             Value
	Dictionary         Value
	SystemDictionary   Value
	CompiledMethod     Value
	CompiledBlock      Value
	BlockClosure       Value
	ContextPart        Value
	MethodContext      Value
	BlockContext       Value
	Process            Value
	Semaphore          Value
	ProcessorScheduler Value
	Message            Value
}

func (c *Classes) slots() map[string]*Value {
	return map[string]*Value{
		"Object":             &c.Object,
		"Behavior":           &c.Behavior,
		"Class":              &c.Class,
		"Metaclass":          &c.Metaclass,
		"UndefinedObject":    &c.UndefinedObject,
		"Boolean":            &c.Boolean,
		"True":               &c.True,
		"False":              &c.False,
		"Magnitude":          &c.Magnitude,
		"Character":          &c.Character,
		"Number":             &c.Number,
		"SmallInteger":       &c.SmallInteger,
		"LargeInteger":       &c.LargeInteger,
		"Collection":         &c.Collection,
		"ArrayedCollection":  &c.ArrayedCollection,
		"Array":              &c.Array,
		"ByteArray":          &c.ByteArray,
		"String":             &c.String,
		"Symbol":             &c.Symbol,
		"Dictionary":         &c.Dictionary,
		"SystemDictionary":   &c.SystemDictionary,
		"CompiledMethod":     &c.CompiledMethod,
		"CompiledBlock":      &c.CompiledBlock,
		"BlockClosure":       &c.BlockClosure,
		"ContextPart":        &c.ContextPart,
		"MethodContext":      &c.MethodContext,
		"BlockContext":       &c.BlockContext,
		"Process":            &c.Process,
		"Semaphore":          &c.Semaphore,
		"ProcessorScheduler": &c.ProcessorScheduler,
		"Message":            &c.Message,
	}
}

// Runtime is one independent instance of the object system: its memory,
// symbol table, global namespace and scheduler. Nothing is shared between
// runtimes.
type Runtime struct {
	Memory    *ObjectMemory
	Scheduler *Scheduler
	Classes   Classes

	Globals   Value
	Symbols   Value
	Processor Value

	Output io.Writer

	opts       Options
	selectors  wellKnownSelectors
	characters Value
}

type wellKnownSelectors struct {
	doesNotUnderstand Value
	finalize          Value
	value             Value
	unary             [2]Value
	binary            [8]Value
}

// UnarySelectors and BinarySelectors list the fast-path operators of the
// send-unary and send-binary opcodes, indexed by operand.
var (
	UnarySelectors  = [...]string{"isNil", "notNil"}
	BinarySelectors = [...]string{"+", "-", "<", ">", "<=", ">=", "=", "~="}
)

// ---------------------------------------------------------------------------
// Boot class table
// ---------------------------------------------------------------------------

type bootClass struct {
	name   string
	super  string
	ivars  []string
	format int
}

var bootClasses = []bootClass{
	{"Object", "", nil, FormatFixed},
	{"Behavior", "Object", []string{"superclass", "methodDictionary", "instanceSize", "instanceVariables", "subclasses", "finalization", "format"}, formatInherit},
	{"Class", "Behavior", []string{"name"}, formatInherit},
	{"Metaclass", "Behavior", []string{"instanceClass"}, formatInherit},
	{"UndefinedObject", "Object", nil, formatInherit},
	{"Boolean", "Object", nil, formatInherit},
	{"True", "Boolean", nil, formatInherit},
	{"False", "Boolean", nil, formatInherit},
	{"Magnitude", "Object", nil, formatInherit},
	{"Character", "Magnitude", []string{"value"}, formatInherit},
	{"Number", "Magnitude", nil, formatInherit},
	{"SmallInteger", "Number", nil, formatInherit},
	{"LargeInteger", "Number", nil, FormatBytes},
	{"Collection", "Object", nil, formatInherit},
	{"ArrayedCollection", "Collection", nil, formatInherit},
	{"Array", "ArrayedCollection", nil, FormatPointers},
	{"ByteArray", "ArrayedCollection", nil, FormatBytes},
	{"String", "ArrayedCollection", nil, FormatBytes},
	{"Symbol", "String", []string{"hash"}, formatInherit},
	{"Dictionary", "Collection", []string{"tally"}, FormatPointers},
	{"SystemDictionary", "Dictionary", nil, formatInherit},
	{"CompiledMethod", "Object", []string{"selector", "primitive", "literals", "bytecodes", "argumentsCount", "argumentsSize", "temporariesCount", "stackSize", "methodClass"}, formatInherit},
	{"CompiledBlock", "CompiledMethod", []string{"argumentsTop"}, formatInherit},
	{"BlockClosure", "Object", []string{"block", "definedContext"}, formatInherit},
	{"ContextPart", "Object", []string{"parent", "method", "receiver", "arguments", "temporaries", "stack", "ip", "sp", "returnContext", "depth"}, formatInherit},
	{"MethodContext", "ContextPart", nil, formatInherit},
	{"BlockContext", "ContextPart", []string{"outerContext", "closure", "handledException", "handlerBlock"}, formatInherit},
	{"Process", "Object", []string{"context", "suspended", "scheduled", "next", "returnedObject", "name"}, formatInherit},
	{"Semaphore", "Object", []string{"signals"}, FormatPointers},
	{"ProcessorScheduler", "Object", []string{"activeProcess", "byteslice"}, formatInherit},
	{"Message", "Object", []string{"selector", "arguments"}, formatInherit},
}

// NewRuntime builds a fresh runtime with the kernel classes, the Smalltalk
// namespace and the Processor global. No source has been filed in.
func NewRuntime(opts Options) *Runtime {
	opts = opts.withDefaults()
	rt := &Runtime{opts: opts, Output: opts.Output}
	rt.Memory = NewObjectMemory(4096, opts.GCThreshold)
	rt.Memory.needsFinalization = rt.classNeedsFinalization
	rt.bootstrap()
	rt.Scheduler = newScheduler(rt)
	return rt
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Byteslice <= 0 {
		o.Byteslice = d.Byteslice
	}
	if o.StackLimit <= 0 {
		o.StackLimit = d.StackLimit
	}
	if o.GCThreshold < 0 {
		o.GCThreshold = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Output == nil {
		o.Output = d.Output
	}
	return o
}

// Options returns the options the runtime was built with.
func (rt *Runtime) Options() Options { return rt.opts }

func (rt *Runtime) bootstrap() {
	m := rt.Memory
	m.GCBegin()
	defer m.GCEnd()

	byName := make(map[string]Value, len(bootClasses))
	for _, bc := range bootClasses {
		meta := m.Allocate(Nil, classInstSize)
		cls := m.Allocate(meta, classInstSize)
		byName[bc.name] = cls
	}
	slots := rt.Classes.slots()
	for name, slot := range slots {
		*slot = byName[name]
	}

	for _, bc := range bootClasses {
		cls := byName[bc.name]
		co := m.Object(cls)
		mo := m.Object(co.Class)
		mo.Class = rt.Classes.Metaclass

		size := len(bc.ivars)
		format := bc.format
		super := Nil
		if bc.super != "" {
			super = byName[bc.super]
			so := m.Object(super)
			size += so.Int(BehaviorInstanceSize)
			if format == formatInherit {
				format = so.Int(BehaviorFormat)
			}
			mo.Vars[BehaviorSuperclass] = so.Class
		} else {
			mo.Vars[BehaviorSuperclass] = rt.Classes.Class
		}
		co.Vars[BehaviorSuperclass] = super
		co.SetInt(BehaviorInstanceSize, size)
		co.SetInt(BehaviorFormat, format)
		co.Vars[BehaviorFinalization] = False

		mo.SetInt(BehaviorInstanceSize, classInstSize)
		mo.SetInt(BehaviorFormat, FormatFixed)
		mo.Vars[BehaviorFinalization] = False
		mo.Vars[MetaclassInstanceClass] = cls
	}

	m.objects[handleNil].Class = rt.Classes.UndefinedObject
	m.objects[handleTrue].Class = rt.Classes.True
	m.objects[handleFalse].Class = rt.Classes.False

	rt.Symbols = rt.NewDictionary(1024)

	for _, bc := range bootClasses {
		cls := byName[bc.name]
		co := m.Object(cls)
		mo := m.Object(co.Class)
		co.Vars[ClassName] = rt.Intern(bc.name)
		co.Vars[BehaviorMethods] = rt.NewDictionary(32)
		mo.Vars[BehaviorMethods] = rt.NewDictionary(8)
		co.Vars[BehaviorSubclasses] = rt.NewArray()
		mo.Vars[BehaviorSubclasses] = rt.NewArray()
		co.Vars[BehaviorInstanceVariables] = rt.symbolArray(rt.inheritedIvars(co.Vars[BehaviorSuperclass], bc.ivars))
	}
	classIvars := m.Object(rt.Classes.Class).Vars[BehaviorInstanceVariables]
	for _, bc := range bootClasses {
		mo := m.Object(m.Object(byName[bc.name]).Class)
		mo.Vars[BehaviorInstanceVariables] = classIvars
	}
	for _, bc := range bootClasses {
		if bc.super == "" {
			continue
		}
		super, sub := byName[bc.super], byName[bc.name]
		rt.addSubclass(super, sub)
		rt.addSubclass(m.Object(super).Class, m.Object(sub).Class)
	}
	rt.addSubclass(rt.Classes.Class, m.Object(rt.Classes.Object).Class)

	rt.Globals = rt.newDictionaryOf(rt.Classes.SystemDictionary, 256)
	for _, bc := range bootClasses {
		rt.SetGlobal(bc.name, byName[bc.name])
	}
	rt.SetGlobal("Smalltalk", rt.Globals)

	rt.Processor = m.Allocate(rt.Classes.ProcessorScheduler, processorInstSize)
	m.Object(rt.Processor).SetInt(ProcessorByteslice, rt.opts.Byteslice)
	rt.SetGlobal("Processor", rt.Processor)

	rt.characters = m.AllocateData(rt.Classes.Array, 0, true, 256)
	chars := m.Object(rt.characters)
	for i := range chars.Data {
		c := m.Allocate(rt.Classes.Character, characterInstSize)
		co := m.Object(c)
		co.SetInt(CharacterValue, i)
		co.Constant = true
		chars.Data[i] = c
	}
	rt.SetGlobal("CharacterTable", rt.characters)

	rt.initSelectors()
}

func (rt *Runtime) inheritedIvars(super Value, own []string) []string {
	var names []string
	if so := rt.Memory.Object(super); super != Nil && so != nil {
		for _, v := range rt.ArrayValues(so.Var(BehaviorInstanceVariables)) {
			names = append(names, rt.SymbolString(v))
		}
	}
	return append(names, own...)
}

func (rt *Runtime) symbolArray(names []string) Value {
	vals := make([]Value, len(names))
	for i, n := range names {
		vals[i] = rt.Intern(n)
	}
	return rt.NewArray(vals...)
}

func (rt *Runtime) addSubclass(super, sub Value) {
	so := rt.Memory.Object(super)
	if so == nil || len(so.Vars) <= BehaviorSubclasses {
		return
	}
	subs := so.Vars[BehaviorSubclasses]
	n := rt.Memory.Object(subs).Size()
	rt.Memory.Resize(subs, n+1)
	rt.Memory.Object(subs).Data[n] = sub
}

func (rt *Runtime) initSelectors() {
	rt.selectors.doesNotUnderstand = rt.Intern("doesNotUnderstand:")
	rt.selectors.finalize = rt.Intern("finalize")
	rt.selectors.value = rt.Intern("value")
	for i, s := range UnarySelectors {
		rt.selectors.unary[i] = rt.Intern(s)
	}
	for i, s := range BinarySelectors {
		rt.selectors.binary[i] = rt.Intern(s)
	}
}

// bindClasses re-reads the kernel classes from the global namespace; used
// after an image load. The Symbol class is taken from the symbol table
// first, since global lookup hashes symbol keys by content.
func (rt *Runtime) bindClasses() error {
	rt.Classes.Symbol = Nil
	for _, v := range rt.ArrayValues(rt.Symbols) {
		if v != Nil {
			rt.Classes.Symbol = rt.ClassOf(v)
			break
		}
	}
	if rt.Classes.Symbol == Nil {
		return &FatalError{Err: ErrImageFormat, Detail: "empty symbol table"}
	}
	for name, slot := range rt.Classes.slots() {
		v, ok := rt.Global(name)
		if !ok {
			return &FatalError{Err: ErrImageFormat, Detail: "missing kernel class " + name}
		}
		*slot = v
	}
	chars, ok := rt.Global("CharacterTable")
	if !ok {
		return &FatalError{Err: ErrImageFormat, Detail: "missing CharacterTable"}
	}
	rt.characters = chars
	rt.initSelectors()
	return nil
}

// Roots returns the values the collector treats as always reachable.
func (rt *Runtime) Roots() []Value {
	roots := []Value{rt.Globals, rt.Symbols, rt.Processor}
	if rt.Scheduler != nil {
		roots = append(roots, rt.Scheduler.roots()...)
	}
	return roots
}
