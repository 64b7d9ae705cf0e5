package vm

// Instance variable indices of the kernel classes. The interpreter and the
// primitives address these slots directly, so the boot class table in
// bootstrap.go must declare the variables in the same order.

// Behavior, Class and Metaclass.
const (
	BehaviorSuperclass = iota
	BehaviorMethods
	BehaviorInstanceSize
	BehaviorInstanceVariables
	BehaviorSubclasses
	BehaviorFinalization
	BehaviorFormat
	ClassName

	classInstSize
)

// MetaclassInstanceClass shares the slot Class uses for its name.
const MetaclassInstanceClass = ClassName

// Instance formats stored in BehaviorFormat.
const (
	FormatFixed = iota
	FormatPointers
	FormatBytes

	formatInherit = -1
)

// Symbol
const (
	SymbolHash = iota
	symbolInstSize
)

// Character
const (
	CharacterValue = iota
	characterInstSize
)

// Dictionary
const (
	DictTally = iota
	dictInstSize
)

// CompiledMethod and CompiledBlock.
const (
	MethodSelector = iota
	MethodPrimitive
	MethodLiterals
	MethodBytecodes
	MethodArgumentsCount
	MethodArgumentsSize
	MethodTemporariesCount
	MethodStackSize
	MethodClass

	methodInstSize
)

const (
	BlockArgumentsTop = methodInstSize + iota
	blockInstSize
)

// NoPrimitive marks a method without a primitive.
const NoPrimitive = -1

// BlockClosure
const (
	ClosureBlock = iota
	ClosureDefinedContext
	closureInstSize
)

// MethodContext and BlockContext.
const (
	ContextParent = iota
	ContextMethod
	ContextReceiver
	ContextArguments
	ContextTemporaries
	ContextStack
	ContextIP
	ContextSP
	ContextReturnContext
	ContextDepth

	methodContextInstSize
)

const (
	BlockContextOuter = methodContextInstSize + iota
	BlockContextClosure
	BlockContextHandledException
	BlockContextHandlerBlock

	blockContextInstSize
)

// Process
const (
	ProcessContext = iota
	ProcessSuspended
	ProcessScheduled
	ProcessNext
	ProcessReturnedObject
	ProcessName

	processInstSize
)

// Semaphore; waiting processes live in the variable part.
const (
	SemaphoreSignals = iota
	semaphoreInstSize
)

// ProcessorScheduler
const (
	ProcessorActive = iota
	ProcessorByteslice
	processorInstSize
)

// Message
const (
	MessageSelector = iota
	MessageArguments
	messageInstSize
)
