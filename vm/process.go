package vm

// ---------------------------------------------------------------------------
// Processes
// ---------------------------------------------------------------------------

// NewProcess creates a process whose current context is ctx. The process
// starts suspended and unscheduled.
func (rt *Runtime) NewProcess(ctx Value, name string) Value {
	m := rt.Memory
	m.GCBegin()
	defer m.GCEnd()
	p := m.Allocate(rt.Classes.Process, processInstSize)
	po := m.Object(p)
	po.Vars[ProcessContext] = ctx
	po.Vars[ProcessSuspended] = True
	po.Vars[ProcessScheduled] = False
	po.Vars[ProcessNext] = Nil
	po.Vars[ProcessReturnedObject] = Nil
	if name != "" {
		po.Vars[ProcessName] = rt.NewString(name)
	}
	return p
}

// NewMethodProcess creates a process that will run method with receiver
// as its bottom activation.
func (rt *Runtime) NewMethodProcess(method, receiver Value, args ...Value) Value {
	rt.Memory.GCBegin()
	defer rt.Memory.GCEnd()
	ctx := rt.newMethodContext(Nil, method, receiver, args)
	return rt.NewProcess(ctx, rt.SymbolString(rt.Memory.Object(method).Vars[MethodSelector]))
}

// NewBlockProcess creates a process that will evaluate closure.
func (rt *Runtime) NewBlockProcess(closure Value) Value {
	rt.Memory.GCBegin()
	defer rt.Memory.GCEnd()
	ctx := rt.newBlockContext(Nil, closure, nil)
	return rt.NewProcess(ctx, "")
}

// IsSuspended reports the suspended flag of p.
func (rt *Runtime) IsSuspended(p Value) bool {
	o := rt.Memory.Object(p)
	return o == nil || o.Var(ProcessSuspended) != False
}

// IsScheduled reports whether p is linked into the ready ring.
func (rt *Runtime) IsScheduled(p Value) bool {
	o := rt.Memory.Object(p)
	return o != nil && o.Var(ProcessScheduled) == True
}

// IsTerminated reports whether p has no context left.
func (rt *Runtime) IsTerminated(p Value) bool {
	o := rt.Memory.Object(p)
	return o == nil || o.Var(ProcessContext) == Nil
}

// ReturnedObject returns the value p answered from its bottom context.
func (rt *Runtime) ReturnedObject(p Value) Value {
	if o := rt.Memory.Object(p); o != nil {
		return o.Var(ProcessReturnedObject)
	}
	return Nil
}

// Evaluate runs method with receiver in a fresh process to completion and
// returns what it answered. A process that yields is scheduled and the
// scheduler is run until it finishes.
func (rt *Runtime) Evaluate(method, receiver Value) (Value, error) {
	p := rt.NewMethodProcess(method, receiver)
	return rt.EvaluateProcess(p)
}

// EvaluateProcess runs p blocking, falling back to the scheduler when it
// yields. p is the active ring member while it runs, so processes it forks
// are queued behind it and a yield hands the processor to them.
func (rt *Runtime) EvaluateProcess(p Value) (Value, error) {
	rt.Memory.Pin(p)
	defer rt.Memory.Unpin(p)

	rt.Scheduler.Schedule(p)
	rt.Scheduler.Resume(p)
	if rt.Scheduler.process(p) != nil {
		rt.Scheduler.setActive(p)
	}
	if err := rt.ExecuteBlocking(p); err != nil {
		return Nil, err
	}
	if !rt.IsTerminated(p) {
		if err := rt.Scheduler.runUntil(p); err != nil {
			return Nil, err
		}
	}
	rt.Scheduler.safePoint()
	if !rt.IsTerminated(p) {
		return Nil, &FatalError{Err: ErrNoProcess, Detail: "process blocked with nothing left to run", Process: p}
	}
	return rt.ReturnedObject(p), nil
}
