package vm

// ---------------------------------------------------------------------------
// Semaphores
// ---------------------------------------------------------------------------

// NewSemaphore creates a semaphore holding signals pending signals and no
// waiters.
func (rt *Runtime) NewSemaphore(signals int) Value {
	s := rt.Memory.AllocateData(rt.Classes.Semaphore, semaphoreInstSize, true, 0)
	rt.Memory.Object(s).SetInt(SemaphoreSignals, signals)
	return s
}

// Signals returns the pending signal count of sem.
func (rt *Runtime) Signals(sem Value) int {
	if o := rt.Memory.Object(sem); o != nil {
		return o.Int(SemaphoreSignals)
	}
	return 0
}

// Waiters returns the processes waiting on sem, oldest first. The slice
// aliases the semaphore.
func (rt *Runtime) Waiters(sem Value) []Value {
	return rt.ArrayValues(sem)
}

// Signal resumes the oldest process waiting on sem, or records a pending
// signal when none waits.
func (s *Scheduler) Signal(sem Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.rt.Memory
	o := m.Object(sem)
	if o == nil || len(o.Vars) <= SemaphoreSignals {
		return
	}
	if len(o.Data) == 0 {
		o.SetInt(SemaphoreSignals, o.Int(SemaphoreSignals)+1)
		return
	}
	waiters := o.Data
	m.Resize(sem, len(waiters)-1)
	copy(o.Data, waiters[1:])
	s.resumeLocked(waiters[0])
}

// Wait consumes a pending signal of sem, or suspends process and queues
// it behind earlier waiters. It reports whether process was suspended.
func (s *Scheduler) Wait(sem, process Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.rt.Memory
	o := m.Object(sem)
	if o == nil || len(o.Vars) <= SemaphoreSignals {
		return false
	}
	if n := o.Int(SemaphoreSignals); n > 0 {
		o.SetInt(SemaphoreSignals, n-1)
		return false
	}
	n := len(o.Data)
	m.Resize(sem, n+1)
	o.Data[n] = process
	s.suspendLocked(process)
	return true
}
