package vm

import "time"

// ---------------------------------------------------------------------------
// Processor, Process and Semaphore Primitives
// ---------------------------------------------------------------------------

func registerProcessPrimitives() {
	// Processor yield - give up the rest of the slice
	definePrimitive("Processor_yield", func(es *ExecState) PrimResult {
		es.Push(es.Receiver())
		return PrimYielded
	})

	// Processor activeProcess
	definePrimitive("Processor_activeProcess", func(es *ExecState) PrimResult {
		return es.Answer(es.process)
	})

	// Processor sleep: milliseconds - wait on a timer source
	definePrimitive("Processor_sleep", func(es *ExecState) PrimResult {
		ms, ok := es.intArg(0)
		if !ok || ms < 0 {
			return PrimFailed
		}
		rt := es.rt
		sem := rt.NewSemaphore(0)
		rt.Scheduler.AddTimer(time.Now().Add(time.Duration(ms)*time.Millisecond), sem)
		es.Push(es.Receiver())
		if rt.Scheduler.Wait(sem, es.process) {
			return PrimYielded
		}
		return PrimSucceeded
	})

	// Process>>resume - make runnable, scheduling it if needed
	definePrimitive("Process_resume", func(es *ExecState) PrimResult {
		p := es.Receiver()
		if es.rt.ClassOf(p) != es.rt.Classes.Process || es.rt.IsTerminated(p) {
			return PrimFailed
		}
		es.rt.Scheduler.Schedule(p)
		es.rt.Scheduler.Resume(p)
		return es.Answer(p)
	})

	// Process>>suspend - suspending the running process yields
	definePrimitive("Process_suspend", func(es *ExecState) PrimResult {
		p := es.Receiver()
		if es.rt.ClassOf(p) != es.rt.Classes.Process {
			return PrimFailed
		}
		es.rt.Scheduler.Suspend(p)
		es.Push(p)
		if p == es.process {
			return PrimYielded
		}
		return PrimSucceeded
	})

	// Process>>terminate - unschedule and drop the context chain
	definePrimitive("Process_terminate", func(es *ExecState) PrimResult {
		p := es.Receiver()
		if es.rt.ClassOf(p) != es.rt.Classes.Process {
			return PrimFailed
		}
		if p == es.process {
			es.terminate(Nil)
			return PrimYielded
		}
		es.rt.Memory.Object(p).Vars[ProcessContext] = Nil
		es.rt.Scheduler.Remove(p)
		return es.Answer(p)
	})

	// Semaphore>>signal
	definePrimitive("Semaphore_signal", func(es *ExecState) PrimResult {
		sem := es.Receiver()
		if es.rt.ClassOf(sem) != es.rt.Classes.Semaphore {
			return PrimFailed
		}
		es.rt.Scheduler.Signal(sem)
		return es.Answer(sem)
	})

	// Semaphore>>wait - yields when the process had to queue
	definePrimitive("Semaphore_wait", func(es *ExecState) PrimResult {
		sem := es.Receiver()
		if es.rt.ClassOf(sem) != es.rt.Classes.Semaphore {
			return PrimFailed
		}
		es.Push(sem)
		if es.rt.Scheduler.Wait(sem, es.process) {
			return PrimYielded
		}
		return PrimSucceeded
	})

	// Semaphore>>signals
	definePrimitive("Semaphore_signals", func(es *ExecState) PrimResult {
		sem := es.Receiver()
		if es.rt.ClassOf(sem) != es.rt.Classes.Semaphore {
			return PrimFailed
		}
		return es.AnswerInt(int64(es.rt.Signals(sem)))
	})
}
