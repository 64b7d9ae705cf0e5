package vm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Scheduler: cooperative round-robin over a circular ready ring
// ---------------------------------------------------------------------------

// Scheduler drives the processes of one runtime. Ready processes form a
// circular ring linked through their next slot; the active process is
// stored in the Processor object so it survives an image round trip.
// Suspending and resuming only flip a process's flag, the ring is changed
// by Schedule and Remove alone.
type Scheduler struct {
	rt *Runtime

	// guards semaphore signal/wait and the suspended flags they touch
	mu sync.Mutex

	running   bool
	executing []*ExecState

	sources []*pollSource
	nextID  int
}

func newScheduler(rt *Runtime) *Scheduler {
	return &Scheduler{rt: rt, nextID: 1}
}

func (s *Scheduler) process(p Value) *Object {
	o := s.rt.Memory.Object(p)
	if o == nil || p == Nil || len(o.Vars) < processInstSize {
		return nil
	}
	return o
}

// Active returns the active process, nil when the ring is empty.
func (s *Scheduler) Active() Value {
	return s.rt.Memory.Object(s.rt.Processor).Vars[ProcessorActive]
}

func (s *Scheduler) setActive(p Value) {
	s.rt.Memory.Object(s.rt.Processor).Vars[ProcessorActive] = p
}

func (s *Scheduler) next(p Value) Value {
	if o := s.process(p); o != nil {
		return o.Vars[ProcessNext]
	}
	return Nil
}

// Running reports whether Run is in progress.
func (s *Scheduler) Running() bool { return s.running }

// Current returns the process being executed, or nil between slices.
func (s *Scheduler) Current() Value {
	if n := len(s.executing); n > 0 {
		return s.executing[n-1].process
	}
	return Nil
}

// Processes returns the ring starting at the active process.
func (s *Scheduler) Processes() []Value {
	active := s.Active()
	if active == Nil {
		return nil
	}
	var ps []Value
	for p := active; ; {
		ps = append(ps, p)
		p = s.next(p)
		if p == active || p == Nil {
			break
		}
	}
	return ps
}

func (s *Scheduler) roots() []Value {
	var roots []Value
	for _, es := range s.executing {
		roots = append(roots, es.process, es.context, es.msgReceiver)
		roots = append(roots, es.msgArgs...)
	}
	for _, src := range s.sources {
		roots = append(roots, src.sem)
	}
	return roots
}

// ---------------------------------------------------------------------------
// Ring maintenance
// ---------------------------------------------------------------------------

// Schedule links p into the ring right after the active process. An empty
// ring gets p as its sole, self-linked member.
func (s *Scheduler) Schedule(p Value) {
	po := s.process(p)
	if po == nil || po.Vars[ProcessScheduled] == True {
		return
	}
	active := s.Active()
	if active == Nil {
		po.Vars[ProcessNext] = p
		s.setActive(p)
	} else {
		ao := s.process(active)
		po.Vars[ProcessNext] = ao.Vars[ProcessNext]
		ao.Vars[ProcessNext] = p
	}
	po.Vars[ProcessScheduled] = True
	schedulerLog.Debugf("scheduled process %v", p)
}

// Remove unlinks p from the ring. When p was active the active pointer
// moves to its predecessor so the next search continues with the process
// that followed p.
func (s *Scheduler) Remove(p Value) {
	po := s.process(p)
	if po == nil || po.Vars[ProcessScheduled] != True {
		return
	}
	pred := p
	for s.next(pred) != p {
		pred = s.next(pred)
		if pred == Nil {
			fatalf(ErrContextCycle, "process ring broken at %v", p)
		}
	}
	if pred == p {
		s.setActive(Nil)
	} else {
		s.process(pred).Vars[ProcessNext] = po.Vars[ProcessNext]
		if s.Active() == p {
			s.setActive(pred)
		}
	}
	po.Vars[ProcessNext] = Nil
	po.Vars[ProcessScheduled] = False
	schedulerLog.Debugf("removed process %v", p)
}

// Suspend marks p as not runnable. Its place in the ring is kept.
func (s *Scheduler) Suspend(p Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspendLocked(p)
}

// Resume marks p as runnable.
func (s *Scheduler) Resume(p Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeLocked(p)
}

func (s *Scheduler) suspendLocked(p Value) {
	if po := s.process(p); po != nil {
		po.Vars[ProcessSuspended] = True
	}
}

func (s *Scheduler) resumeLocked(p Value) {
	if po := s.process(p); po != nil {
		po.Vars[ProcessSuspended] = False
	}
}

func (s *Scheduler) runnable(p Value) bool {
	po := s.process(p)
	return po != nil && po.Vars[ProcessSuspended] == False && po.Vars[ProcessContext] != Nil
}

// ---------------------------------------------------------------------------
// Driving
// ---------------------------------------------------------------------------

// FindNext walks the ring from the process after the active one and makes
// the first runnable process active. Every lap first polls the sources
// without blocking. When a whole lap finds nothing but sources are
// registered it blocks in the poll for up to the poll interval and tries
// again; it returns nil when the ring is empty or nothing could ever
// become runnable.
func (s *Scheduler) FindNext(ctx context.Context) (Value, error) {
	return s.findNext(ctx, true)
}

func (s *Scheduler) findNext(ctx context.Context, block bool) (Value, error) {
	for {
		if err := s.poll(0); err != nil {
			return Nil, err
		}
		active := s.Active()
		if active == Nil {
			return Nil, nil
		}
		for p := s.next(active); ; p = s.next(p) {
			if s.runnable(p) {
				s.setActive(p)
				return p, nil
			}
			if p == active || p == Nil {
				break
			}
		}
		if !block || len(s.sources) == 0 {
			return Nil, nil
		}
		if err := ctx.Err(); err != nil {
			return Nil, err
		}
		if err := s.poll(s.waitTimeout()); err != nil {
			return Nil, err
		}
	}
}

// Run executes scheduled slices until no process can run or ctx is done.
// Errors of processes aborted along the way are joined into the result.
// Calling Run while it is already running does nothing.
func (s *Scheduler) Run(ctx context.Context) error {
	return s.drive(ctx, true)
}

// Drain runs the processes that are ready now, and those they make ready,
// until none is left. Unlike Run it never waits on a poll source, so
// sleepers and descriptor waiters stay queued for a later Run.
func (s *Scheduler) Drain(ctx context.Context) error {
	return s.drive(ctx, false)
}

func (s *Scheduler) drive(ctx context.Context, block bool) error {
	if s.running {
		return nil
	}
	s.running = true
	defer func() { s.running = false }()

	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		p, err := s.findNext(ctx, block)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if p == Nil {
			break
		}
		if err := s.rt.ExecuteScheduled(p); err != nil {
			errs = append(errs, err)
		}
		s.safePoint()
	}
	schedulerLog.Debugf("no runnable process left")
	return errors.Join(errs...)
}

// Iterate runs at most one slice without blocking and reports whether a
// process ran.
func (s *Scheduler) Iterate() (bool, error) {
	p, err := s.findNext(context.Background(), false)
	if err != nil || p == Nil {
		return false, err
	}
	err = s.rt.ExecuteScheduled(p)
	s.safePoint()
	return true, err
}

// runUntil runs slices until target terminates. Failures of other
// processes are logged, a failure of target is returned.
func (s *Scheduler) runUntil(target Value) error {
	if s.running {
		return nil
	}
	s.running = true
	defer func() { s.running = false }()

	for !s.rt.IsTerminated(target) {
		p, err := s.FindNext(context.Background())
		if err != nil {
			return err
		}
		if p == Nil {
			return nil
		}
		if err := s.rt.ExecuteScheduled(p); err != nil {
			var fe *FatalError
			if errors.As(err, &fe) && fe.Process == target {
				return err
			}
			log.Errorf("%v", err)
		}
		s.safePoint()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Safe points
// ---------------------------------------------------------------------------

// Collect runs a collection over the runtime's roots and returns the
// number of reclaimed objects. It does nothing inside a GCBegin section.
func (rt *Runtime) Collect() int {
	return rt.Memory.Collect(rt.Roots())
}

func (s *Scheduler) collectIfDue() {
	if s.rt.Memory.ShouldCollect() {
		s.rt.Collect()
	}
}

func (s *Scheduler) safePoint() {
	s.collectIfDue()
	s.rt.RunFinalizers()
}

// RunFinalizers sends finalize to every object the collector queued, each
// in its own process.
func (rt *Runtime) RunFinalizers() {
	for _, obj := range rt.Memory.TakeFinalizable() {
		method, ok := rt.LookupMethod(rt.ClassOf(obj), rt.selectors.finalize)
		if !ok {
			continue
		}
		p := rt.NewMethodProcess(method, obj)
		rt.Scheduler.Resume(p)
		if err := rt.ExecuteBlocking(p); err != nil {
			log.Warningf("finalize of %v failed: %v", obj, err)
			continue
		}
		if !rt.IsTerminated(p) {
			rt.Scheduler.Schedule(p)
		}
	}
}

// ---------------------------------------------------------------------------
// Poll sources
// ---------------------------------------------------------------------------

// PollMode selects the readiness a descriptor source waits for.
type PollMode int

const (
	PollRead PollMode = iota
	PollWrite
)

type sourceKind int

const (
	sourceDescriptor sourceKind = iota
	sourceIdle
	sourceTimer
)

type pollSource struct {
	id       int
	kind     sourceKind
	fd       int
	mode     PollMode
	idle     func() bool
	deadline time.Time
	sem      Value
}

func (s *Scheduler) addSource(src *pollSource) int {
	src.id = s.nextID
	s.nextID++
	s.sources = append(s.sources, src)
	return src.id
}

// AddDescriptor signals sem once when fd becomes ready for mode; the
// source is then dropped.
func (s *Scheduler) AddDescriptor(fd int, mode PollMode, sem Value) int {
	return s.addSource(&pollSource{kind: sourceDescriptor, fd: fd, mode: mode, sem: sem})
}

// AddIdle calls ready on every lap and signals sem each time it returns
// true. The source stays registered until removed.
func (s *Scheduler) AddIdle(ready func() bool, sem Value) int {
	return s.addSource(&pollSource{kind: sourceIdle, idle: ready, sem: sem})
}

// AddTimer signals sem once at or after deadline.
func (s *Scheduler) AddTimer(deadline time.Time, sem Value) int {
	return s.addSource(&pollSource{kind: sourceTimer, deadline: deadline, sem: sem})
}

// RemoveSource unregisters a source. Unknown ids are ignored.
func (s *Scheduler) RemoveSource(id int) {
	for i, src := range s.sources {
		if src.id == id {
			s.sources = append(s.sources[:i], s.sources[i+1:]...)
			return
		}
	}
}

// SourceCount returns the number of registered poll sources.
func (s *Scheduler) SourceCount() int { return len(s.sources) }

func (s *Scheduler) waitTimeout() time.Duration {
	d := s.rt.opts.PollInterval
	now := time.Now()
	for _, src := range s.sources {
		if src.kind != sourceTimer {
			continue
		}
		if until := src.deadline.Sub(now); until < d {
			d = until
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// poll checks every source once, waiting up to timeout for descriptors,
// and signals the semaphores of those that are ready.
func (s *Scheduler) poll(timeout time.Duration) error {
	if len(s.sources) == 0 {
		return nil
	}
	var fds []pollFd
	var fdSources []*pollSource
	for _, src := range s.sources {
		if src.kind == sourceDescriptor {
			fds = append(fds, pollFd{fd: src.fd, mode: src.mode})
			fdSources = append(fdSources, src)
		}
	}
	var ready []bool
	if len(fds) > 0 || timeout > 0 {
		var err error
		ready, err = pollDescriptors(fds, timeout)
		if err != nil {
			return err
		}
	}

	fired := make(map[*pollSource]bool)
	for i, src := range fdSources {
		if ready[i] {
			fired[src] = true
		}
	}
	now := time.Now()
	var signal []Value
	kept := s.sources[:0]
	for _, src := range s.sources {
		switch src.kind {
		case sourceDescriptor:
			if fired[src] {
				signal = append(signal, src.sem)
				continue
			}
		case sourceTimer:
			if !now.Before(src.deadline) {
				signal = append(signal, src.sem)
				continue
			}
		case sourceIdle:
			if src.idle() {
				signal = append(signal, src.sem)
			}
		}
		kept = append(kept, src)
	}
	for i := len(kept); i < len(s.sources); i++ {
		s.sources[i] = nil
	}
	s.sources = kept
	for _, sem := range signal {
		s.Signal(sem)
	}
	return nil
}
