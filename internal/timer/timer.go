// Package timer implements the core's timer and work-queue primitive
// (spec §4.6): set-timer/clear-timer with "at most one in-flight callback
// per timer" and a run-in-thread work queue backed by a worker pool.
package timer

import (
	"reflect"
	"sync"
	"time"
)

// Result is what a periodic callback returns to request another fire
// (Continue) or its own removal (Stop, equivalent to ClearTimer on itself).
type Result int

const (
	Continue Result = iota
	Stop
)

// Callback is a periodic or one-shot timer function.
type Callback func(arg interface{}) Result

type state int

const (
	stateIdle state = iota
	stateRunning
	stateCancelRequested
	stateDisposed
)

// entry is one scheduled timer. cbPtr is the function's code pointer,
// used for ClearTimer's by-callback matching; closures all share the
// same pointer for a given call site, so this matches how a C callback
// pointer + opaque key would behave.
type entry struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    state
	cb       Callback
	cbPtr    uintptr
	key      interface{}
	arg      interface{}
	interval time.Duration
	clock    *time.Timer
	sched    *Scheduler
	id       uint64
}

// Scheduler owns every live timer plus the run-in-thread worker pool.
type Scheduler struct {
	mu     sync.Mutex
	timers map[uint64]*entry
	nextID uint64

	work chan func()
	wg   sync.WaitGroup
	done chan struct{}
}

// New starts a scheduler with workers goroutines servicing RunInThread.
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		timers: make(map[uint64]*entry),
		work:   make(chan func(), 256),
		done:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
	return s
}

func (s *Scheduler) workerLoop() {
	defer s.wg.Done()
	for {
		select {
		case fn, ok := <-s.work:
			if !ok {
				return
			}
			fn()
		case <-s.done:
			return
		}
	}
}

// RunInThread enqueues cb(arg) on the worker pool (spec §4.6).
func (s *Scheduler) RunInThread(cb func(arg interface{}), arg interface{}) {
	s.work <- func() { cb(arg) }
}

// SetTimer schedules cb(arg) after initialDelay, then every interval while
// it returns Continue; interval == 0 means one-shot (spec §4.6).
func (s *Scheduler) SetTimer(cb Callback, initialDelay, interval time.Duration, arg interface{}, key interface{}) {
	e := &entry{
		cb:       cb,
		cbPtr:    reflect.ValueOf(cb).Pointer(),
		key:      key,
		arg:      arg,
		interval: interval,
		sched:    s,
	}
	e.cond = sync.NewCond(&e.mu)

	s.mu.Lock()
	s.nextID++
	e.id = s.nextID
	s.timers[e.id] = e
	s.mu.Unlock()

	e.clock = time.AfterFunc(initialDelay, func() { s.fire(e) })
}

func (s *Scheduler) fire(e *entry) {
	e.mu.Lock()
	if e.state == stateDisposed || e.state == stateCancelRequested {
		e.mu.Unlock()
		s.remove(e)
		return
	}
	e.state = stateRunning
	e.mu.Unlock()

	result := e.cb(e.arg)

	e.mu.Lock()
	cancelled := e.state == stateCancelRequested
	e.state = stateIdle
	e.cond.Broadcast()
	e.mu.Unlock()

	if cancelled || result == Stop || e.interval == 0 {
		s.remove(e)
		return
	}

	e.clock.Reset(e.interval)
}

func (s *Scheduler) remove(e *entry) {
	e.mu.Lock()
	e.state = stateDisposed
	e.mu.Unlock()
	s.mu.Lock()
	delete(s.timers, e.id)
	s.mu.Unlock()
}

// ClearTimer stops and removes every timer matching cb (by function
// identity) and, if key is non-nil, also matching key. If a match is
// currently executing, ClearTimer blocks until it finishes (spec §4.6's
// "at most one in-flight callback" guarantee), then invokes cleanup(arg)
// for each removed timer, if cleanup is non-nil.
func (s *Scheduler) ClearTimer(cb Callback, key interface{}, cleanup func(arg interface{})) {
	cbPtr := reflect.ValueOf(cb).Pointer()

	s.mu.Lock()
	var matched []*entry
	for _, e := range s.timers {
		if e.cbPtr == cbPtr && (key == nil || e.key == key) {
			matched = append(matched, e)
		}
	}
	s.mu.Unlock()

	for _, e := range matched {
		e.mu.Lock()
		for e.state == stateRunning {
			e.cond.Wait()
		}
		already := e.state == stateDisposed
		e.state = stateCancelRequested
		e.mu.Unlock()

		if e.clock != nil {
			e.clock.Stop()
		}
		s.remove(e)

		if cleanup != nil && !already {
			cleanup(e.arg)
		}
	}
}

// Close stops the worker pool. Outstanding timers are not cancelled; callers
// should ClearTimer everything they own before Close.
func (s *Scheduler) Close() {
	close(s.done)
	s.wg.Wait()
}
