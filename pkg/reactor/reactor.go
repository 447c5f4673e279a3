// Package reactor provides the host's timer and callback loop. Timers and
// callbacks run on a single dispatch goroutine; other goroutines hand
// work to it with RegisterAsyncCallback and wait on a Completion.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

var (
	ErrReactorClosed = errors.New("reactor: reactor closed")
	ErrTimeout       = errors.New("reactor: operation timed out")
)

// TimerCallback is called when a timer fires.
// The callback receives the event time and returns the next wake time.
// Return NEVER to park the timer.
type TimerCallback func(eventtime float64) float64

// Timer represents a registered timer.
type Timer struct {
	id        uint64
	callback  TimerCallback
	waketime  float64
	isRunning bool
	oneShot   bool
	mu        sync.Mutex
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waketime
}

// Completion represents an async operation that will complete with a result.
type Completion struct {
	reactor *Reactor
	result  interface{}
	done    chan struct{}
	once    sync.Once
}

// Test returns true if the completion has a result.
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Complete sets the completion result and wakes any waiters.
// Only the first call has an effect.
func (c *Completion) Complete(result interface{}) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

// Done returns a channel closed once the completion has a result.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the result, or nil if the completion is not done.
func (c *Completion) Result() interface{} {
	if !c.Test() {
		return nil
	}
	return c.result
}

// Wait blocks until the completion is done or the timeout expires.
// Returns the result or timeoutResult if the timeout expires.
func (c *Completion) Wait(timeout time.Duration, timeoutResult interface{}) interface{} {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.result
	case <-timer.C:
		return timeoutResult
	case <-c.reactor.ctx.Done():
		return timeoutResult
	}
}

// WaitUntil blocks until the completion is done or the reactor clock
// reaches waketime.
func (c *Completion) WaitUntil(waketime float64, waketimeResult interface{}) interface{} {
	if waketime >= NEVER {
		select {
		case <-c.done:
			return c.result
		case <-c.reactor.ctx.Done():
			return waketimeResult
		}
	}

	now := c.reactor.Monotonic()
	if waketime <= now {
		select {
		case <-c.done:
			return c.result
		default:
			return waketimeResult
		}
	}
	return c.Wait(time.Duration((waketime-now)*float64(time.Second)), waketimeResult)
}

// Mutex is a FIFO mutex used to serialize work such as G-code scripts
// arriving from several front ends.
type Mutex struct {
	mu       sync.Mutex
	isLocked bool
	waiters  []chan struct{}
}

// Lock acquires the mutex.
func (m *Mutex) Lock() {
	m.mu.Lock()
	if !m.isLocked {
		m.isLocked = true
		m.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	<-ch
}

// Unlock releases the mutex, handing it to the oldest waiter.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.waiters) > 0 {
		ch := m.waiters[0]
		m.waiters = m.waiters[1:]
		close(ch)
	} else {
		m.isLocked = false
	}
}

// Test returns true if the mutex is currently locked.
func (m *Mutex) Test() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLocked
}

// Reactor manages timers, callbacks, and event dispatch.
type Reactor struct {
	mu          sync.Mutex
	timers      []*Timer
	nextTimerID atomic.Uint64
	nextWake    float64

	asyncMu    sync.Mutex
	asyncQueue []func()
	wake       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	wg      sync.WaitGroup

	startTime time.Time
}

// New creates a new Reactor.
func New() *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		nextWake:  NEVER,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Monotonic returns the current monotonic time in seconds.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.startTime).Seconds()
}

// Context is cancelled when the reactor ends.
func (r *Reactor) Context() context.Context {
	return r.ctx
}

func (r *Reactor) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RegisterTimer registers a new timer with the given callback and wake time.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	timer := &Timer{
		id:       r.nextTimerID.Add(1),
		callback: callback,
		waketime: waketime,
	}
	r.addTimer(timer)
	return timer
}

func (r *Reactor) addTimer(timer *Timer) {
	waketime := timer.waketime
	r.mu.Lock()
	r.timers = append(r.timers, timer)
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.mu.Unlock()
	r.notify()
}

// UnregisterTimer removes a timer.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	timer.mu.Lock()
	timer.waketime = NEVER
	timer.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.timers {
		if t.id == timer.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
}

// UpdateTimer updates a timer's wake time. A running timer keeps the wake
// time its callback returns.
func (r *Reactor) UpdateTimer(timer *Timer, waketime float64) {
	timer.mu.Lock()
	if timer.isRunning {
		timer.mu.Unlock()
		return
	}
	timer.waketime = waketime
	timer.mu.Unlock()

	r.mu.Lock()
	if waketime < r.nextWake {
		r.nextWake = waketime
	}
	r.mu.Unlock()
	r.notify()
}

// Completion creates a new Completion object.
func (r *Reactor) Completion() *Completion {
	return &Completion{
		reactor: r,
		done:    make(chan struct{}),
	}
}

// RegisterCallback schedules a callback to run at the given time.
// Returns a Completion that will contain the callback's result.
func (r *Reactor) RegisterCallback(callback func(eventtime float64) interface{}, waketime float64) *Completion {
	completion := r.Completion()
	r.addTimer(&Timer{
		id:       r.nextTimerID.Add(1),
		callback: func(eventtime float64) float64 {
			completion.Complete(callback(eventtime))
			return NEVER
		},
		waketime: waketime,
		oneShot:  true,
	})
	return completion
}

// RegisterAsyncCallback schedules a callback from another goroutine.
// The callback runs on the dispatch goroutine.
func (r *Reactor) RegisterAsyncCallback(callback func(eventtime float64) interface{}, waketime float64) *Completion {
	completion := r.Completion()
	if r.ctx.Err() != nil {
		completion.Complete(ErrReactorClosed)
		return completion
	}

	r.asyncMu.Lock()
	r.asyncQueue = append(r.asyncQueue, func() {
		r.RegisterCallback(func(eventtime float64) interface{} {
			result := callback(eventtime)
			completion.Complete(result)
			return result
		}, waketime)
	})
	r.asyncMu.Unlock()

	r.notify()
	return completion
}

// NewMutex creates a new FIFO mutex.
func (r *Reactor) NewMutex(isLocked bool) *Mutex {
	return &Mutex{
		isLocked: isLocked,
	}
}

// Pause sleeps until the given wake time.
func (r *Reactor) Pause(waketime float64) float64 {
	now := r.Monotonic()
	if waketime <= now {
		return now
	}

	if waketime >= NEVER {
		<-r.ctx.Done()
		return r.Monotonic()
	}

	timer := time.NewTimer(time.Duration((waketime - now) * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.ctx.Done():
	}
	return r.Monotonic()
}

// Run starts the reactor's dispatch loop in a new goroutine.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}
	r.wg.Add(1)
	go r.dispatchLoop()
}

// End signals the reactor to stop.
func (r *Reactor) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait waits for the dispatch loop to exit.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

func (r *Reactor) dispatchLoop() {
	defer r.wg.Done()

	for r.running.Load() {
		r.processAsyncCallbacks()

		timeout := r.checkTimers(r.Monotonic())
		if timeout <= 0 {
			continue
		}
		delay := time.Duration(timeout * float64(time.Second))
		if delay > time.Second {
			delay = time.Second
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-r.wake:
		case <-r.ctx.Done():
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

func (r *Reactor) processAsyncCallbacks() {
	r.asyncMu.Lock()
	queue := r.asyncQueue
	r.asyncQueue = nil
	r.asyncMu.Unlock()

	for _, fn := range queue {
		fn()
	}
}

// checkTimers fires due timers and returns the delay until the next one.
func (r *Reactor) checkTimers(eventtime float64) float64 {
	r.mu.Lock()
	if eventtime < r.nextWake {
		delay := r.nextWake - eventtime
		r.mu.Unlock()
		return delay
	}
	timers := make([]*Timer, len(r.timers))
	copy(timers, r.timers)
	r.nextWake = NEVER
	r.mu.Unlock()

	nextWake := NEVER
	var finished []*Timer
	for _, timer := range timers {
		timer.mu.Lock()
		if eventtime >= timer.waketime {
			timer.waketime = NEVER
			timer.isRunning = true
			timer.mu.Unlock()

			newWaketime := timer.callback(eventtime)

			timer.mu.Lock()
			timer.isRunning = false
			if timer.oneShot {
				finished = append(finished, timer)
			} else if newWaketime < timer.waketime {
				timer.waketime = newWaketime
			}
		}
		if timer.waketime < nextWake {
			nextWake = timer.waketime
		}
		timer.mu.Unlock()
	}
	for _, timer := range finished {
		r.UnregisterTimer(timer)
	}

	r.mu.Lock()
	if nextWake < r.nextWake {
		r.nextWake = nextWake
	}
	delay := r.nextWake - eventtime
	r.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	return delay
}
