package engine

import (
	"sync"
	"time"
)

// Ticket is a unit of work waiting for, or holding, a limiter permit.
type Ticket struct {
	Task       Task
	EnqueuedAt time.Time
	AdmittedAt time.Time
	Seq        uint64 // admission order, starting at 1
}

// Limiter bounds the number of active jobs and holds a bounded FIFO of
// pending tickets. All state changes happen under one mutex; the start
// callback runs outside it.
type Limiter struct {
	mu       sync.Mutex
	max      int
	capacity int
	active   int
	pending  []Ticket
	seq      uint64
	start    func(Ticket)
	now      func() time.Time
}

// NewLimiter allows at most max concurrent tickets and capacity pending ones.
// start is called once for every admitted ticket.
func NewLimiter(max, capacity int, start func(Ticket)) *Limiter {
	if max < 1 {
		max = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Limiter{max: max, capacity: capacity, start: start, now: time.Now}
}

// TryAdmit takes a permit if one is free. The caller owns the permit and
// must Release it. No start callback is made.
func (l *Limiter) TryAdmit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active >= l.max {
		return false
	}
	l.active++
	l.seq++
	return true
}

// Enqueue parks t until a permit frees up. If a permit is already free the
// ticket is admitted at once. Returns ErrQueueFull when the queue is at
// capacity.
func (l *Limiter) Enqueue(t Ticket) error {
	_, err := l.Submit(t)
	return err
}

// Submit admits t immediately when a permit is free, otherwise enqueues it.
// queued reports which happened.
func (l *Limiter) Submit(t Ticket) (queued bool, err error) {
	admitted, err := l.Admit(t)
	if err != nil {
		return false, err
	}
	if admitted == nil {
		return true, nil
	}
	l.dispatch(*admitted)
	return false, nil
}

// Admit is Submit without the start callback for an immediate admission:
// the admitted ticket is returned and the caller starts it. A nil ticket
// with a nil error means t was enqueued and will be started by Release.
func (l *Limiter) Admit(t Ticket) (*Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active < l.max && len(l.pending) == 0 {
		t = l.admitLocked(t)
		return &t, nil
	}
	if len(l.pending) >= l.capacity {
		return nil, ErrQueueFull
	}
	t.EnqueuedAt = l.now()
	l.pending = append(l.pending, t)
	return nil, nil
}

// Release returns a permit. If tickets are waiting, the oldest one takes the
// permit and is started.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	var next *Ticket
	if len(l.pending) > 0 && l.active < l.max {
		t := l.pending[0]
		l.pending[0] = Ticket{}
		l.pending = l.pending[1:]
		t = l.admitLocked(t)
		next = &t
	}
	l.mu.Unlock()
	if next != nil {
		l.dispatch(*next)
	}
}

// HasRoom reports whether Submit would currently succeed.
func (l *Limiter) HasRoom() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active < l.max || len(l.pending) < l.capacity
}

// Active returns the number of held permits.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Depth returns the number of pending tickets.
func (l *Limiter) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Max returns the concurrency bound.
func (l *Limiter) Max() int { return l.max }

// Capacity returns the pending-queue bound.
func (l *Limiter) Capacity() int { return l.capacity }

func (l *Limiter) admitLocked(t Ticket) Ticket {
	l.active++
	l.seq++
	t.Seq = l.seq
	t.AdmittedAt = l.now()
	return t
}

func (l *Limiter) dispatch(t Ticket) {
	if l.start != nil {
		l.start(t)
	}
}
