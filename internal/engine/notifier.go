package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventKind distinguishes watch events.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventTimeout   EventKind = "timeout"
)

// Terminal reports whether no events follow e.
func (k EventKind) Terminal() bool { return k != EventProgress }

// Event is one observation of a watched job. Job is nil only for a timeout
// on a job that was never seen.
type Event struct {
	Kind EventKind
	Job  *Job
}

// Notifier turns registry polling into a rate-limited event stream.
type Notifier struct {
	reg      Registry
	interval time.Duration
	timeout  time.Duration
	step     int
}

// NewNotifier polls reg every interval and gives up after timeout. Progress
// events are emitted when progress advances by more than step points or
// the status changes.
func NewNotifier(reg Registry, interval, timeout time.Duration, step int) *Notifier {
	return &Notifier{reg: reg, interval: interval, timeout: timeout, step: step}
}

// Watch streams events for id until a terminal event, the watch timeout or
// ctx cancellation. The channel is closed afterwards. Cancelling ctx only
// stops observation; the job keeps running. A reader that stops draining
// loses progress events but never stalls the watch, which still ends at the
// terminal event or the timeout.
func (n *Notifier) Watch(ctx context.Context, id string) <-chan Event {
	out := make(chan Event, 4)
	go n.run(ctx, id, out)
	return out
}

// Wait blocks until id reaches a terminal event and returns it.
func (n *Notifier) Wait(ctx context.Context, id string) Event {
	var last Event
	for ev := range n.Watch(ctx, id) {
		last = ev
	}
	if last.Kind == "" || last.Kind == EventProgress {
		last.Kind = EventTimeout
	}
	return last
}

func (n *Notifier) run(ctx context.Context, id string, out chan<- Event) {
	defer close(out)

	deadline := time.NewTimer(n.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	lastProgress := 0
	lastStatus := StatusQueued
	var seen *Job

	// The last buffer slot is kept for the single terminal event, so
	// neither send can block.
	progress := func(ev Event) bool {
		if len(out) >= cap(out)-1 {
			return false
		}
		out <- ev
		return true
	}
	emit := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			metrics.WatchTimeouts.Add(1)
			emit(Event{Kind: EventTimeout, Job: seen})
			return
		case <-ticker.C:
		}

		j, err := n.reg.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// not created yet or expired; keep polling until the deadline
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("notifier: poll failed", slog.String("job_id", id), slog.Any("error", err))
			continue
		}
		seen = j

		switch j.Status {
		case StatusCompleted:
			emit(Event{Kind: EventCompleted, Job: j})
			return
		case StatusError:
			emit(Event{Kind: EventFailed, Job: j})
			return
		}

		if j.Progress > lastProgress+n.step || j.Status != lastStatus {
			if progress(Event{Kind: EventProgress, Job: j}) {
				lastProgress = j.Progress
				lastStatus = j.Status
			}
		}
	}
}
