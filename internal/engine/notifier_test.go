package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestNotifierCompleted(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)
	j, _ := reg.Create(ctx, testSpec)
	n := NewNotifier(reg, 5*time.Millisecond, time.Second, 5)

	events := n.Watch(ctx, j.ID)
	go func() {
		time.Sleep(20 * time.Millisecond)
		reg.Update(ctx, j.ID, JobUpdate{Status: StatusDownloading, Progress: 50})
		time.Sleep(20 * time.Millisecond)
		reg.Update(ctx, j.ID, JobUpdate{Status: StatusCompleted, Result: &Result{BlobKey: "k"}})
	}()

	got := collect(events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, EventCompleted, last.Kind)
	require.NotNil(t, last.Job.Result)
	assert.Equal(t, "k", last.Job.Result.BlobKey)
	for _, ev := range got[:len(got)-1] {
		assert.Equal(t, EventProgress, ev.Kind)
	}
}

func TestNotifierProgressThreshold(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)
	j, _ := reg.Create(ctx, testSpec)
	reg.Update(ctx, j.ID, JobUpdate{Status: StatusDownloading, Progress: 1})
	n := NewNotifier(reg, 5*time.Millisecond, time.Second, 5)

	events := n.Watch(ctx, j.ID)
	first := <-events
	assert.Equal(t, EventProgress, first.Kind, "status change emits")
	assert.Equal(t, 1, first.Job.Progress)

	// +4 is below the step; +10 over the last emitted value passes it.
	reg.Update(ctx, j.ID, JobUpdate{Progress: 5})
	time.Sleep(30 * time.Millisecond)
	reg.Update(ctx, j.ID, JobUpdate{Progress: 11})
	second := <-events
	assert.Equal(t, 11, second.Job.Progress)

	reg.Update(ctx, j.ID, JobUpdate{Status: StatusError, Error: "boom"})
	rest := collect(events)
	require.Len(t, rest, 1)
	assert.Equal(t, EventFailed, rest[0].Kind)
	assert.Equal(t, "boom", rest[0].Job.Error)
}

func TestNotifierTimeout(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)
	j, _ := reg.Create(ctx, testSpec)
	n := NewNotifier(reg, 5*time.Millisecond, 40*time.Millisecond, 5)

	ev := n.Wait(ctx, j.ID)
	assert.Equal(t, EventTimeout, ev.Kind)

	// The job itself is untouched by the watcher giving up.
	got, err := reg.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestNotifierUnknownJobTimesOut(t *testing.T) {
	reg := NewMemoryRegistry(time.Hour)
	n := NewNotifier(reg, 5*time.Millisecond, 30*time.Millisecond, 5)
	ev := n.Wait(context.Background(), "nope")
	assert.Equal(t, EventTimeout, ev.Kind)
	assert.Nil(t, ev.Job)
}

func TestNotifierCancel(t *testing.T) {
	reg := NewMemoryRegistry(time.Hour)
	j, _ := reg.Create(context.Background(), testSpec)
	n := NewNotifier(reg, 5*time.Millisecond, time.Minute, 5)

	ctx, cancel := context.WithCancel(context.Background())
	events := n.Watch(ctx, j.ID)
	cancel()
	select {
	case _, ok := <-events:
		for ok {
			_, ok = <-events
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestNotifierUndrainedWatchStillEnds(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(time.Hour)
	j, _ := reg.Create(ctx, testSpec)
	n := NewNotifier(reg, 2*time.Millisecond, time.Second, 1)

	events := n.Watch(ctx, j.ID)
	reg.Update(ctx, j.ID, JobUpdate{Status: StatusDownloading})
	for p := 10; p <= 90; p += 10 {
		time.Sleep(10 * time.Millisecond)
		reg.Update(ctx, j.ID, JobUpdate{Progress: p})
	}
	reg.Update(ctx, j.ID, JobUpdate{Status: StatusCompleted, Result: &Result{BlobKey: "k"}})
	time.Sleep(50 * time.Millisecond)

	// Nothing has read the channel yet; the watch must have finished anyway.
	buffered := len(events)
	require.Positive(t, buffered)
	var last Event
	for range buffered {
		last = <-events
	}
	assert.Equal(t, EventCompleted, last.Kind)
	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel must be closed")
	case <-time.After(time.Second):
		t.Fatal("watch goroutine still running")
	}
}
