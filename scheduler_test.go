package kissio

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsTasksInOrder(t *testing.T) {
	q := newScheduler(discardLogger())
	defer q.stop()

	var got []int
	for i := range 100 {
		q.post(func() { got = append(got, i) })
	}
	q.flush(t)

	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSchedulerNestedPostRunsAfterCurrentTask(t *testing.T) {
	q := newScheduler(discardLogger())
	defer q.stop()

	var got []string
	q.post(func() {
		q.post(func() { got = append(got, "nested") })
		got = append(got, "outer")
	})
	q.flush(t)

	assert.Equal(t, []string{"outer", "nested"}, got)
}

func TestSchedulerRecoversPanics(t *testing.T) {
	q := newScheduler(discardLogger())
	defer q.stop()

	ran := false
	q.post(func() { panic("boom") })
	q.post(func() { ran = true })
	q.flush(t)

	assert.True(t, ran)
}

func TestSchedulerRunsLateTasksAfterStop(t *testing.T) {
	q := newScheduler(discardLogger())
	q.stop()

	select {
	case <-q.done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not exit")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	q.post(wg.Done)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task posted after stop never ran")
	}
}
