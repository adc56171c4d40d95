package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/reactiverpc/internal/cell"
	"github.com/stretchr/testify/require"
)

func waitForStatus[O any](t *testing.T, d *Dispatcher[string, O], status Status, timeout time.Duration) State[O] {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s := d.StateCell().Value()
		if s.Status == status {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %v, last state %+v", status, d.StateCell().Value())
	return State[O]{}
}

func TestDispatcherCommitsOnSuccess(t *testing.T) {
	in := cell.New("a")
	d := New(in, func(ctx context.Context, v string, progress func(float64), c *Controller) (string, error) {
		return v + "-result", nil
	}, 0)

	s := waitForStatus[string](t, d, StatusOk, time.Second)
	require.Equal(t, "a-result", s.Data)
}

func TestDispatcherRaisesOnError(t *testing.T) {
	in := cell.New("a")
	boom := fmt.Errorf("boom")
	d := New(in, func(ctx context.Context, v string, progress func(float64), c *Controller) (string, error) {
		return "", boom
	}, 0)

	s := waitForStatus[string](t, d, StatusError, time.Second)
	require.ErrorIs(t, s.Err, boom)
}

func TestDispatcherCoalescesBurstOfWrites(t *testing.T) {
	in := cell.New("")
	var invocations atomic.Int64
	d := New(in, func(ctx context.Context, v string, progress func(float64), c *Controller) (string, error) {
		invocations.Add(1)
		return v, nil
	}, 50*time.Millisecond)

	in.Set("a")
	in.Set("ab")
	in.Set("abc")

	s := waitForStatus[string](t, d, StatusOk, time.Second)
	require.Equal(t, "abc", s.Data)
	require.Equal(t, int64(1), invocations.Load())
}

func TestDispatcherCancelsSupersededDispatch(t *testing.T) {
	in := cell.New("")
	called := make(chan string, 10)
	d := New(in, func(ctx context.Context, v string, progress func(float64), c *Controller) (string, error) {
		called <- v
		return v, nil
	}, 100*time.Millisecond)

	in.Set("slow")
	time.Sleep(10 * time.Millisecond)
	in.Set("fast")

	s := waitForStatus[string](t, d, StatusOk, time.Second)
	require.Equal(t, "fast", s.Data)

	close(called)
	var seen []string
	for v := range called {
		seen = append(seen, v)
	}
	require.Equal(t, []string{"fast"}, seen, "the superseded 'slow' run must never invoke f")
}

func TestDispatcherProgressReporting(t *testing.T) {
	in := cell.New("go")
	release := make(chan struct{})
	d := New(in, func(ctx context.Context, v string, progress func(float64), c *Controller) (string, error) {
		progress(0.5)
		<-release
		return v, nil
	}, 0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s := d.StateCell().Value()
		if s.Status == StatusLoading && s.Progress == 0.5 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, StatusLoading, d.StateCell().Value().Status)
	require.Equal(t, 0.5, d.StateCell().Value().Progress)

	close(release)
	waitForStatus[string](t, d, StatusOk, time.Second)
}

func TestDispatcherAbortedRunNeverPublishesAfterNewerDispatch(t *testing.T) {
	in := cell.New("first")
	release := make(chan struct{})
	publishedAfterAbort := make(chan State[string], 10)

	d := New(in, func(ctx context.Context, v string, progress func(float64), c *Controller) (string, error) {
		if v == "first" {
			<-release
			// By the time we wake up, a newer dispatch should have begun and
			// aborted this controller; this commit must be silently dropped.
			return "first-result", nil
		}
		return v, nil
	}, 0)

	time.Sleep(10 * time.Millisecond)
	in.Set("second")
	waitForStatus[string](t, d, StatusOk, time.Second)

	d.StateCell().Subscribe(func(s State[string]) { publishedAfterAbort <- s })
	close(release)
	time.Sleep(50 * time.Millisecond)

	final := d.StateCell().Value()
	require.Equal(t, "second", final.Data, "the aborted 'first' run must not clobber the newer result")
}
