package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"workwatch/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordSink struct {
	name string
	mu   sync.Mutex
	got  []model.Episode
}

func (s *recordSink) Name() string { return s.name }

func (s *recordSink) Deliver(_ context.Context, ep model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, ep)
	return nil
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type funcSink struct {
	name string
	fn   func(ctx context.Context, ep model.Episode) error
}

func (s funcSink) Name() string { return s.name }

func (s funcSink) Deliver(ctx context.Context, ep model.Episode) error { return s.fn(ctx, ep) }

type noticeRecorder struct {
	mu    sync.Mutex
	warns []string
}

func (n *noticeRecorder) Warn(component, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warns = append(n.warns, component+": "+message)
}

func (n *noticeRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.warns)
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestSyncSinksIsolated(t *testing.T) {
	notices := &noticeRecorder{}
	d := New(Options{Notices: notices})
	first := &recordSink{name: "log"}
	last := &recordSink{name: "prompt"}
	d.Register(first, Sync)
	d.Register(funcSink{name: "panicky", fn: func(context.Context, model.Episode) error { panic("boom") }}, Sync)
	d.Register(funcSink{name: "broken", fn: func(context.Context, model.Episode) error { return errors.New("disk full") }}, Sync)
	d.Register(last, Sync)

	assert.NotPanics(t, func() { d.Dispatch(model.Episode{ID: "1", Condition: "phone"}) })
	closeDispatcher(t, d)

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, last.count())
	assert.Equal(t, 2, notices.count())
	assert.Equal(t, []string{"log", "panicky", "broken", "prompt"}, d.Sinks())
}

func TestFailingRemoteSinkDoesNotAffectOthers(t *testing.T) {
	notices := &noticeRecorder{}
	d := New(Options{Workers: 2, QueueSize: 16, Notices: notices})
	persist := &recordSink{name: "log"}
	sound := &recordSink{name: "sound"}
	prompt := &recordSink{name: "prompt"}
	var remoteCalls sync.WaitGroup
	remoteCalls.Add(5)
	remote := funcSink{name: "telegram", fn: func(context.Context, model.Episode) error {
		defer remoteCalls.Done()
		return errors.New("network unreachable")
	}}
	d.Register(persist, Sync)
	d.Register(sound, Sync)
	d.Register(prompt, Sync)
	d.Register(remote, Async)

	for i := 0; i < 5; i++ {
		d.Dispatch(model.Episode{ID: string(rune('a' + i)), Condition: "food"})
	}
	remoteCalls.Wait()
	closeDispatcher(t, d)

	assert.Equal(t, 5, persist.count())
	assert.Equal(t, 5, sound.count())
	assert.Equal(t, 5, prompt.count())
	assert.Equal(t, 5, notices.count())
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	notices := &noticeRecorder{}
	d := New(Options{Workers: 1, QueueSize: 1, Notices: notices})
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	slow := funcSink{name: "mqtt", fn: func(context.Context, model.Episode) error {
		started <- struct{}{}
		<-release
		return nil
	}}
	d.Register(slow, Async)

	d.Dispatch(model.Episode{ID: "1"})
	<-started
	d.Dispatch(model.Episode{ID: "2"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(model.Episode{ID: "3"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on a full queue")
	}
	assert.Equal(t, 1, notices.count())
	assert.Contains(t, notices.warns[0], ErrQueueFull.Error())

	close(release)
	closeDispatcher(t, d)
}

func TestCloseWaitsWithoutCancelling(t *testing.T) {
	d := New(Options{Workers: 1, Timeout: 5 * time.Second})
	var ctxErr error
	finished := false
	var mu sync.Mutex
	started := make(chan struct{})
	d.Register(funcSink{name: "kafka", fn: func(ctx context.Context, _ model.Episode) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		ctxErr = ctx.Err()
		finished = true
		mu.Unlock()
		return nil
	}}, Async)

	d.Dispatch(model.Episode{ID: "1"})
	<-started
	closeDispatcher(t, d)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished)
	assert.NoError(t, ctxErr)
}

func TestCloseHonoursDeadline(t *testing.T) {
	d := New(Options{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	d.Register(funcSink{name: "slow", fn: func(context.Context, model.Episode) error {
		close(started)
		<-release
		return nil
	}}, Async)
	d.Dispatch(model.Episode{ID: "1"})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	d.wg.Wait()
}

func TestDispatchAfterCloseIsSafe(t *testing.T) {
	notices := &noticeRecorder{}
	d := New(Options{Notices: notices})
	persist := &recordSink{name: "log"}
	d.Register(persist, Sync)
	d.Register(&recordSink{name: "remote"}, Async)
	closeDispatcher(t, d)

	assert.NotPanics(t, func() { d.Dispatch(model.Episode{ID: "late"}) })
	assert.Equal(t, 1, persist.count())
	assert.Equal(t, 1, notices.count())
	assert.NoError(t, d.Close(context.Background()))
}

func TestAsyncTimeoutIsPerJob(t *testing.T) {
	d := New(Options{Workers: 1, Timeout: 30 * time.Millisecond})
	errs := make(chan error, 1)
	d.Register(funcSink{name: "http", fn: func(ctx context.Context, _ model.Episode) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}}, Async)
	d.Dispatch(model.Episode{ID: "1"})
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job timeout not applied")
	}
	closeDispatcher(t, d)
}
