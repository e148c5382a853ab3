package task_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopeworks/stope/internal/task"
	"github.com/stopeworks/stope/internal/topics"
)

// Polling bounds for observing the asynchronous receiver.
const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestEngine(t *testing.T) *task.Engine {
	t.Helper()

	e := task.NewEngine(task.Options{Workers: 2})
	t.Cleanup(e.Close)

	return e
}

func waitStatus(t *testing.T, e *task.Engine, id string, want task.Status) *task.Record {
	t.Helper()

	var rec *task.Record

	require.Eventually(t, func() bool {
		got, ok := e.Get(id)
		if ok && got.Status == want {
			rec = got

			return true
		}

		return false
	}, waitFor, tick, "task %s never reached %s", id, want)

	return rec
}

func TestEngine_SuccessLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	id := task.ID("reviews", task.KindTopics, "review")

	err := e.Submit(context.Background(), id, func(ctx context.Context, p *task.Proxy) error {
		p.LogPending("working")
		p.Success(task.TopicsData(&topics.Result{ProjectID: "reviews", Column: "review"}))

		return nil
	}, task.PolicyIgnore)
	require.NoError(t, err)

	rec := waitStatus(t, e, id, task.StatusSuccess)

	require.NotNil(t, rec.Data)
	assert.Equal(t, task.DataTopics, rec.Data.Kind)

	// Logs are observed in append order: submitted, started, working, done.
	var messages []string
	for _, l := range rec.Logs {
		messages = append(messages, l.Message)
	}

	assert.Equal(t, []string{"submitted", "started", "working", "completed"}, messages)
}

func TestEngine_ErrorMapsToFailed(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	id := task.ID("reviews", task.KindTopics, "review")

	boom := errors.New("stage exploded")

	require.NoError(t, e.Submit(context.Background(), id, func(context.Context, *task.Proxy) error {
		return boom
	}, task.PolicyIgnore))

	rec := waitStatus(t, e, id, task.StatusFailed)
	assert.Equal(t, "stage exploded", rec.Logs[len(rec.Logs)-1].Message)
}

func TestEngine_IgnorePolicyKeepsRunningTask(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	id := task.ID("reviews", task.KindTopics, "review")

	release := make(chan struct{})
	var runs atomic.Int32

	job := func(context.Context, *task.Proxy) error {
		runs.Add(1)
		<-release

		return nil
	}

	require.NoError(t, e.Submit(context.Background(), id, job, task.PolicyIgnore))
	waitStatus(t, e, id, task.StatusPending)

	// The duplicate submission is dropped silently.
	require.NoError(t, e.Submit(context.Background(), id, job, task.PolicyIgnore))

	close(release)
	waitStatus(t, e, id, task.StatusPending)

	assert.Equal(t, int32(1), runs.Load())
}

func TestEngine_CancelPolicyReplacesAndDropsLateUpdates(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	id := task.ID("reviews", task.KindTopics, "review")

	firstStarted := make(chan struct{})
	firstRelease := make(chan struct{})

	first := func(_ context.Context, p *task.Proxy) error {
		close(firstStarted)
		<-firstRelease

		// Late updates from the replaced submission must not reach the
		// new record.
		p.LogError("stale update")

		return p.CheckStop()
	}

	require.NoError(t, e.Submit(context.Background(), id, first, task.PolicyIgnore))
	<-firstStarted

	second := func(_ context.Context, p *task.Proxy) error {
		p.Success(nil)

		return nil
	}

	require.NoError(t, e.Submit(context.Background(), id, second, task.PolicyCancel))

	waitStatus(t, e, id, task.StatusSuccess)

	close(firstRelease)

	// The first job unblocks, observes its token, and its updates are
	// dropped: the record stays Success with no stale log entry.
	time.Sleep(50 * time.Millisecond)

	rec, ok := e.Get(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusSuccess, rec.Status)

	for _, l := range rec.Logs {
		assert.NotEqual(t, "stale update", l.Message)
	}
}

func TestEngine_QueuePolicyIsReserved(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	id := task.ID("reviews", task.KindTopics, "review")

	release := make(chan struct{})
	defer close(release)

	require.NoError(t, e.Submit(context.Background(), id, func(context.Context, *task.Proxy) error {
		<-release

		return nil
	}, task.PolicyIgnore))
	waitStatus(t, e, id, task.StatusPending)

	err := e.Submit(context.Background(), id, func(context.Context, *task.Proxy) error {
		return nil
	}, task.PolicyQueue)
	require.ErrorIs(t, err, task.ErrQueuePolicyReserved)
}

func TestEngine_CancellationViaCheckStop(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	id := task.ID("reviews", task.KindExperiment, "review")

	started := make(chan struct{})

	require.NoError(t, e.Submit(context.Background(), id, func(_ context.Context, p *task.Proxy) error {
		close(started)

		for {
			if err := p.CheckStop(); err != nil {
				return err
			}

			time.Sleep(tick)
		}
	}, task.PolicyIgnore))

	<-started
	e.Invalidate(id, false)

	rec := waitStatus(t, e, id, task.StatusFailed)
	assert.Equal(t, "cancelled", rec.Logs[len(rec.Logs)-1].Message)
}

func TestEngine_InvalidateClearDropsRecord(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	idA := task.ID("reviews", task.KindTopics, "review")
	idB := task.ID("other", task.KindTopics, "body")

	done := func(_ context.Context, p *task.Proxy) error {
		p.Success(nil)

		return nil
	}

	require.NoError(t, e.Submit(context.Background(), idA, done, task.PolicyIgnore))
	require.NoError(t, e.Submit(context.Background(), idB, done, task.PolicyIgnore))

	waitStatus(t, e, idA, task.StatusSuccess)
	waitStatus(t, e, idB, task.StatusSuccess)

	e.InvalidatePrefix(task.ProjectPrefix("reviews"), true)

	_, ok := e.Get(idA)
	assert.False(t, ok)

	_, ok = e.Get(idB)
	assert.True(t, ok)

	assert.Len(t, e.List(), 1)
}

func TestEngine_BoundedPool(t *testing.T) {
	t.Parallel()

	e := task.NewEngine(task.Options{Workers: 1})
	t.Cleanup(e.Close)

	running := make(chan string, 2)
	release := make(chan struct{})

	job := func(_ context.Context, p *task.Proxy) error {
		running <- p.ID()
		<-release

		return nil
	}

	require.NoError(t, e.Submit(context.Background(), "a", job, task.PolicyIgnore))
	require.NoError(t, e.Submit(context.Background(), "b", job, task.PolicyIgnore))

	first := <-running

	// The second job waits for the single worker slot.
	select {
	case second := <-running:
		t.Fatalf("job %s ran concurrently with %s on a one-worker pool", second, first)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	<-running
	waitStatus(t, e, "a", task.StatusPending)
	waitStatus(t, e, "b", task.StatusPending)
}

func TestEngine_ClosedRejectsSubmissions(t *testing.T) {
	t.Parallel()

	e := task.NewEngine(task.Options{})
	e.Close()

	err := e.Submit(context.Background(), "x", func(context.Context, *task.Proxy) error {
		return nil
	}, task.PolicyIgnore)
	require.ErrorIs(t, err, task.ErrEngineClosed)
}
