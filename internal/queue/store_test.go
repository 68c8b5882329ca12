package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cadence/internal/queue"
	"cadence/internal/testsupport"
)

func enqueue(t *testing.T, store *queue.Store, taskType queue.TaskType, priority int) *queue.Task {
	t.Helper()
	task, err := store.Enqueue(context.Background(), queue.EnqueueRequest{
		Type:     taskType,
		Priority: priority,
		Owner:    queue.Owner{User: "tester", Project: "p1"},
		Metadata: queue.Metadata{ScheduleID: 7, Keywords: []string{"travel"}},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return task
}

func TestEnqueueStoresWaitingTask(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))

	task := enqueue(t, store, queue.TaskImage, 5)
	if task.Status != queue.StatusWaiting {
		t.Fatalf("expected waiting, got %s", task.Status)
	}
	if task.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", task.MaxRetries)
	}
	if task.Metadata.ScheduleID != 7 || len(task.Metadata.Keywords) != 1 {
		t.Fatalf("unexpected metadata: %#v", task.Metadata)
	}
	if task.Owner.User != "tester" {
		t.Fatalf("unexpected owner: %#v", task.Owner)
	}
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	_, err := store.Enqueue(context.Background(), queue.EnqueueRequest{Type: "audio"})
	if !errors.Is(err, queue.ErrUnknownTaskType) {
		t.Fatalf("expected ErrUnknownTaskType, got %v", err)
	}
}

func TestDequeueServesPriorityThenCreationOrder(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	low := enqueue(t, store, queue.TaskScript, 1)
	highOld := enqueue(t, store, queue.TaskScript, 9)
	highNew := enqueue(t, store, queue.TaskScript, 9)

	for _, want := range []*queue.Task{highOld, highNew, low} {
		got, err := store.Dequeue(ctx, queue.TaskScript)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got == nil || got.ID != want.ID {
			t.Fatalf("expected task %d, got %#v", want.ID, got)
		}
		if got.Status != queue.StatusProcessing || got.StartedAt == nil {
			t.Fatalf("expected processing with start time, got %#v", got)
		}
		if err := store.Complete(ctx, got.ID); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
	}

	none, err := store.Dequeue(ctx, queue.TaskScript)
	if err != nil {
		t.Fatalf("Dequeue on empty queue failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nothing available, got %#v", none)
	}
}

func TestDequeueReturnsNothingWhileLockHeld(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := enqueue(t, store, queue.TaskVideo, 0)
	enqueue(t, store, queue.TaskVideo, 0)

	got, err := store.Dequeue(ctx, queue.TaskVideo)
	if err != nil || got == nil || got.ID != first.ID {
		t.Fatalf("expected first task, got %#v err=%v", got, err)
	}
	again, err := store.Dequeue(ctx, queue.TaskVideo)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if again != nil {
		t.Fatalf("expected lock to block dequeue, got task %d", again.ID)
	}

	other := enqueue(t, store, queue.TaskScript, 0)
	script, err := store.Dequeue(ctx, queue.TaskScript)
	if err != nil || script == nil || script.ID != other.ID {
		t.Fatalf("expected independent script lock, got %#v err=%v", script, err)
	}
}

func TestConcurrentDequeueAdmitsOneTaskPerType(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		enqueue(t, store, queue.TaskImage, i%2)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []*queue.Task
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := store.Dequeue(ctx, queue.TaskImage)
			if err != nil {
				t.Errorf("Dequeue failed: %v", err)
				return
			}
			if task != nil {
				mu.Lock()
				claimed = append(claimed, task)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 1 {
		t.Fatalf("expected exactly one admitted task, got %d", len(claimed))
	}
	processing, err := store.List(ctx, queue.Filter{Type: queue.TaskImage, Status: queue.StatusProcessing})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(processing) != 1 {
		t.Fatalf("expected one processing task, got %d", len(processing))
	}
}

func TestFinishOnlyReleasesLockForHolder(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	enqueue(t, store, queue.TaskScript, 0)
	enqueue(t, store, queue.TaskScript, 0)

	first, err := store.Dequeue(ctx, queue.TaskScript)
	if err != nil || first == nil {
		t.Fatalf("first dequeue: %#v %v", first, err)
	}
	if err := store.Complete(ctx, first.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	second, err := store.Dequeue(ctx, queue.TaskScript)
	if err != nil || second == nil {
		t.Fatalf("second dequeue: %#v %v", second, err)
	}

	// A stale duplicate completion from the first task must not free the lock.
	if err := store.Fail(ctx, first.ID, "duplicate report"); !errors.Is(err, queue.ErrNotProcessing) {
		t.Fatalf("expected ErrNotProcessing for stale Fail, got %v", err)
	}
	if got, _ := store.Get(ctx, first.ID); got.Status != queue.StatusCompleted {
		t.Fatalf("stale Fail must not overwrite completed, got %s", got.Status)
	}
	lock, err := store.Lock(ctx, queue.TaskScript)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if lock.TaskID != second.ID {
		t.Fatalf("expected lock held by %d, got %d", second.ID, lock.TaskID)
	}
}

func TestCancelOnlyWhileWaiting(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	running := enqueue(t, store, queue.TaskImage, 5)
	waiting := enqueue(t, store, queue.TaskImage, 0)
	if _, err := store.Dequeue(ctx, queue.TaskImage); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	if err := store.Cancel(ctx, waiting.ID); err != nil {
		t.Fatalf("Cancel waiting failed: %v", err)
	}
	cancelled, err := store.Get(ctx, waiting.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cancelled.Status != queue.StatusFailed || cancelled.ErrorMessage != queue.CancelReason {
		t.Fatalf("unexpected cancelled task: %#v", cancelled)
	}

	if err := store.Cancel(ctx, running.ID); !errors.Is(err, queue.ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
	if err := store.Cancel(ctx, 9999); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	lock, err := store.Lock(ctx, queue.TaskImage)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if lock.TaskID != running.ID {
		t.Fatalf("cancel must not touch the lock, holder=%d", lock.TaskID)
	}
}

func TestPosition(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	a := enqueue(t, store, queue.TaskVideo, 1)
	b := enqueue(t, store, queue.TaskVideo, 5)
	c := enqueue(t, store, queue.TaskVideo, 1)
	enqueue(t, store, queue.TaskScript, 10)

	cases := []struct {
		name string
		id   int64
		want int
	}{
		{name: "highest priority first", id: b.ID, want: 0},
		{name: "older same priority", id: a.ID, want: 1},
		{name: "newer same priority", id: c.ID, want: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos, ok, err := store.Position(ctx, tc.id)
			if err != nil || !ok {
				t.Fatalf("Position failed: ok=%v err=%v", ok, err)
			}
			if pos != tc.want {
				t.Fatalf("expected position %d, got %d", tc.want, pos)
			}
		})
	}

	if _, err := store.Dequeue(ctx, queue.TaskVideo); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if _, ok, err := store.Position(ctx, b.ID); err != nil || ok {
		t.Fatalf("expected processing task to have no position, ok=%v err=%v", ok, err)
	}
}

func TestAppendLogAccumulatesLines(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	task := enqueue(t, store, queue.TaskImage, 0)
	store.AppendLog(ctx, task.ID, "crawl started")
	store.AppendLog(ctx, task.ID, "found 4 assets")
	store.AppendLog(ctx, 9999, "ignored")

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Logs) != 2 || got.Logs[1].Message != "found 4 assets" {
		t.Fatalf("unexpected logs: %#v", got.Logs)
	}
}

func TestHealthCheckFlagsStaleProcessingWithoutChangingIt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDatabase(t, cfg)
	store := queue.New(db, nil)
	ctx := context.Background()

	task := enqueue(t, store, queue.TaskScript, 0)
	if _, err := store.Dequeue(ctx, queue.TaskScript); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	report, err := store.HealthCheck(ctx, time.Hour)
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if !report.Healthy() {
		t.Fatalf("expected fresh task to be healthy, got %d stuck", len(report.Stuck))
	}

	if _, err := db.Exec(ctx, `UPDATE queue_tasks SET started_at = ? WHERE id = ?`,
		time.Now().Add(-20*time.Minute).UTC().Format("2006-01-02T15:04:05.000000Z"), task.ID); err != nil {
		t.Fatalf("backdate task: %v", err)
	}
	report, err = store.HealthCheck(ctx, 0)
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if len(report.Stuck) != 1 || report.Stuck[0].ID != task.ID {
		t.Fatalf("expected task %d flagged, got %#v", task.ID, report.Stuck)
	}
	after, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if after.Status != queue.StatusProcessing {
		t.Fatalf("health check must not change status, got %s", after.Status)
	}
}

func TestCleanupRemovesOnlyOldTerminalTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDatabase(t, cfg)
	store := queue.New(db, nil)
	ctx := context.Background()

	old := enqueue(t, store, queue.TaskScript, 0)
	recent := enqueue(t, store, queue.TaskImage, 0)
	waiting := enqueue(t, store, queue.TaskVideo, 0)
	for _, task := range []*queue.Task{old, recent} {
		if _, err := store.Dequeue(ctx, task.Type); err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if err := store.Finish(ctx, task.ID, queue.StatusCompleted, ""); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
	}
	if _, err := db.Exec(ctx, `UPDATE queue_tasks SET completed_at = ?, created_at = ? WHERE id IN (?, ?)`,
		"2020-01-01T00:00:00.000000Z", "2020-01-01T00:00:00.000000Z", old.ID, waiting.ID); err != nil {
		t.Fatalf("backdate tasks: %v", err)
	}

	removed, err := store.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.Get(ctx, old.ID); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected old task removed, got %v", err)
	}
	for _, id := range []int64{recent.ID, waiting.ID} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Fatalf("expected task %d kept: %v", id, err)
		}
	}
}

func TestRequeueRespectsRetryBudget(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	task, err := store.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskImage, MaxRetries: 1})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := store.Dequeue(ctx, queue.TaskImage); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if err := store.Fail(ctx, task.ID, "crawler offline"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	requeued, err := store.Requeue(ctx, task.ID)
	if err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if requeued.Status != queue.StatusWaiting || requeued.RetryCount != 1 {
		t.Fatalf("unexpected requeued task: %#v", requeued)
	}

	if _, err := store.Dequeue(ctx, queue.TaskImage); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if err := store.Fail(ctx, task.ID, "crawler offline"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if _, err := store.Requeue(ctx, task.ID); !errors.Is(err, queue.ErrNotRequeueable) {
		t.Fatalf("expected ErrNotRequeueable, got %v", err)
	}
}

func TestForceReleaseFailsHolder(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	task := enqueue(t, store, queue.TaskVideo, 0)
	if _, err := store.Dequeue(ctx, queue.TaskVideo); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	released, err := store.ForceRelease(ctx, queue.TaskVideo)
	if err != nil || !released {
		t.Fatalf("ForceRelease: released=%v err=%v", released, err)
	}
	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected holder failed, got %s", got.Status)
	}
	released, err = store.ForceRelease(ctx, queue.TaskVideo)
	if err != nil || released {
		t.Fatalf("expected no-op release, released=%v err=%v", released, err)
	}
}

func TestFinishRequiresProcessing(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	released := enqueue(t, store, queue.TaskVideo, 0)
	waiting := enqueue(t, store, queue.TaskImage, 0)
	if _, err := store.Dequeue(ctx, queue.TaskVideo); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if _, err := store.ForceRelease(ctx, queue.TaskVideo); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}

	// The handler of a force-released task reporting success late.
	if err := store.Complete(ctx, released.ID); !errors.Is(err, queue.ErrNotProcessing) {
		t.Fatalf("expected ErrNotProcessing after force release, got %v", err)
	}
	got, err := store.Get(ctx, released.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != queue.StatusFailed || got.ErrorMessage != queue.ForceReleaseReason {
		t.Fatalf("force-released task must stay failed, got %s %q", got.Status, got.ErrorMessage)
	}

	if err := store.Complete(ctx, waiting.ID); !errors.Is(err, queue.ErrNotProcessing) {
		t.Fatalf("expected ErrNotProcessing for waiting task, got %v", err)
	}
	if got, _ := store.Get(ctx, waiting.ID); got.Status != queue.StatusWaiting {
		t.Fatalf("waiting task must stay waiting, got %s", got.Status)
	}
	if err := store.Complete(ctx, 9999); !errors.Is(err, queue.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSummaryAndWaitingForSchedule(t *testing.T) {
	store := testsupport.MustOpenQueue(t, testsupport.NewConfig(t))
	ctx := context.Background()

	enqueue(t, store, queue.TaskImage, 0)
	enqueue(t, store, queue.TaskImage, 0)
	enqueue(t, store, queue.TaskScript, 0)
	if _, err := store.Dequeue(ctx, queue.TaskImage); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Count(queue.TaskImage, queue.StatusWaiting) != 1 ||
		summary.Count(queue.TaskImage, queue.StatusProcessing) != 1 ||
		summary.Count(queue.TaskScript, queue.StatusWaiting) != 1 {
		t.Fatalf("unexpected summary: %#v", summary)
	}

	waiting, err := store.WaitingForSchedule(ctx, 7)
	if err != nil {
		t.Fatalf("WaitingForSchedule failed: %v", err)
	}
	if len(waiting) != 2 {
		t.Fatalf("expected 2 waiting tasks for schedule 7, got %d", len(waiting))
	}
}
