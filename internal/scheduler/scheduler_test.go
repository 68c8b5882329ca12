package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cadence/internal/catalog"
	"cadence/internal/config"
	"cadence/internal/database"
	"cadence/internal/logging"
	"cadence/internal/pipeline"
	"cadence/internal/queue"
	"cadence/internal/scheduler"
	"cadence/internal/services"
	"cadence/internal/testsupport"
)

type fixture struct {
	cfg      *config.Config
	catalog  *catalog.Store
	queue    *queue.Store
	studio   *testsupport.StubStudio
	notifier *testsupport.RecordingNotifier
	exec     *pipeline.Executor
	sched    *scheduler.Scheduler
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cat, q := testsupport.MustOpenStores(t, cfg)
	f := &fixture{
		cfg:      cfg,
		catalog:  cat,
		queue:    q,
		studio:   testsupport.NewStubStudio(),
		notifier: &testsupport.RecordingNotifier{},
	}
	f.exec = pipeline.NewExecutor(cfg, cat, q, f.studio.Collaborators(), f.notifier, logging.NewNop())
	f.sched = scheduler.New(cfg, cat, q, f.exec, f.notifier, logging.NewNop())
	return f
}

func (f *fixture) tick(t *testing.T) scheduler.TickReport {
	t.Helper()
	report := f.sched.Tick(context.Background())
	f.sched.Wait()
	return report
}

func (f *fixture) schedule(t *testing.T, id int64) *catalog.Schedule {
	t.Helper()
	s, err := f.catalog.GetSchedule(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	return s
}

func TestTickClaimsDueScheduleAndRunsPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testsupport.EnableAutomation(t, f.catalog)
	title := testsupport.NewTitle(t, f.catalog, nil)
	schedule := testsupport.NewSchedule(t, f.catalog, title.ID, time.Now().Add(-time.Second))
	future := testsupport.NewTitle(t, f.catalog, func(req *catalog.NewTitle) { req.Title = "Later" })
	later := testsupport.NewSchedule(t, f.catalog, future.ID, time.Now().Add(time.Hour))

	report := f.tick(t)
	if report.Skipped || report.Claimed != 1 {
		t.Fatalf("unexpected tick report: %+v", report)
	}

	got := f.schedule(t, schedule.ID)
	if got.Status != catalog.ScheduleCompleted || got.RunID == "" {
		t.Fatalf("expected completed schedule with run id, got %s %q", got.Status, got.RunID)
	}
	runs, err := f.catalog.StageRuns(ctx, schedule.ID)
	if err != nil || len(runs) != 4 {
		t.Fatalf("expected 4 stage runs, got %d (%v)", len(runs), err)
	}
	updated, _ := f.catalog.GetTitle(ctx, title.ID)
	if updated.Status != catalog.TitleCompleted {
		t.Fatalf("expected completed title, got %s", updated.Status)
	}
	requests := f.studio.DerivativeRequests()
	if len(requests) != 1 || requests[0].ParentURL != "https://x/u1" {
		t.Fatalf("expected derivative request for https://x/u1, got %+v", requests)
	}
	if f.schedule(t, later.ID).Status != catalog.SchedulePending {
		t.Fatalf("future schedule must stay pending")
	}
}

func TestTickDoesNotClaimWhenAutomationDisabled(t *testing.T) {
	f := newFixture(t)
	title := testsupport.NewTitle(t, f.catalog, nil)
	schedule := testsupport.NewSchedule(t, f.catalog, title.ID, time.Now().Add(-time.Minute))

	report := f.tick(t)
	if report.Claimed != 0 {
		t.Fatalf("expected no claims, got %d", report.Claimed)
	}
	if got := f.schedule(t, schedule.ID); got.Status != catalog.SchedulePending {
		t.Fatalf("expected pending schedule, got %s", got.Status)
	}
	if f.studio.Calls("script") != 0 {
		t.Fatalf("no pipeline should run while disabled")
	}
}

func TestTickResumesWaitingScheduleOnceAssetsAppear(t *testing.T) {
	f := newFixture(t, testsupport.WithoutCrawler())
	testsupport.EnableAutomation(t, f.catalog)
	title := testsupport.NewTitle(t, f.catalog, func(req *catalog.NewTitle) { req.MediaMode = catalog.MediaManual })
	schedule := testsupport.NewSchedule(t, f.catalog, title.ID, time.Now().Add(-time.Second))

	f.tick(t)
	parked := f.schedule(t, schedule.ID)
	if parked.Status != catalog.ScheduleWaitingForUpload {
		t.Fatalf("expected waiting_for_upload, got %s", parked.Status)
	}

	if report := f.tick(t); report.Resumed != 0 {
		t.Fatalf("nothing to resume without assets, got %d", report.Resumed)
	}

	testsupport.WriteFile(t, filepath.Join(parked.ProjectDir, "media", "scene_1.png"), 16)
	if report := f.tick(t); report.Resumed != 1 {
		t.Fatalf("expected one resume, got %+v", report)
	}
	if got := f.schedule(t, schedule.ID); got.Status != catalog.ScheduleCompleted {
		t.Fatalf("expected completed after resume, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if f.studio.Calls("script") != 1 {
		t.Fatalf("script stage must not rerun on resume")
	}
}

func TestTickRecoversStrandedUpload(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workflow.RecoveryGraceSeconds = 0
	ctx := context.Background()
	title := testsupport.NewTitle(t, f.catalog, func(req *catalog.NewTitle) { req.ContentType = catalog.ContentShort })
	schedule := testsupport.NewSchedule(t, f.catalog, title.ID, time.Now().Add(-time.Hour))

	if ok, err := f.catalog.ClaimSchedule(ctx, schedule.ID, "run-stranded"); err != nil || !ok {
		t.Fatalf("ClaimSchedule failed: ok=%v err=%v", ok, err)
	}
	runs, err := f.catalog.EnsureStageRuns(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureStageRuns failed: %v", err)
	}
	for _, run := range runs[:2] {
		if err := f.catalog.MarkStageCompleted(ctx, run.ID); err != nil {
			t.Fatalf("MarkStageCompleted failed: %v", err)
		}
	}
	if err := f.catalog.SetScriptRef(ctx, schedule.ID, "s-old"); err != nil {
		t.Fatalf("SetScriptRef failed: %v", err)
	}
	if err := f.catalog.SetVideoRef(ctx, schedule.ID, "v-old"); err != nil {
		t.Fatalf("SetVideoRef failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	report := f.tick(t)
	if report.Recovered != 1 {
		t.Fatalf("expected one recovery, got %+v", report)
	}
	got := f.schedule(t, schedule.ID)
	if got.Status != catalog.ScheduleCompleted || got.UploadRef == "" {
		t.Fatalf("expected recovered schedule to complete, got %s upload=%q", got.Status, got.UploadRef)
	}
	if f.studio.Calls("script") != 0 || f.studio.Calls("render") != 0 {
		t.Fatalf("recovery must start at upload")
	}
	if uploads := f.studio.Uploads(); uploads[0].VideoRef != "v-old" {
		t.Fatalf("expected upload of v-old, got %+v", uploads)
	}
}

// interruptAtRender runs a claimed schedule until the render stage and then
// cancels it, leaving the schedule processing the way a shutdown does.
func (f *fixture) interruptAtRender(t *testing.T, mutate func(*catalog.NewTitle)) *catalog.Schedule {
	t.Helper()
	ctx := context.Background()
	title := testsupport.NewTitle(t, f.catalog, mutate)
	schedule := testsupport.NewSchedule(t, f.catalog, title.ID, time.Now().Add(-time.Minute))
	if ok, err := f.catalog.ClaimSchedule(ctx, schedule.ID, "run-interrupted"); err != nil || !ok {
		t.Fatalf("ClaimSchedule failed: ok=%v err=%v", ok, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.studio.RenderFunc = func(ctx context.Context, _ pipeline.RenderRequest) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := f.exec.Run(runCtx, schedule.ID, catalog.StageScript); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	f.studio.RenderFunc = nil
	if got := f.schedule(t, schedule.ID); got.Status != catalog.ScheduleProcessing {
		t.Fatalf("interrupted schedule should stay processing, got %s", got.Status)
	}
	time.Sleep(5 * time.Millisecond)
	return schedule
}

func TestTickRecoversScheduleInterruptedAtRender(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workflow.RecoveryGraceSeconds = 0
	schedule := f.interruptAtRender(t, func(req *catalog.NewTitle) { req.ContentType = catalog.ContentShort })

	report := f.tick(t)
	if report.Recovered != 1 {
		t.Fatalf("expected one recovery, got %+v", report)
	}
	got := f.schedule(t, schedule.ID)
	if got.Status != catalog.ScheduleCompleted || got.VideoRef == "" || got.UploadRef == "" {
		t.Fatalf("expected recovered schedule to complete, got %s video=%q upload=%q", got.Status, got.VideoRef, got.UploadRef)
	}
	if n := f.studio.Calls("script"); n != 1 {
		t.Fatalf("script stage must not rerun on recovery, ran %d times", n)
	}
	if n := f.studio.Calls("render"); n != 2 {
		t.Fatalf("render stage should rerun once on recovery, ran %d times", n)
	}
	if again := f.tick(t); again.Recovered != 0 {
		t.Fatalf("completed schedule must not be recovered again, got %+v", again)
	}
}

func TestTickFinalizesScheduleWithAllStagesCompleted(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workflow.RecoveryGraceSeconds = 0
	ctx := context.Background()
	title := testsupport.NewTitle(t, f.catalog, nil)
	schedule := testsupport.NewSchedule(t, f.catalog, title.ID, time.Now().Add(-time.Minute))
	if ok, err := f.catalog.ClaimSchedule(ctx, schedule.ID, "run-finished"); err != nil || !ok {
		t.Fatalf("ClaimSchedule failed: ok=%v err=%v", ok, err)
	}
	runs, err := f.catalog.EnsureStageRuns(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureStageRuns failed: %v", err)
	}
	for _, run := range runs {
		if err := f.catalog.MarkStageCompleted(ctx, run.ID); err != nil {
			t.Fatalf("MarkStageCompleted failed: %v", err)
		}
	}
	time.Sleep(5 * time.Millisecond)

	if report := f.tick(t); report.Recovered != 1 {
		t.Fatalf("expected one recovery, got %+v", report)
	}
	if got := f.schedule(t, schedule.ID); got.Status != catalog.ScheduleCompleted {
		t.Fatalf("expected completed schedule, got %s", got.Status)
	}
	if f.studio.Calls("publish") != 0 {
		t.Fatalf("finished stages must not rerun")
	}
}

func TestStoppedScheduleIsNotRecoveredAndFreesTitle(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workflow.RecoveryGraceSeconds = 0
	ctx := context.Background()
	schedule := f.interruptAtRender(t, nil)

	if err := f.exec.StopSchedule(ctx, schedule.ID); err != nil {
		t.Fatalf("StopSchedule failed: %v", err)
	}
	got := f.schedule(t, schedule.ID)
	if got.Status != catalog.ScheduleFailed {
		t.Fatalf("expected failed schedule, got %s", got.Status)
	}
	video, err := f.catalog.StageRun(ctx, schedule.ID, catalog.StageVideo)
	if err != nil {
		t.Fatalf("StageRun failed: %v", err)
	}
	if video.Status != catalog.StageFailed || video.ErrorMessage != pipeline.ErrStopped.Error() {
		t.Fatalf("expected video stage failed by operator, got %s %q", video.Status, video.ErrorMessage)
	}
	if report := f.tick(t); report.Recovered != 0 {
		t.Fatalf("stopped schedule must not be recovered, got %+v", report)
	}

	next, created, err := f.catalog.CreateSchedule(ctx, catalog.NewSchedule{TitleID: got.TitleID, ScheduledAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}
	if !created || next.ID == schedule.ID {
		t.Fatalf("expected a new schedule for the stopped title, got #%d created=%v", next.ID, created)
	}
	if err := f.exec.StopSchedule(ctx, schedule.ID); !errors.Is(err, catalog.ErrScheduleNotProcessing) {
		t.Fatalf("expected ErrScheduleNotProcessing on second stop, got %v", err)
	}
}

func TestStaleUploadRecoveredByOneInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := scheduler.New(f.cfg, f.catalog, f.queue,
		pipeline.NewExecutor(f.cfg, f.catalog, f.queue, f.studio.Collaborators(), f.notifier, logging.NewNop()),
		f.notifier, logging.NewNop())

	title := testsupport.NewTitle(t, f.catalog, func(req *catalog.NewTitle) { req.ContentType = catalog.ContentShort })
	schedule := testsupport.NewSchedule(t, f.catalog, title.ID, time.Now().Add(-time.Hour))
	if ok, err := f.catalog.ClaimSchedule(ctx, schedule.ID, "run-stranded"); err != nil || !ok {
		t.Fatalf("ClaimSchedule failed: ok=%v err=%v", ok, err)
	}
	runs, err := f.catalog.EnsureStageRuns(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureStageRuns failed: %v", err)
	}
	for _, run := range runs[:2] {
		if err := f.catalog.MarkStageCompleted(ctx, run.ID); err != nil {
			t.Fatalf("MarkStageCompleted failed: %v", err)
		}
	}
	if err := f.catalog.SetVideoRef(ctx, schedule.ID, "v-old"); err != nil {
		t.Fatalf("SetVideoRef failed: %v", err)
	}
	db := testsupport.MustOpenDatabase(t, f.cfg)
	if _, err := db.Exec(ctx, `UPDATE schedules SET updated_at = ?`, database.FormatTime(time.Now().Add(-time.Hour))); err != nil {
		t.Fatalf("backdate schedule: %v", err)
	}

	release := make(chan struct{})
	f.studio.UploadFunc = func(ctx context.Context, _ pipeline.UploadRequest) (pipeline.UploadResult, error) {
		<-release
		return pipeline.UploadResult{UploadID: "u-once", URL: "https://x/u-once"}, nil
	}

	first := f.sched.Tick(ctx)
	second := other.Tick(ctx)
	close(release)
	f.sched.Wait()
	other.Wait()

	if first.Recovered+second.Recovered != 1 {
		t.Fatalf("expected exactly one recovery, got %d and %d", first.Recovered, second.Recovered)
	}
	if n := f.studio.Calls("upload"); n != 1 {
		t.Fatalf("expected one upload across instances, got %d", n)
	}
	if got := f.schedule(t, schedule.ID); got.Status != catalog.ScheduleCompleted {
		t.Fatalf("expected completed schedule, got %s", got.Status)
	}
}

func TestDerivativeUploadedByOneInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := scheduler.New(f.cfg, f.catalog, f.queue,
		pipeline.NewExecutor(f.cfg, f.catalog, f.queue, f.studio.Collaborators(), f.notifier, logging.NewNop()),
		f.notifier, logging.NewNop())

	title := testsupport.NewTitle(t, f.catalog, nil)
	schedule := testsupport.NewSchedule(t, f.catalog, title.ID, time.Now().Add(-time.Minute))
	if ok, err := f.catalog.ClaimSchedule(ctx, schedule.ID, "run-long"); err != nil || !ok {
		t.Fatalf("ClaimSchedule failed: ok=%v err=%v", ok, err)
	}
	if err := f.exec.Run(ctx, schedule.ID, catalog.StageScript); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	f.exec.Wait()
	if got := f.schedule(t, schedule.ID); got.DerivativeState != catalog.DerivativeRequested {
		t.Fatalf("expected requested derivative, got %q", got.DerivativeState)
	}

	// Both instances must see the job finished before either uploads.
	var arrived sync.WaitGroup
	arrived.Add(2)
	f.studio.StatusFunc = func(context.Context, string) (pipeline.DerivativeStatus, error) {
		arrived.Done()
		arrived.Wait()
		return pipeline.DerivativeStatus{State: pipeline.DerivativeJobCompleted, VideoRef: "short-1"}, nil
	}

	var wg sync.WaitGroup
	for _, s := range []*scheduler.Scheduler{f.sched, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(ctx)
		}()
	}
	wg.Wait()
	f.sched.Wait()
	other.Wait()

	var derivatives int
	for _, upload := range f.studio.Uploads() {
		if upload.VideoRef == "short-1" {
			derivatives++
		}
	}
	if derivatives != 1 {
		t.Fatalf("expected one derivative upload across instances, got %d", derivatives)
	}
	if got := f.schedule(t, schedule.ID); got.DerivativeState != catalog.DerivativeUploaded {
		t.Fatalf("expected uploaded derivative, got %q", got.DerivativeState)
	}
}

func TestTickDispatchesQueueTasksOnePerType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var handled atomic.Int32
	f.sched.RegisterHandler(queue.TaskImage, func(context.Context, *queue.Task) error {
		handled.Add(1)
		return nil
	})
	first, _ := f.queue.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskImage, Priority: 5})
	second, _ := f.queue.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskImage})
	if _, err := f.queue.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskVideo}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if report := f.tick(t); report.Dispatched != 1 {
		t.Fatalf("expected one dispatch, got %+v", report)
	}
	if task, _ := f.queue.Get(ctx, first.ID); task.Status != queue.StatusCompleted {
		t.Fatalf("higher priority task should run first, got %s", task.Status)
	}
	if task, _ := f.queue.Get(ctx, second.ID); task.Status != queue.StatusWaiting {
		t.Fatalf("second task should still wait, got %s", task.Status)
	}

	f.tick(t)
	if task, _ := f.queue.Get(ctx, second.ID); task.Status != queue.StatusCompleted {
		t.Fatalf("second task should complete on the next tick, got %s", task.Status)
	}
	if handled.Load() != 2 {
		t.Fatalf("expected 2 handled tasks, got %d", handled.Load())
	}
	summary, err := f.queue.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Count(queue.TaskVideo, queue.StatusWaiting) != 1 {
		t.Fatalf("video task without handler should stay waiting")
	}
}

func TestTickRequeuesFailedTasksWithinBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sched.RegisterHandler(queue.TaskImage, func(context.Context, *queue.Task) error {
		return services.Wrap(services.ErrTransient, "media", "crawl", "crawler busy", nil)
	})
	task, err := f.queue.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskImage, MaxRetries: 1})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	f.tick(t)
	got, _ := f.queue.Get(ctx, task.ID)
	if got.Status != queue.StatusWaiting || got.RetryCount != 1 {
		t.Fatalf("expected requeued task, got %s retries=%d", got.Status, got.RetryCount)
	}

	f.tick(t)
	got, _ = f.queue.Get(ctx, task.ID)
	if got.Status != queue.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("expected terminal failure, got %s %q", got.Status, got.ErrorMessage)
	}
	lock, err := f.queue.Lock(ctx, queue.TaskImage)
	if err != nil || lock.Held() {
		t.Fatalf("lock should be released: %+v %v", lock, err)
	}
}

func TestTickFailsPanickingTaskHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sched.RegisterHandler(queue.TaskScript, func(context.Context, *queue.Task) error {
		panic("boom")
	})
	task, _ := f.queue.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskScript, MaxRetries: 1})

	f.tick(t)
	got, _ := f.queue.Get(ctx, task.ID)
	if got.Status != queue.StatusWaiting || got.RetryCount != 1 {
		t.Fatalf("panic should count as a retryable failure, got %s retries=%d", got.Status, got.RetryCount)
	}
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.sched.Start(ctx); err == nil {
		t.Fatalf("second Start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.sched.Status().Ticks == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	status := f.sched.Status()
	if !status.Running || status.Ticks == 0 {
		t.Fatalf("expected a running loop with a tick, got %+v", status)
	}

	f.sched.Stop()
	if f.sched.Status().Running {
		t.Fatalf("scheduler should report stopped")
	}
}

func TestMaintenanceReportsStuckTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.queue.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskVideo}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := f.queue.Dequeue(ctx, queue.TaskVideo); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	db := testsupport.MustOpenDatabase(t, f.cfg)
	if _, err := db.Exec(ctx, `UPDATE queue_tasks SET started_at = ?`, database.FormatTime(time.Now().Add(-time.Hour))); err != nil {
		t.Fatalf("backdate task: %v", err)
	}

	report := f.tick(t)
	if !report.Maintenance {
		t.Fatalf("first tick should run maintenance")
	}
	events := f.notifier.Events()
	if len(events) != 1 || events[0].Payload["count"] != 1 {
		t.Fatalf("expected one stuck-task notification, got %+v", events)
	}
	if again := f.tick(t); again.Maintenance {
		t.Fatalf("maintenance should wait for its interval")
	}
}
