package service

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/events"
	"github.com/taskflow/taskflow/internal/events/bus"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/store"
)

// fakeScheduler records job registrations and cancellations.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]time.Time)}
}

func (f *fakeScheduler) ScheduleJob(_ context.Context, name string, dueTime time.Time, _ map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[name] = dueTime
	return nil
}

func (f *fakeScheduler) CancelJob(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, name)
	return nil
}

func (f *fakeScheduler) wasCancelled(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cancelled {
		if c == name {
			return true
		}
	}
	return false
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	topic string
	event *bus.Event
}

func (c *capturePublisher) Publish(_ context.Context, topic string, event *bus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{topic: topic, event: event})
	return nil
}

func (c *capturePublisher) byType(eventType string) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, e := range c.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	svc   *Service
	store store.Store
	sched *fakeScheduler
	pub   *capturePublisher
	actor *Actor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	worker := &models.Worker{
		Handle:      "@tester",
		DisplayName: "Tester",
		Kind:        models.WorkerHuman,
		ExternalID:  "ext-tester",
	}
	if err := repo.CreateWorker(context.Background(), worker); err != nil {
		t.Fatalf("failed to seed worker: %v", err)
	}

	sched := newFakeScheduler()
	pub := &capturePublisher{}
	svc := New(repo, sched, events.NewEmitter(pub, logger.Default()), logger.Default())

	return &testEnv{
		svc:   svc,
		store: repo,
		sched: sched,
		pub:   pub,
		actor: &Actor{Worker: worker, TenantID: "tenant-1"},
	}
}

// newMember creates another worker and adds it to the project.
func (env *testEnv) newMember(t *testing.T, projectID int64, handle string) *models.Worker {
	t.Helper()
	ctx := context.Background()
	worker := &models.Worker{Handle: handle, DisplayName: handle, Kind: models.WorkerHuman, ExternalID: "ext-" + handle}
	if err := env.store.CreateWorker(ctx, worker); err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	if _, err := env.svc.AddMember(ctx, env.actor, projectID, worker.ID, models.RoleMember); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	return worker
}

func (env *testEnv) newProject(t *testing.T, slug string) *models.Project {
	t.Helper()
	project, err := env.svc.CreateProject(context.Background(), env.actor, CreateProjectInput{Slug: slug, Name: "P"})
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return project
}

func (env *testEnv) newTask(t *testing.T, projectID int64, input CreateTaskInput) *models.Task {
	t.Helper()
	task, err := env.svc.CreateTask(context.Background(), env.actor, projectID, input)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return task
}

// S1: create, start, progress, review, approve.
func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "p1")
	task := env.newTask(t, project.ID, CreateTaskInput{Title: "T1"})

	if task.Status != models.StatusPending {
		t.Fatalf("new task should be pending, got %s", task.Status)
	}

	if _, err := env.svc.Transition(ctx, env.actor, task.ID, models.StatusInProgress); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.UpdateProgress(ctx, env.actor, task.ID, 50, ""); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if _, err := env.svc.Transition(ctx, env.actor, task.ID, models.StatusReview); err != nil {
		t.Fatalf("review: %v", err)
	}
	final, err := env.svc.Approve(ctx, env.actor, task.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	if final.Status != models.StatusCompleted {
		t.Errorf("status: got %s", final.Status)
	}
	if final.ProgressPercent != 100 {
		t.Errorf("progress should be forced to 100, got %d", final.ProgressPercent)
	}
	if final.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	if final.StartedAt == nil {
		t.Error("started_at should be set")
	}

	audit, err := env.svc.TaskAudit(ctx, env.actor, task.ID, store.AuditFilter{})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	wantActions := []string{
		models.ActionCreated,
		models.ActionStatusChanged,
		models.ActionProgressUpdated,
		models.ActionStatusChanged,
		models.ActionApproved,
	}
	if len(audit) != len(wantActions) {
		t.Fatalf("expected %d audit entries, got %d", len(wantActions), len(audit))
	}
	for i, want := range wantActions {
		if audit[i].Action != want {
			t.Errorf("audit[%d] = %s, want %s", i, audit[i].Action, want)
		}
	}
	// Progress entry carries before/after.
	if audit[2].Details["before"] != float64(0) || audit[2].Details["after"] != float64(50) {
		t.Errorf("progress details: %v", audit[2].Details)
	}
}

// S2: cross-tenant reads collapse into not-found.
func TestCrossTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "s")

	other := &Actor{Worker: env.actor.Worker, TenantID: "tenant-2"}
	_, err := env.svc.GetProject(ctx, other, project.ID)
	if !apperrors.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

// S3: a recurring daily task with max_occurrences=3 spawns exactly twice.
func TestRecurrenceOnCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "recur")
	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	maxOccur := 3
	root := env.newTask(t, project.ID, CreateTaskInput{
		Title:             "R",
		DueDate:           &due,
		IsRecurring:       true,
		RecurrencePattern: "daily",
		MaxOccurrences:    &maxOccur,
	})

	completeTask := func(id int64) *models.Task {
		t.Helper()
		if _, err := env.svc.Transition(ctx, env.actor, id, models.StatusInProgress); err != nil {
			t.Fatalf("start %d: %v", id, err)
		}
		done, err := env.svc.Transition(ctx, env.actor, id, models.StatusCompleted)
		if err != nil {
			t.Fatalf("complete %d: %v", id, err)
		}
		return done
	}

	findSuccessor := func(after int64) *models.Task {
		t.Helper()
		tasks, err := env.svc.ListTasks(ctx, env.actor, project.ID, store.TaskFilter{Status: models.StatusPending})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, task := range tasks {
			if task.ID != after {
				return task
			}
		}
		return nil
	}

	completeTask(root.ID)
	second := findSuccessor(root.ID)
	if second == nil {
		t.Fatal("expected a successor after first completion")
	}
	if second.RecurringRootID == nil || *second.RecurringRootID != root.ID {
		t.Errorf("successor root pointer: %v", second.RecurringRootID)
	}
	if second.DueDate == nil || !second.DueDate.Equal(due.Add(24*time.Hour)) {
		t.Errorf("second due date: %v", second.DueDate)
	}

	completeTask(second.ID)
	third := findSuccessor(second.ID)
	if third == nil {
		t.Fatal("expected a successor after second completion")
	}
	if third.DueDate == nil || !third.DueDate.Equal(due.Add(48*time.Hour)) {
		t.Errorf("third due date: %v", third.DueDate)
	}

	// The chain is at max occurrences; the third completion spawns nothing.
	completeTask(third.ID)
	if leftover := findSuccessor(third.ID); leftover != nil {
		t.Errorf("expected no fourth occurrence, found task %d", leftover.ID)
	}

	count, err := env.store.CountOccurrences(ctx, root.ID)
	if err != nil || count != 3 {
		t.Errorf("expected 3 occurrences, got %d (%v)", count, err)
	}

	if got := len(env.pub.byType(events.TaskSpawned)); got != 2 {
		t.Errorf("expected 2 spawn events, got %d", got)
	}
}

// Recurrence with max_occurrences=1: the root never spawns.
func TestRecurrenceSingleOccurrence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "once")
	maxOccur := 1
	task := env.newTask(t, project.ID, CreateTaskInput{
		Title:             "once",
		IsRecurring:       true,
		RecurrencePattern: "daily",
		MaxOccurrences:    &maxOccur,
	})

	if _, err := env.svc.Transition(ctx, env.actor, task.ID, models.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Transition(ctx, env.actor, task.ID, models.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	count, err := env.store.CountOccurrences(ctx, task.ID)
	if err != nil || count != 1 {
		t.Errorf("expected 1 occurrence, got %d (%v)", count, err)
	}
}

// S4: re-parenting that closes a cycle is rejected.
func TestCyclePrevention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "cycle")
	a := env.newTask(t, project.ID, CreateTaskInput{Title: "A"})
	b := env.newTask(t, project.ID, CreateTaskInput{Title: "B", ParentID: &a.ID})
	c := env.newTask(t, project.ID, CreateTaskInput{Title: "C", ParentID: &b.ID})

	_, err := env.svc.UpdateTask(ctx, env.actor, a.ID, UpdateTaskInput{ParentID: &c.ID})
	if err == nil {
		t.Fatal("expected cycle rejection")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code != apperrors.ErrCodeInvariantViolation {
		t.Errorf("expected invariant violation, got %v", err)
	}

	got, err := env.svc.GetTask(ctx, env.actor, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Task.ParentID != nil {
		t.Error("A's parent should remain null after the rejected update")
	}
}

// S5: pending cannot jump straight to completed.
func TestInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "inv")
	task := env.newTask(t, project.ID, CreateTaskInput{Title: "T"})

	_, err := env.svc.Transition(ctx, env.actor, task.ID, models.StatusCompleted)
	if err == nil {
		t.Fatal("expected invalid transition error")
	}

	got, err := env.svc.GetTask(ctx, env.actor, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Task.Status != models.StatusPending {
		t.Errorf("task should remain pending, got %s", got.Task.Status)
	}
}

// S6: deleting a root removes the whole subtree and cancels jobs.
func TestSubtreeDeleteCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "tree")
	a := env.newTask(t, project.ID, CreateTaskInput{Title: "A"})
	b := env.newTask(t, project.ID, CreateTaskInput{Title: "B", ParentID: &a.ID})
	env.newTask(t, project.ID, CreateTaskInput{Title: "C", ParentID: &a.ID})
	d := env.newTask(t, project.ID, CreateTaskInput{Title: "D", ParentID: &b.ID})

	if err := env.svc.DeleteTask(ctx, env.actor, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, id := range []int64{a.ID, b.ID, d.ID} {
		if _, err := env.store.GetTask(ctx, id); !apperrors.IsNotFound(err) {
			t.Errorf("task %d should be gone, got %v", id, err)
		}
	}

	audit, err := env.store.ListAuditByEntity(ctx, models.EntityTask, a.ID, store.AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	deleteEntry := audit[len(audit)-1]
	if deleteEntry.Action != models.ActionDeleted {
		t.Fatalf("last audit action: %s", deleteEntry.Action)
	}
	if deleteEntry.Details["subtasks_deleted"] != float64(3) {
		t.Errorf("subtasks_deleted: %v", deleteEntry.Details["subtasks_deleted"])
	}

	if !env.sched.wasCancelled("spawn-task-" + itoa(d.ID)) {
		t.Error("expected jobs of deleted subtasks to be cancelled")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Progress boundary values.
func TestProgressBoundaries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "prog")
	task := env.newTask(t, project.ID, CreateTaskInput{Title: "T"})

	// Not in progress yet.
	if _, err := env.svc.UpdateProgress(ctx, env.actor, task.ID, 10, ""); err == nil {
		t.Error("progress on a pending task should fail")
	}

	if _, err := env.svc.Transition(ctx, env.actor, task.ID, models.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	for _, percent := range []int{0, 100} {
		if _, err := env.svc.UpdateProgress(ctx, env.actor, task.ID, percent, ""); err != nil {
			t.Errorf("percent=%d should be valid: %v", percent, err)
		}
	}
	for _, percent := range []int{-1, 101} {
		if _, err := env.svc.UpdateProgress(ctx, env.actor, task.ID, percent, ""); err == nil {
			t.Errorf("percent=%d should be rejected", percent)
		}
	}
}

func TestAssignmentRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "assign")
	task := env.newTask(t, project.ID, CreateTaskInput{Title: "T"})

	outsider := &models.Worker{Handle: "@outsider", Kind: models.WorkerHuman, ExternalID: "ext-out"}
	if err := env.store.CreateWorker(ctx, outsider); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.Assign(ctx, env.actor, task.ID, outsider.ID); err == nil {
		t.Fatal("assignment to a non-member should fail")
	}

	member := env.newMember(t, project.ID, "@colleague")
	assigned, err := env.svc.Assign(ctx, env.actor, task.ID, member.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.AssigneeID == nil || *assigned.AssigneeID != member.ID {
		t.Errorf("assignee: %v", assigned.AssigneeID)
	}

	assignedEvents := env.pub.byType(events.TaskAssigned)
	if len(assignedEvents) != 1 {
		t.Fatalf("expected 1 assigned event, got %d", len(assignedEvents))
	}
	if assignedEvents[0].event.Data["user_id"] == nil {
		t.Error("assigned event should carry the new assignee as recipient")
	}
}

// Applying the same spawn callback twice spawns once.
func TestSpawnTriggerIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "timer")
	due := time.Now().UTC().Add(time.Hour)
	task := env.newTask(t, project.ID, CreateTaskInput{
		Title:             "timed",
		DueDate:           &due,
		IsRecurring:       true,
		RecurrencePattern: "daily",
		RecurrenceTrigger: models.TriggerOnDueDate,
	})

	env.sched.mu.Lock()
	_, registered := env.sched.scheduled["spawn-task-"+itoa(task.ID)]
	env.sched.mu.Unlock()
	if !registered {
		t.Error("expected a spawn job registration at creation")
	}

	if err := env.svc.HandleSpawnTrigger(ctx, task.ID); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := env.svc.HandleSpawnTrigger(ctx, task.ID); err != nil {
		t.Fatalf("second trigger: %v", err)
	}

	count, err := env.store.CountOccurrences(ctx, task.ID)
	if err != nil || count != 2 {
		t.Errorf("expected 2 occurrences after duplicate trigger, got %d (%v)", count, err)
	}
}

func TestReminderTriggerIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "remind")
	member := env.newMember(t, project.ID, "@assignee")
	due := time.Now().UTC().Add(48 * time.Hour)
	task := env.newTask(t, project.ID, CreateTaskInput{Title: "due soon", DueDate: &due, AssigneeID: &member.ID})

	if err := env.svc.HandleReminderTrigger(ctx, task.ID); err != nil {
		t.Fatalf("first reminder: %v", err)
	}
	if err := env.svc.HandleReminderTrigger(ctx, task.ID); err != nil {
		t.Fatalf("second reminder: %v", err)
	}

	reminders := env.pub.byType(events.ReminderDue)
	if len(reminders) != 1 {
		t.Fatalf("expected exactly 1 reminder event, got %d", len(reminders))
	}
	hours, ok := reminders[0].event.Data["hours_until_due"].(int)
	if !ok || hours < 47 || hours > 48 {
		t.Errorf("hours_until_due: %v", reminders[0].event.Data["hours_until_due"])
	}
	// Scheduler-fired reminders are attributed to the task's creator.
	if got := reminders[0].event.Data["actor_name"]; got != env.actor.Worker.DisplayName {
		t.Errorf("actor_name: %v", got)
	}
	if reminders[0].event.Data["actor_id"] == nil {
		t.Error("actor_id missing from reminder payload")
	}

	got, err := env.store.GetTask(ctx, task.ID)
	if err != nil || !got.ReminderSent {
		t.Errorf("reminder_sent should be set: %v %v", got, err)
	}
}

func TestOwnershipEnforcement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "owned")
	member := env.newMember(t, project.ID, "@plain-member")
	memberActor := &Actor{Worker: member, TenantID: env.actor.TenantID}

	name := "Renamed"
	if _, err := env.svc.UpdateProject(ctx, memberActor, project.ID, UpdateProjectInput{Name: &name}); err == nil {
		t.Error("non-owner project update should be forbidden")
	}
	if err := env.svc.DeleteProject(ctx, memberActor, project.ID, false); err == nil {
		t.Error("non-owner project delete should be forbidden")
	}

	// Members still create and move tasks.
	if _, err := env.svc.CreateTask(ctx, memberActor, project.ID, CreateTaskInput{Title: "member task"}); err != nil {
		t.Errorf("member task creation: %v", err)
	}
}

func TestDuplicateSlugConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.newProject(t, "roadmap")
	_, err := env.svc.CreateProject(ctx, env.actor, CreateProjectInput{Slug: "roadmap", Name: "Again"})
	if !apperrors.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestRollup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	project := env.newProject(t, "rollup")
	parent := env.newTask(t, project.ID, CreateTaskInput{Title: "parent"})

	progress := []int{30, 60, 100}
	for i, p := range progress {
		sub := env.newTask(t, project.ID, CreateTaskInput{Title: "sub", ParentID: &parent.ID})
		if _, err := env.svc.Transition(ctx, env.actor, sub.ID, models.StatusInProgress); err != nil {
			t.Fatal(err)
		}
		if _, err := env.svc.UpdateProgress(ctx, env.actor, sub.ID, p, ""); err != nil {
			t.Fatalf("sub %d: %v", i, err)
		}
	}

	detail, err := env.svc.GetTask(ctx, env.actor, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	// (30+60+100)/3 = 63 truncated.
	if detail.RolledUpProgress != 63 {
		t.Errorf("rollup: got %d, want 63", detail.RolledUpProgress)
	}
	if len(detail.Subtasks) != 3 {
		t.Errorf("subtasks: got %d", len(detail.Subtasks))
	}

	// A leaf reports 0 rolled-up progress even when it has progress of
	// its own.
	leaf := env.newTask(t, project.ID, CreateTaskInput{Title: "leaf"})
	if _, err := env.svc.Transition(ctx, env.actor, leaf.ID, models.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.UpdateProgress(ctx, env.actor, leaf.ID, 40, ""); err != nil {
		t.Fatal(err)
	}
	leafDetail, err := env.svc.GetTask(ctx, env.actor, leaf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if leafDetail.RolledUpProgress != 0 {
		t.Errorf("leaf rollup: got %d, want 0", leafDetail.RolledUpProgress)
	}
}
