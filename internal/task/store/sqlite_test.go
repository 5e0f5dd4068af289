package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/task/models"
)

func createTestStore(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	repo, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedWorker(t *testing.T, repo *Repository, handle string) *models.Worker {
	t.Helper()
	w := &models.Worker{
		Handle:      handle,
		DisplayName: "Test Worker",
		Kind:        models.WorkerHuman,
		ExternalID:  "ext-" + handle,
	}
	if err := repo.CreateWorker(context.Background(), w); err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	return w
}

func seedProject(t *testing.T, repo *Repository, tenantID, slug string) *models.Project {
	t.Helper()
	p := &models.Project{
		TenantID: tenantID,
		Slug:     slug,
		Name:     "Test Project",
		OwnerID:  "owner-ext",
	}
	if err := repo.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return p
}

func TestWorkerCRUD(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	w := &models.Worker{
		Handle:       "@test-agent",
		DisplayName:  "Test Agent",
		Kind:         models.WorkerAgent,
		AgentFamily:  models.FamilyClaude,
		Capabilities: []string{"code", "review"},
	}
	if err := repo.CreateWorker(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := repo.GetWorker(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Handle != "@test-agent" || got.AgentFamily != models.FamilyClaude {
		t.Errorf("unexpected worker: %+v", got)
	}
	if len(got.Capabilities) != 2 {
		t.Errorf("expected capabilities to round-trip, got %v", got.Capabilities)
	}

	byHandle, err := repo.GetWorkerByHandle(ctx, "@test-agent")
	if err != nil || byHandle.ID != w.ID {
		t.Errorf("get by handle: %v %+v", err, byHandle)
	}

	if err := repo.DeleteWorker(ctx, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetWorker(ctx, w.ID); !apperrors.IsNotFound(err) {
		t.Errorf("expected not-found after delete, got %v", err)
	}
}

func TestWorkerHandleUnique(t *testing.T) {
	repo := createTestStore(t)
	seedWorker(t, repo, "@dup")

	w := &models.Worker{Handle: "@dup", Kind: models.WorkerHuman, ExternalID: "other"}
	if err := repo.CreateWorker(context.Background(), w); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestProjectSlugUniquePerTenant(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	seedProject(t, repo, "tenant-a", "roadmap")

	// Same slug in another tenant is fine.
	other := &models.Project{TenantID: "tenant-b", Slug: "roadmap", Name: "B", OwnerID: "o2"}
	if err := repo.CreateProject(ctx, other); err != nil {
		t.Fatalf("cross-tenant slug should be allowed: %v", err)
	}

	// Duplicate within the tenant is rejected.
	dup := &models.Project{TenantID: "tenant-a", Slug: "roadmap", Name: "Dup", OwnerID: "o3"}
	if err := repo.CreateProject(ctx, dup); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestProjectTenantScoping(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	p := seedProject(t, repo, "tenant-a", "scoped")

	if _, err := repo.GetProject(ctx, "tenant-a", p.ID); err != nil {
		t.Fatalf("same-tenant read: %v", err)
	}
	if _, err := repo.GetProject(ctx, "tenant-b", p.ID); !apperrors.IsNotFound(err) {
		t.Errorf("cross-tenant read should be not-found, got %v", err)
	}
}

func TestMembershipUnique(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	w := seedWorker(t, repo, "@member")
	p := seedProject(t, repo, "t", "p")

	m := &models.ProjectMember{ProjectID: p.ID, WorkerID: w.ID, Role: models.RoleOwner}
	if err := repo.AddMember(ctx, m); err != nil {
		t.Fatalf("add: %v", err)
	}
	dup := &models.ProjectMember{ProjectID: p.ID, WorkerID: w.ID, Role: models.RoleMember}
	if err := repo.AddMember(ctx, dup); err == nil {
		t.Fatal("expected unique constraint violation")
	}

	count, err := repo.CountWorkerMemberships(ctx, w.ID)
	if err != nil || count != 1 {
		t.Errorf("memberships: %d %v", count, err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	w := seedWorker(t, repo, "@creator")
	p := seedProject(t, repo, "t", "p")

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	maxOccur := 3
	task := &models.Task{
		ProjectID:         p.ID,
		Title:             "Recurring",
		Status:            models.StatusPending,
		Priority:          models.PriorityHigh,
		Tags:              []string{"ops", "weekly"},
		DueDate:           &due,
		CreatorID:         w.ID,
		IsRecurring:       true,
		RecurrencePattern: "daily",
		MaxOccurrences:    &maxOccur,
		RecurrenceTrigger: models.TriggerOnComplete,
		CloneSubtasks:     true,
	}
	if err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Recurring" || !got.IsRecurring || !got.CloneSubtasks {
		t.Errorf("unexpected task: %+v", got)
	}
	if got.MaxOccurrences == nil || *got.MaxOccurrences != 3 {
		t.Errorf("max occurrences did not round-trip: %v", got.MaxOccurrences)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due date did not round-trip: %v", got.DueDate)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags did not round-trip: %v", got.Tags)
	}
}

func TestListTasksFilters(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	w := seedWorker(t, repo, "@creator")
	assignee := seedWorker(t, repo, "@assignee")
	p := seedProject(t, repo, "t", "p")

	due := time.Now().UTC().Add(24 * time.Hour)
	seed := []*models.Task{
		{Title: "Fix login bug", Status: models.StatusPending, Priority: models.PriorityHigh, Tags: []string{"bug", "auth"}},
		{Title: "Write docs", Status: models.StatusInProgress, Priority: models.PriorityLow, AssigneeID: &assignee.ID, DueDate: &due},
		{Title: "Fix signup bug", Status: models.StatusCompleted, Priority: models.PriorityHigh, Tags: []string{"bug"}},
	}
	for _, task := range seed {
		task.ProjectID = p.ID
		task.CreatorID = w.ID
		if err := repo.CreateTask(ctx, task); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	byStatus, err := repo.ListTasks(ctx, p.ID, TaskFilter{Status: models.StatusPending})
	if err != nil || len(byStatus) != 1 {
		t.Errorf("status filter: %d tasks, %v", len(byStatus), err)
	}

	bySearch, err := repo.ListTasks(ctx, p.ID, TaskFilter{Search: "bug"})
	if err != nil || len(bySearch) != 2 {
		t.Errorf("search filter: %d tasks, %v", len(bySearch), err)
	}

	byTags, err := repo.ListTasks(ctx, p.ID, TaskFilter{Tags: []string{"bug", "auth"}})
	if err != nil || len(byTags) != 1 {
		t.Errorf("tags AND filter: %d tasks, %v", len(byTags), err)
	}

	hasDue := true
	byDue, err := repo.ListTasks(ctx, p.ID, TaskFilter{HasDueDate: &hasDue})
	if err != nil || len(byDue) != 1 {
		t.Errorf("has_due_date filter: %d tasks, %v", len(byDue), err)
	}

	byAssignee, err := repo.ListTasks(ctx, p.ID, TaskFilter{AssigneeID: &assignee.ID})
	if err != nil || len(byAssignee) != 1 {
		t.Errorf("assignee filter: %d tasks, %v", len(byAssignee), err)
	}

	sorted, err := repo.ListTasks(ctx, p.ID, TaskFilter{SortBy: "priority", SortOrder: "desc"})
	if err != nil || len(sorted) != 3 {
		t.Fatalf("sorted list: %d tasks, %v", len(sorted), err)
	}
	if sorted[len(sorted)-1].Priority != models.PriorityLow {
		t.Errorf("expected low priority last, got %s", sorted[len(sorted)-1].Priority)
	}

	limited, err := repo.ListTasks(ctx, p.ID, TaskFilter{Limit: 2, Offset: 1})
	if err != nil || len(limited) != 2 {
		t.Errorf("paging: %d tasks, %v", len(limited), err)
	}
}

func TestCountOccurrences(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	w := seedWorker(t, repo, "@creator")
	p := seedProject(t, repo, "t", "p")

	root := &models.Task{ProjectID: p.ID, Title: "root", Status: models.StatusPending, Priority: models.PriorityMedium, CreatorID: w.ID}
	if err := repo.CreateTask(ctx, root); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		succ := &models.Task{
			ProjectID: p.ID, Title: fmt.Sprintf("succ-%d", i),
			Status: models.StatusPending, Priority: models.PriorityMedium,
			CreatorID: w.ID, RecurringRootID: &root.ID,
		}
		if err := repo.CreateTask(ctx, succ); err != nil {
			t.Fatal(err)
		}
	}

	count, err := repo.CountOccurrences(ctx, root.ID)
	if err != nil || count != 3 {
		t.Errorf("expected 3 occurrences, got %d (%v)", count, err)
	}
}

func TestInTxRollback(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	w := seedWorker(t, repo, "@creator")
	p := seedProject(t, repo, "t", "p")

	failure := fmt.Errorf("boom")
	err := repo.InTx(ctx, func(tx Tx) error {
		task := &models.Task{ProjectID: p.ID, Title: "doomed", Status: models.StatusPending, Priority: models.PriorityLow, CreatorID: w.ID}
		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &models.AuditLog{
			EntityType: models.EntityTask, EntityID: task.ID,
			Action: models.ActionCreated, ActorID: w.ID, ActorKind: models.WorkerHuman,
		}); err != nil {
			return err
		}
		return failure
	})
	if err == nil {
		t.Fatal("expected transaction error")
	}

	tasks, err := repo.ListTasks(ctx, p.ID, TaskFilter{})
	if err != nil || len(tasks) != 0 {
		t.Errorf("rollback should leave no tasks: %d, %v", len(tasks), err)
	}
	audit, err := repo.ListAuditByProject(ctx, p.ID, AuditFilter{})
	if err != nil || len(audit) != 0 {
		t.Errorf("rollback should leave no audit entries: %d, %v", len(audit), err)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	repo := createTestStore(t)
	ctx := context.Background()

	w := seedWorker(t, repo, "@actor")
	p := seedProject(t, repo, "t", "p")
	task := &models.Task{ProjectID: p.ID, Title: "audited", Status: models.StatusPending, Priority: models.PriorityLow, CreatorID: w.ID}
	if err := repo.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	actions := []string{models.ActionCreated, models.ActionStatusChanged, models.ActionProgressUpdated}
	for _, action := range actions {
		entry := &models.AuditLog{
			EntityType: models.EntityTask, EntityID: task.ID,
			Action: action, ActorID: w.ID, ActorKind: models.WorkerHuman,
			Details: map[string]interface{}{"before": "x", "after": "y"},
		}
		if err := repo.AppendAudit(ctx, entry); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}

	entries, err := repo.ListAuditByEntity(ctx, models.EntityTask, task.ID, AuditFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, action := range actions {
		if entries[i].Action != action {
			t.Errorf("entry %d: got %s, want %s (insertion order)", i, entries[i].Action, action)
		}
	}
	if entries[0].Details["before"] != "x" {
		t.Errorf("details did not round-trip: %v", entries[0].Details)
	}

	byProject, err := repo.ListAuditByProject(ctx, p.ID, AuditFilter{})
	if err != nil || len(byProject) != 3 {
		t.Errorf("project audit: %d entries, %v", len(byProject), err)
	}
}
