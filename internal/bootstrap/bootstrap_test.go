package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/taskflow/taskflow/internal/auth"
	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/store"
)

func newTestBootstrapper(t *testing.T, devHeader bool) (*Bootstrapper, store.Store) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return New(repo, devHeader, logger.Default()), repo
}

func TestResolveTenantPrecedence(t *testing.T) {
	b, _ := newTestBootstrapper(t, true)

	cases := []struct {
		name      string
		principal *auth.Principal
		header    string
		want      string
	}{
		{"tenant claim wins", &auth.Principal{TenantClaim: "acme", OrgIDs: []string{"other"}}, "hdr", "acme"},
		{"first org id", &auth.Principal{OrgIDs: []string{"org-1", "org-2"}}, "hdr", "org-1"},
		{"dev header", &auth.Principal{}, "hdr", "hdr"},
		{"fallback", &auth.Principal{}, "", DefaultTenantID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := b.ResolveTenant(tc.principal, tc.header); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveTenantHeaderIgnoredOutsideDev(t *testing.T) {
	b, _ := newTestBootstrapper(t, false)
	if got := b.ResolveTenant(&auth.Principal{}, "hdr"); got != DefaultTenantID {
		t.Errorf("header should be ignored outside dev mode, got %q", got)
	}
}

func TestEnsureWorkerFromEmail(t *testing.T) {
	b, _ := newTestBootstrapper(t, false)
	ctx := context.Background()

	principal := &auth.Principal{
		ExternalID:  "idp-user-12345678",
		Email:       "Jane.Doe_dev@example.com",
		DisplayName: "Jane Doe",
	}
	worker, err := b.EnsureWorker(ctx, principal)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if worker.Handle != "@jane-doe-dev" {
		t.Errorf("handle: got %q", worker.Handle)
	}
	if worker.Kind != models.WorkerHuman {
		t.Errorf("kind: got %s", worker.Kind)
	}

	// Idempotent: same identity resolves to the same row.
	again, err := b.EnsureWorker(ctx, principal)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if again.ID != worker.ID {
		t.Errorf("expected same worker, got %d and %d", worker.ID, again.ID)
	}
}

func TestEnsureWorkerHandleCollision(t *testing.T) {
	b, _ := newTestBootstrapper(t, false)
	ctx := context.Background()

	first, err := b.EnsureWorker(ctx, &auth.Principal{ExternalID: "ext-a", Email: "sam@one.example"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.EnsureWorker(ctx, &auth.Principal{ExternalID: "ext-b", Email: "sam@two.example"})
	if err != nil {
		t.Fatal(err)
	}

	if first.Handle != "@sam" {
		t.Errorf("first handle: %q", first.Handle)
	}
	if second.Handle != "@sam-1" {
		t.Errorf("second handle: %q", second.Handle)
	}
}

func TestEnsureWorkerWithoutEmail(t *testing.T) {
	b, _ := newTestBootstrapper(t, false)

	worker, err := b.EnsureWorker(context.Background(), &auth.Principal{ExternalID: "abcdef1234567890"})
	if err != nil {
		t.Fatal(err)
	}
	if worker.Handle != "@user-abcdef12" {
		t.Errorf("handle: got %q", worker.Handle)
	}
}

func TestEnsureWorkerAgentKind(t *testing.T) {
	b, _ := newTestBootstrapper(t, false)

	principal := &auth.Principal{ExternalID: "agent-key-1", Kind: auth.CredentialAPIKey, ClientName: "tool"}
	worker, err := b.EnsureWorker(context.Background(), principal)
	if err != nil {
		t.Fatal(err)
	}
	if worker.Kind != models.WorkerAgent {
		t.Errorf("kind: got %s", worker.Kind)
	}
	if worker.AgentFamily != models.FamilyCustom {
		t.Errorf("agent family: got %q, want %q", worker.AgentFamily, models.FamilyCustom)
	}

	human, err := b.EnsureWorker(context.Background(), &auth.Principal{ExternalID: "idp-human-1", Email: "pat@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if human.AgentFamily != "" {
		t.Errorf("human worker carries family %q", human.AgentFamily)
	}
}

func TestEnsureDefaultProject(t *testing.T) {
	b, repo := newTestBootstrapper(t, false)
	ctx := context.Background()

	worker, err := b.EnsureWorker(ctx, &auth.Principal{ExternalID: "idp-user-12345678", Email: "jane@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	project, err := b.EnsureDefaultProject(ctx, worker, "tenant-1")
	if err != nil {
		t.Fatalf("ensure project: %v", err)
	}
	if project.Slug != "default-idp-user" {
		t.Errorf("slug: got %q", project.Slug)
	}
	if !project.IsDefault {
		t.Error("project should be marked default")
	}

	member, err := repo.GetMember(ctx, project.ID, worker.ID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if member.Role != models.RoleOwner {
		t.Errorf("role: got %s", member.Role)
	}

	again, err := b.EnsureDefaultProject(ctx, worker, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != project.ID {
		t.Errorf("expected same project, got %d and %d", project.ID, again.ID)
	}
}
