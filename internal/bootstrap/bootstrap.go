package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/auth"
	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/task/models"
	"github.com/taskflow/taskflow/internal/task/store"
)

// DefaultTenantID is used when no tenant can be resolved from the
// credential or (in dev mode) from the request.
const DefaultTenantID = "taskflow-default-org-id"

// TenantHeader overrides the tenant in dev mode only.
const TenantHeader = "X-Tenant-ID"

// Bootstrapper materializes workers and their default projects on first
// sight of an authenticated identity.
type Bootstrapper struct {
	store     store.Store
	logger    *logger.Logger
	devHeader bool
}

func New(st store.Store, devHeader bool, log *logger.Logger) *Bootstrapper {
	return &Bootstrapper{
		store:     st,
		logger:    log.WithFields(zap.String("component", "bootstrap")),
		devHeader: devHeader,
	}
}

// ResolveTenant picks the tenant for a request. Claims win over the dev
// header; the fallback tenant keeps single-tenant deployments working with
// zero configuration.
func (b *Bootstrapper) ResolveTenant(p *auth.Principal, headerTenant string) string {
	if p.TenantClaim != "" {
		return p.TenantClaim
	}
	if len(p.OrgIDs) > 0 {
		return p.OrgIDs[0]
	}
	if b.devHeader && headerTenant != "" {
		return headerTenant
	}
	return DefaultTenantID
}

// EnsureWorker returns the worker for the principal, creating it on first
// sight. Creation is committed before any project work so a crash between
// the two steps cannot orphan a project.
func (b *Bootstrapper) EnsureWorker(ctx context.Context, p *auth.Principal) (*models.Worker, error) {
	worker, err := b.store.GetWorkerByExternalID(ctx, p.ExternalID)
	if err == nil {
		return worker, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	kind := models.WorkerHuman
	var family models.AgentFamily
	if p.IsAgent() {
		// Agents created explicitly carry their real family; a lazily
		// materialized API-key identity gets the catch-all.
		kind = models.WorkerAgent
		family = models.FamilyCustom
	}
	handle, err := b.availableHandle(ctx, p)
	if err != nil {
		return nil, err
	}
	displayName := p.DisplayName
	if displayName == "" {
		displayName = strings.TrimPrefix(handle, "@")
	}

	worker = &models.Worker{
		Handle:      handle,
		DisplayName: displayName,
		Kind:        kind,
		AgentFamily: family,
		ExternalID:  p.ExternalID,
	}
	err = b.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateWorker(ctx, worker); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &models.AuditLog{
			EntityType: models.EntityWorker,
			EntityID:   worker.ID,
			Action:     models.ActionCreated,
			ActorID:    worker.ID,
			ActorKind:  worker.Kind,
			Details:    map[string]interface{}{"handle": handle, "external_id": p.ExternalID},
		})
	})
	if err != nil {
		// A concurrent request may have won the insert race.
		if existing, lookupErr := b.store.GetWorkerByExternalID(ctx, p.ExternalID); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}

	b.logger.Info("materialized worker",
		zap.String("handle", handle),
		zap.Int64("worker_id", worker.ID))
	return worker, nil
}

// EnsureDefaultProject guarantees the worker has a personal default
// project in the tenant. Idempotent: a second call is a single read.
func (b *Bootstrapper) EnsureDefaultProject(ctx context.Context, worker *models.Worker, tenantID string) (*models.Project, error) {
	project, err := b.store.GetDefaultProject(ctx, worker.ExternalID)
	if err == nil {
		return project, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	project = &models.Project{
		TenantID:  tenantID,
		Slug:      "default-" + shortID(worker.ExternalID),
		Name:      "Default",
		OwnerID:   worker.ExternalID,
		IsDefault: true,
	}
	err = b.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		if err := tx.AddMember(ctx, &models.ProjectMember{
			ProjectID: project.ID,
			WorkerID:  worker.ID,
			Role:      models.RoleOwner,
		}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &models.AuditLog{
			EntityType: models.EntityProject,
			EntityID:   project.ID,
			Action:     models.ActionCreated,
			ActorID:    worker.ID,
			ActorKind:  worker.Kind,
			Details:    map[string]interface{}{"slug": project.Slug, "default": true},
		})
	})
	if err != nil {
		if existing, lookupErr := b.store.GetDefaultProject(ctx, worker.ExternalID); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}

	b.logger.Info("created default project",
		zap.String("slug", project.Slug),
		zap.Int64("worker_id", worker.ID))
	return project, nil
}

// availableHandle derives a handle from the principal and suffixes it
// until it is free.
func (b *Bootstrapper) availableHandle(ctx context.Context, p *auth.Principal) (string, error) {
	base := deriveHandle(p)
	candidate := base
	for i := 1; ; i++ {
		_, err := b.store.GetWorkerByHandle(ctx, candidate)
		if apperrors.IsNotFound(err) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func deriveHandle(p *auth.Principal) string {
	if p.Email != "" {
		local := p.Email
		if at := strings.IndexByte(local, '@'); at >= 0 {
			local = local[:at]
		}
		local = strings.ToLower(local)
		local = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
				return r
			case r == '.' || r == '_':
				return '-'
			default:
				return -1
			}
		}, local)
		if local != "" {
			if len(local) > models.MaxHandleLength-1 {
				local = local[:models.MaxHandleLength-1]
			}
			return "@" + local
		}
	}
	return "@user-" + shortID(p.ExternalID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
