package bootstrap

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/auth"
	"github.com/taskflow/taskflow/internal/task/service"
)

// actorContextKey is the gin context key the middleware stores the
// resolved Actor under.
const actorContextKey = "taskflow.actor"

// Middleware resolves the authenticated principal into a domain actor:
// tenant, worker row, and default project all exist once it has run. It
// must be mounted after the auth middleware.
func (b *Bootstrapper) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":       "not authenticated",
				"status_code": http.StatusUnauthorized,
			})
			return
		}

		ctx := c.Request.Context()
		tenantID := b.ResolveTenant(principal, c.GetHeader(TenantHeader))
		worker, err := b.EnsureWorker(ctx, principal)
		if err == nil {
			_, err = b.EnsureDefaultProject(ctx, worker, tenantID)
		}
		if err != nil {
			b.logger.Error("bootstrap failed",
				zap.String("external_id", principal.ExternalID),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       "failed to prepare account",
				"status_code": http.StatusInternalServerError,
			})
			return
		}

		c.Set(actorContextKey, &service.Actor{
			Worker:     worker,
			TenantID:   tenantID,
			ClientID:   principal.ClientID,
			ClientName: principal.ClientName,
		})
		c.Next()
	}
}

// ActorFromContext returns the Actor the bootstrap middleware attached.
func ActorFromContext(c *gin.Context) (*service.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return nil, false
	}
	actor, ok := value.(*service.Actor)
	return actor, ok
}

// SetActor attaches an Actor to the gin context. Used by tests.
func SetActor(c *gin.Context, actor *service.Actor) {
	c.Set(actorContextKey, actor)
}
