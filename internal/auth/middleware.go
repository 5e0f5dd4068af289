package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/taskflow/taskflow/internal/common/errors"
)

// principalContextKey is the gin context key the middleware stores the
// verified Principal under.
const principalContextKey = "taskflow.principal"

// UserHeader substitutes the principal's external ID in dev mode only.
const UserHeader = "X-User-ID"

// Middleware returns a gin middleware that verifies the bearer credential on
// every request and attaches the resulting Principal to the context.
//
// Unauthenticated requests get a 401 with a WWW-Authenticate challenge
// pointing at the protected-resource metadata document, so agent clients can
// discover the authorization server.
func Middleware(verifier *Verifier, resourceMetadataURL string) gin.HandlerFunc {
	challenge := `Bearer resource_metadata="` + resourceMetadataURL + `"`
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		principal, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if apperrors.IsServiceUnavailable(err) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":       "identity provider unavailable",
					"status_code": http.StatusServiceUnavailable,
				})
				return
			}
			c.Header("WWW-Authenticate", challenge)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":       failureMessage(err),
				"status_code": http.StatusUnauthorized,
			})
			return
		}

		if verifier.DevMode() {
			if id := c.GetHeader(UserHeader); id != "" {
				override := *principal
				override.ExternalID = id
				principal = &override
			}
		}

		c.Set(principalContextKey, principal)
		c.Next()
	}
}

// BearerToken extracts the bearer credential from the Authorization header.
// Returns "" when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// PrincipalFromContext returns the Principal the auth middleware attached.
func PrincipalFromContext(c *gin.Context) (*Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*Principal)
	return principal, ok
}

// SetPrincipal attaches a Principal to the gin context. Used by tests and by
// the dev-mode header override.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(principalContextKey, p)
}
