package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow/taskflow/internal/common/config"
	"github.com/taskflow/taskflow/internal/common/logger"
)

func TestDevUserHeaderOverride(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier(
		config.IdPConfig{BaseURL: "http://idp.invalid", Timeout: 1, KeyCacheTTL: 3600},
		config.DevConfig{Enabled: true, UserID: "dev-user", Email: "dev@localhost", DisplayName: "Dev User"},
		logger.Default(),
	)

	var seen *Principal
	router := gin.New()
	router.Use(Middleware(v, "http://localhost/.well-known/oauth-protected-resource"))
	router.GET("/whoami", func(c *gin.Context) {
		seen, _ = PrincipalFromContext(c)
		c.Status(http.StatusOK)
	})

	// Without the header the configured dev identity applies.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "dev-user", seen.ExternalID)

	// The header substitutes the external ID for this request only.
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(UserHeader, "someone-else")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "someone-else", seen.ExternalID)
	assert.Equal(t, CredentialDev, seen.Kind)

	// And the next bare request falls back again.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev-user", seen.ExternalID)
}
