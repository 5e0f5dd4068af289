package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Discovery serves the OAuth metadata documents that let agent clients find
// the authorization server for this deployment. The documents mirror the
// IdP's endpoints; TaskFlow itself never issues tokens.
type Discovery struct {
	idpURL      string
	resourceURL string
}

// NewDiscovery builds metadata documents for an IdP base URL and the public
// URL of this resource server.
func NewDiscovery(idpURL, resourceURL string) *Discovery {
	return &Discovery{
		idpURL:      strings.TrimRight(idpURL, "/"),
		resourceURL: strings.TrimRight(resourceURL, "/"),
	}
}

// AuthorizationServerMetadata is the RFC 8414 document body.
func (d *Discovery) AuthorizationServerMetadata() gin.H {
	return gin.H{
		"issuer":                        d.idpURL,
		"authorization_endpoint":        d.idpURL + "/api/auth/oauth2/authorize",
		"token_endpoint":                d.idpURL + "/api/auth/oauth2/token",
		"userinfo_endpoint":             d.idpURL + "/api/auth/oauth2/userinfo",
		"device_authorization_endpoint": d.idpURL + "/api/auth/oauth2/device/authorize",
		"jwks_uri":                      d.idpURL + "/api/auth/jwks",
		"registration_endpoint":         d.idpURL + "/api/auth/oauth2/register",
		"scopes_supported":              []string{"openid", "profile", "email"},
		"response_types_supported":      []string{"code"},
		"grant_types_supported": []string{
			"authorization_code",
			"refresh_token",
			"urn:ietf:params:oauth:grant-type:device_code",
		},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
	}
}

// ProtectedResourceMetadata is the RFC 9728 document body.
func (d *Discovery) ProtectedResourceMetadata() gin.H {
	return gin.H{
		"resource":                 d.resourceURL,
		"authorization_servers":    []string{d.idpURL},
		"bearer_methods_supported": []string{"header"},
	}
}

// ResourceMetadataURL is the absolute URL of the protected-resource
// document, used in WWW-Authenticate challenges.
func (d *Discovery) ResourceMetadataURL() string {
	return d.resourceURL + "/.well-known/oauth-protected-resource"
}

// Register mounts the well-known endpoints on a gin router. The paths are
// served both bare and with a suffix so clients that append the resource
// path to the well-known prefix still resolve.
func (d *Discovery) Register(r gin.IRoutes, suffixes ...string) {
	asDoc := d.AuthorizationServerMetadata()
	prDoc := d.ProtectedResourceMetadata()

	serve := func(doc gin.H) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.JSON(http.StatusOK, doc)
		}
	}

	r.GET("/.well-known/oauth-authorization-server", serve(asDoc))
	r.GET("/.well-known/oauth-protected-resource", serve(prDoc))
	for _, suffix := range suffixes {
		r.GET("/.well-known/oauth-authorization-server/"+suffix, serve(asDoc))
		r.GET("/.well-known/oauth-protected-resource/"+suffix, serve(prDoc))
	}
}
