package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/common/config"
	apperrors "github.com/taskflow/taskflow/internal/common/errors"
	"github.com/taskflow/taskflow/internal/common/logger"
)

// APIKeyPrefix routes a credential to API-key verification.
const APIKeyPrefix = "tf_"

// Verifier validates bearer credentials against the identity provider.
type Verifier struct {
	idpURL string
	keys   *KeyCache
	client *http.Client
	logger *logger.Logger
	dev    config.DevConfig
}

// NewVerifier creates a Verifier for the configured IdP.
func NewVerifier(cfg config.IdPConfig, dev config.DevConfig, log *logger.Logger) *Verifier {
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Verifier{
		idpURL: base,
		keys:   NewKeyCache(base+"/api/auth/jwks", cfg.KeyCacheTTLDuration(), cfg.TimeoutDuration(), log),
		client: &http.Client{Timeout: cfg.TimeoutDuration()},
		logger: log,
		dev:    dev,
	}
}

// DevMode reports whether credential verification is bypassed.
func (v *Verifier) DevMode() bool {
	return v.dev.Enabled
}

// Warm pre-fetches the JWKS key set. Called at startup.
func (v *Verifier) Warm(ctx context.Context) {
	if v.dev.Enabled {
		return
	}
	if err := v.keys.Warm(ctx); err != nil {
		v.logger.Warn("failed to warm JWKS cache", zap.Error(err))
	}
}

// Verify resolves a bearer credential to a Principal.
//
// Routing: "tf_" prefixed tokens go to API-key verification. Everything else
// is tried as a signed token first; any failure short of IdP unavailability
// falls back to the opaque userinfo path.
func (v *Verifier) Verify(ctx context.Context, token string) (*Principal, error) {
	if v.dev.Enabled {
		return v.devPrincipal(), nil
	}
	if token == "" {
		return nil, apperrors.Unauthorized("missing bearer token")
	}

	if strings.HasPrefix(token, APIKeyPrefix) {
		return v.verifyAPIKey(ctx, token)
	}

	principal, signedErr := v.verifySignedToken(ctx, token)
	if signedErr == nil {
		return principal, nil
	}
	if apperrors.IsServiceUnavailable(signedErr) {
		return nil, signedErr
	}

	principal, opaqueErr := v.verifyOpaqueToken(ctx, token)
	if opaqueErr == nil {
		return principal, nil
	}
	if apperrors.IsServiceUnavailable(opaqueErr) {
		return nil, opaqueErr
	}
	return nil, apperrors.Unauthorized(fmt.Sprintf(
		"token rejected: %s; %s", failureMessage(signedErr), failureMessage(opaqueErr)))
}

func failureMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// verifySignedToken checks a three-segment RS256 token locally against the
// cached JWKS keys. Audience verification is disabled; expiry is enforced.
func (v *Verifier) verifySignedToken(ctx context.Context, token string) (*Principal, error) {
	if strings.Count(token, ".") != 2 {
		return nil, apperrors.Unauthorized("token malformed")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return v.keys.Key(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperrors.Unauthorized("token expired")
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, apperrors.Unauthorized("token malformed")
		default:
			return nil, apperrors.Unauthorized(fmt.Sprintf("signature verification failed: %v", err))
		}
	}

	return principalFromClaims(claims, CredentialSigned), nil
}

// verifyOpaqueToken consults the IdP userinfo endpoint with the token as a
// bearer. 401 means the token is invalid; any other non-200 means the IdP is
// unreachable or unhealthy.
func (v *Verifier) verifyOpaqueToken(ctx context.Context, token string) (*Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.idpURL+"/api/auth/oauth2/userinfo", nil)
	if err != nil {
		return nil, apperrors.InternalError("failed to build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("identity provider")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperrors.Unauthorized("token invalid")
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.ServiceUnavailable("identity provider")
	}

	claims := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, apperrors.InternalError("failed to decode userinfo response", err)
	}

	return principalFromClaims(claims, CredentialOpaque), nil
}

// verifyAPIKey posts the key to the IdP verification endpoint.
func (v *Verifier) verifyAPIKey(ctx context.Context, token string) (*Principal, error) {
	body, _ := json.Marshal(map[string]string{"key": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.idpURL+"/api/api-key/verify", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.InternalError("failed to build api-key request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("identity provider")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ServiceUnavailable("identity provider")
	}

	var result struct {
		Valid bool `json:"valid"`
		Key   struct {
			ID     string `json:"id"`
			UserID string `json:"userId"`
			Name   string `json:"name"`
		} `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.InternalError("failed to decode api-key response", err)
	}
	if !result.Valid {
		return nil, apperrors.Unauthorized("token invalid")
	}

	return &Principal{
		ExternalID: result.Key.UserID,
		ClientID:   result.Key.ID,
		ClientName: result.Key.Name,
		Kind:       CredentialAPIKey,
	}, nil
}

func (v *Verifier) devPrincipal() *Principal {
	return &Principal{
		ExternalID:  v.dev.UserID,
		Email:       v.dev.Email,
		DisplayName: v.dev.DisplayName,
		Kind:        CredentialDev,
	}
}

// principalFromClaims extracts the canonical identity fields from a claims
// map (JWT claims or userinfo body).
func principalFromClaims(claims map[string]interface{}, kind CredentialKind) *Principal {
	p := &Principal{Kind: kind}
	p.ExternalID = stringClaim(claims, "sub")
	p.Email = stringClaim(claims, "email")
	p.DisplayName = stringClaim(claims, "name")
	if p.DisplayName == "" {
		p.DisplayName = stringClaim(claims, "preferred_username")
	}
	p.ClientID = stringClaim(claims, "client_id")
	if p.ClientID == "" {
		p.ClientID = stringClaim(claims, "azp")
	}
	p.ClientName = stringClaim(claims, "client_name")

	if tenant := stringClaim(claims, "tenant_id"); tenant != "" {
		p.TenantClaim = tenant
	} else if org := stringClaim(claims, "organization_id"); org != "" {
		p.TenantClaim = org
	}
	if raw, ok := claims["organization_ids"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				p.OrgIDs = append(p.OrgIDs, s)
			}
		}
	}
	return p
}

func stringClaim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}
