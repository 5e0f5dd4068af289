// Package auth implements credential verification against the external
// identity provider. Three credential shapes coexist: RS256-signed tokens
// verified locally against cached JWKS keys, opaque tokens checked via the
// IdP userinfo endpoint, and long-lived API keys (prefix "tf_").
package auth

// CredentialKind identifies which verification path produced a principal.
type CredentialKind string

const (
	CredentialSigned CredentialKind = "signed_token"
	CredentialOpaque CredentialKind = "opaque_token"
	CredentialAPIKey CredentialKind = "api_key"
	CredentialDev    CredentialKind = "dev_bypass"
)

// Principal is the canonical authenticated identity extracted from a
// credential. It is transient: request-scoped, never stored.
type Principal struct {
	ExternalID  string         `json:"external_id"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	TenantClaim string         `json:"tenant_claim,omitempty"`
	OrgIDs      []string       `json:"org_ids,omitempty"`
	ClientID    string         `json:"client_id,omitempty"`
	ClientName  string         `json:"client_name,omitempty"`
	Kind        CredentialKind `json:"credential_kind"`
}

// IsAgent reports whether the principal authenticated with an API key,
// which is how agent clients and external tools identify themselves.
func (p *Principal) IsAgent() bool {
	return p.Kind == CredentialAPIKey
}
