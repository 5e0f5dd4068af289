package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/taskflow/taskflow/internal/common/logger"
)

// jwksDocument is the RFC 7517 key set served by the IdP.
type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeyCache holds the IdP's RSA verification keys, refreshed at most once per
// TTL. Refresh is single-flight; readers may see a stale snapshot while a
// refresh is in flight. A failed refresh falls back to the stale set
// (fail-open on key refresh, never on verification itself).
type KeyCache struct {
	jwksURL string
	ttl     time.Duration
	client  *http.Client
	logger  *logger.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	group singleflight.Group
}

// NewKeyCache creates a key cache for the given JWKS endpoint.
func NewKeyCache(jwksURL string, ttl time.Duration, timeout time.Duration, log *logger.Logger) *KeyCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &KeyCache{
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// Warm fetches the key set eagerly. Intended for startup; a failure is
// returned so the caller can log it, but serving can proceed (verification
// triggers a refresh on demand).
func (c *KeyCache) Warm(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

// Key returns the RSA public key for the given key id, refreshing the cache
// when the TTL has expired or the kid is unknown to a fresh snapshot.
func (c *KeyCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if !fresh {
		if _, err := c.refresh(ctx); err != nil {
			c.logger.Warn("JWKS refresh failed, using cached keys", zap.Error(err))
		}
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("signing key %q unknown", kid)
	}
	return key, nil
}

// refresh fetches and installs a new key set. Concurrent callers share one
// in-flight fetch; on failure the previous snapshot is kept.
func (c *KeyCache) refresh(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	v, err, _ := c.group.Do("jwks", func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("jwks fetch: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("jwks fetch: idp returned %d", resp.StatusCode)
		}

		var doc jwksDocument
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, fmt.Errorf("jwks decode: %w", err)
		}

		keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
		for _, k := range doc.Keys {
			if k.Kty != "RSA" {
				continue
			}
			pub, err := parseRSAKey(k)
			if err != nil {
				c.logger.Warn("skipping unparseable JWKS key",
					zap.String("kid", k.Kid), zap.Error(err))
				continue
			}
			keys[k.Kid] = pub
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = time.Now()
		c.mu.Unlock()

		c.logger.Debug("JWKS cache refreshed", zap.Int("keys", len(keys)))
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*rsa.PublicKey), nil
}

// parseRSAKey builds an rsa.PublicKey from the base64url modulus/exponent.
func parseRSAKey(k jwkKey) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
