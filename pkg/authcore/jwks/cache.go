package jwks

import (
	"container/list"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/sclera-labs/authgate/pkg/apperrors"
	"github.com/sclera-labs/authgate/pkg/logger"
)

// MaxIssuers bounds how many distinct issuer URLs the cache will track
// concurrently, per the "bounded (<=16 entries)" requirement. Registering a
// 17th issuer evicts the least recently used one.
const MaxIssuers = 16

// DefaultTTL is the refresh window applied to every registered JWKS URL.
const DefaultTTL = 600 * time.Second

// Cache maps (issuer, kid) to a public key, fetching and caching per-issuer
// JWKS documents lazily on first use. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	jwkCache *jwk.Cache
	client   *http.Client

	// issuerJWKSURL and the LRU list together implement the bounded
	// registration set; jwk.Cache itself owns the per-URL refresh timing.
	issuerJWKSURL map[string]string
	lru           *list.List
	lruElems      map[string]*list.Element
}

// New builds a Cache that fetches through client (a bounded, SSRF-hardened
// client from networking.NewHttpClientBuilder).
func New(ctx context.Context, client *http.Client) (*Cache, error) {
	httprcClient := httprc.NewClient(httprc.WithHTTPClient(client))
	jc, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, apperrors.NewUpstreamUnavailableError("failed to create JWKS cache", err)
	}
	return &Cache{
		jwkCache:      jc,
		client:        client,
		issuerJWKSURL: make(map[string]string),
		lru:           list.New(),
		lruElems:      make(map[string]*list.Element),
	}, nil
}

// touch marks issuer as most-recently-used, evicting the least-recently-used
// entry if this registration would exceed MaxIssuers.
func (c *Cache) touch(issuer string) {
	if elem, ok := c.lruElems[issuer]; ok {
		c.lru.MoveToFront(elem)
		return
	}
	c.lruElems[issuer] = c.lru.PushFront(issuer)
	for c.lru.Len() > MaxIssuers {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(string)
		c.lru.Remove(oldest)
		delete(c.lruElems, evicted)
		delete(c.issuerJWKSURL, evicted)
		logger.Debugw("evicting JWKS cache entry", "issuer", evicted)
	}
}

// ensureRegistered discovers and registers issuer's JWKS URL if not already
// tracked.
func (c *Cache) ensureRegistered(ctx context.Context, issuer string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if url, ok := c.issuerJWKSURL[issuer]; ok {
		c.touch(issuer)
		return url, nil
	}

	jwksURL, err := discoverJWKSURI(ctx, c.client, issuer)
	if err != nil {
		return "", err
	}

	regCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.jwkCache.Register(regCtx, jwksURL, jwk.WithMinInterval(DefaultTTL)); err != nil {
		return "", apperrors.NewUpstreamUnavailableError("failed to register JWKS URL", err)
	}

	c.issuerJWKSURL[issuer] = jwksURL
	c.touch(issuer)
	return jwksURL, nil
}

// ErrUnknownKey is wrapped by the error Lookup returns when the JWKS
// document has no key matching kid.
var ErrUnknownKey = apperrors.NewInvalidTokenError("no signing key matches kid", nil)

// Lookup returns the public key for (issuer, kid), fetching and caching the
// issuer's JWKS document on first use or TTL expiry.
func (c *Cache) Lookup(ctx context.Context, issuer, kid string) (interface{}, error) {
	jwksURL, err := c.ensureRegistered(ctx, issuer)
	if err != nil {
		return nil, err
	}

	keySet, err := c.jwkCache.Lookup(ctx, jwksURL)
	if err != nil {
		return nil, apperrors.NewUpstreamUnavailableError("failed to fetch JWKS", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, apperrors.NewInvalidTokenError(fmt.Sprintf("key id %q not found in JWKS for issuer %q", kid, issuer), ErrUnknownKey)
	}

	var rawKey interface{}
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, apperrors.NewInvalidTokenError("failed to export JWKS key", err)
	}
	return rawKey, nil
}
