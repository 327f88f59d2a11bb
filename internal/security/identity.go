package security

import (
	"context"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/memoric/memoric/internal/config"
)

// Capability gates operations beyond a caller's own user scope.
type Capability string

const (
	// CapabilityGlobal allows retrieval across all users.
	CapabilityGlobal Capability = "global"
	// CapabilityAdmin allows the admin endpoints (policy runs, cluster
	// rebuilds, inspection).
	CapabilityAdmin Capability = "admin"
)

// ContextKeyClientID is the gin context key for the resolved client ID.
const ContextKeyClientID = "clientID"

// Identity is the resolved caller.
type Identity struct {
	ClientID     string
	Capabilities map[Capability]bool
}

// Has reports whether the identity carries the capability. A nil identity
// has none.
func (id *Identity) Has(c Capability) bool {
	return id != nil && id.Capabilities[c]
}

type identityKey struct{}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the caller identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Resolver maps bearer tokens to identities using the static API key table
// from config. With no keys configured authentication is disabled and every
// caller resolves to an anonymous identity with full capabilities.
type Resolver struct {
	apiKeys       map[string]string // key value → client id
	globalClients map[string]bool
	adminClients  map[string]bool
	anonymous     bool
}

// NewResolver builds a Resolver from config.
func NewResolver(cfg *config.Config) *Resolver {
	r := &Resolver{
		apiKeys:       cfg.APIKeys,
		globalClients: splitSet(cfg.GlobalClients),
		adminClients:  splitSet(cfg.AdminClients),
	}
	if len(cfg.APIKeys) == 0 {
		r.anonymous = true
		log.Warn("Authentication disabled: no API keys configured, all callers get full capabilities")
	}
	return r
}

func splitSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[part] = true
		}
	}
	return out
}

// Resolve maps a bearer token to an identity. The second return is false
// for unknown tokens.
func (r *Resolver) Resolve(token string) (*Identity, bool) {
	if r.anonymous {
		return &Identity{
			ClientID: "anonymous",
			Capabilities: map[Capability]bool{
				CapabilityGlobal: true,
				CapabilityAdmin:  true,
			},
		}, true
	}
	clientID, ok := r.apiKeys[token]
	if !ok {
		return nil, false
	}
	caps := map[Capability]bool{}
	if r.globalClients[clientID] {
		caps[CapabilityGlobal] = true
	}
	if r.adminClients[clientID] {
		caps[CapabilityAdmin] = true
	}
	return &Identity{ClientID: clientID, Capabilities: caps}, true
}

// AuthMiddleware resolves the Authorization header and stores the identity
// on the request context for downstream handlers.
func AuthMiddleware(resolver *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resolver.Resolve(bearerToken(c.Request))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Set(ContextKeyClientID, id.ClientID)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin capability.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityFromContext(c.Request.Context()).Has(CapabilityAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin capability required"})
			return
		}
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
