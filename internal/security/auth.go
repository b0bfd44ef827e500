package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chatstack/messaging-service/internal/access"
	"github.com/chatstack/messaging-service/internal/config"
	registrystore "github.com/chatstack/messaging-service/internal/registry/store"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextKeySubject is the gin context key for the token subject.
	ContextKeySubject = "subject"
	// ContextKeyTokenAdmin is the gin context key for token-granted admin.
	ContextKeyTokenAdmin = "tokenAdmin"
	// ContextKeyRequester is the gin context key for the resolved requester.
	ContextKeyRequester = "requester"
)

// Identity is the outcome of verifying a bearer token. Subject is the user id
// or email the token names; TokenAdmin is true when the token itself carries
// the admin role (OIDC role claim or the configured admin subject list).
type Identity struct {
	Subject    string
	TokenAdmin bool
}

// TokenResolver verifies bearer tokens. It is initialized once at startup and
// shared by all requests.
type TokenResolver struct {
	verifier      *oidc.IDTokenVerifier
	jwtSecret     []byte
	adminOIDCRole string
	adminSubjects map[string]bool
}

// NewTokenResolver creates a TokenResolver from the application config. It
// performs one-time OIDC provider discovery when OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	var verifier *oidc.IDTokenVerifier
	if cfg.OIDCIssuer != "" {
		ctx := context.Background()
		expectedIssuer := cfg.OIDCIssuer
		discoveryURL := cfg.OIDCIssuer
		if cfg.OIDCDiscoveryURL != "" && cfg.OIDCDiscoveryURL != cfg.OIDCIssuer {
			// Discovery URL differs from issuer (e.g. internal hostname).
			// InsecureIssuerURLContext tells NewProvider to accept the
			// mismatched issuer in the discovery document.
			ctx = oidc.InsecureIssuerURLContext(ctx, expectedIssuer)
			discoveryURL = cfg.OIDCDiscoveryURL
		}
		provider, err := oidc.NewProvider(ctx, discoveryURL)
		if err != nil {
			log.Error("Failed to initialize OIDC provider; token auth falls back to other modes", "issuer", discoveryURL, "err", err)
		} else {
			verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
			log.Info("OIDC auth enabled", "issuer", expectedIssuer)
		}
	}

	adminOIDCRole := strings.TrimSpace(cfg.AdminOIDCRole)
	if adminOIDCRole == "" {
		adminOIDCRole = "admin"
	}

	var secret []byte
	if cfg.JWTSecret != "" {
		secret = []byte(cfg.JWTSecret)
		log.Info("HMAC JWT auth enabled")
	}

	return &TokenResolver{
		verifier:      verifier,
		jwtSecret:     secret,
		adminOIDCRole: adminOIDCRole,
		adminSubjects: splitCSV(cfg.AdminUsers),
	}
}

var (
	errInvalidJWT      = errors.New("invalid JWT")
	errMissingIdentity = errors.New("token missing identity claims")
)

// Resolve verifies a bearer token (raw value, without the "Bearer " prefix)
// and returns the caller's Identity.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken string) (*Identity, error) {
	switch {
	case r.verifier != nil && strings.Count(bearerToken, ".") >= 2:
		return r.resolveOIDC(ctx, bearerToken)
	case r.jwtSecret != nil && strings.Count(bearerToken, ".") >= 2:
		return r.resolveHMAC(bearerToken)
	case r.verifier != nil || r.jwtSecret != nil:
		return nil, errInvalidJWT
	default:
		// Static mode: the token is the subject.
		subject := strings.TrimSpace(bearerToken)
		if subject == "" {
			return nil, errMissingIdentity
		}
		return &Identity{Subject: subject, TokenAdmin: r.adminSubjects[subject]}, nil
	}
}

func (r *TokenResolver) resolveOIDC(ctx context.Context, bearerToken string) (*Identity, error) {
	idToken, err := r.verifier.Verify(ctx, bearerToken)
	if err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}

	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}
	subject := claims.Email
	if subject == "" {
		subject = claims.PreferredUsername
	}
	if subject == "" {
		subject = claims.Sub
	}
	if subject == "" {
		return nil, errMissingIdentity
	}

	admin := r.adminSubjects[subject]
	var rawClaims map[string]any
	if err := idToken.Claims(&rawClaims); err == nil {
		if extractTokenRoles(rawClaims)[r.adminOIDCRole] {
			admin = true
		}
	}
	return &Identity{Subject: subject, TokenAdmin: admin}, nil
}

func (r *TokenResolver) resolveHMAC(bearerToken string) (*Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(bearerToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.jwtSecret, nil
	})
	if err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}

	subject, _ := claims["email"].(string)
	if subject == "" {
		subject, _ = claims["sub"].(string)
	}
	if subject == "" {
		return nil, errMissingIdentity
	}

	admin := r.adminSubjects[subject]
	if extractTokenRoles(map[string]any(claims))[r.adminOIDCRole] {
		admin = true
	}
	return &Identity{Subject: subject, TokenAdmin: admin}, nil
}

// --- Gin middleware ---

// GetSubject returns the verified token subject from the gin context.
func GetSubject(c *gin.Context) string {
	return c.GetString(ContextKeySubject)
}

// GetRequester returns the store-resolved requester from the gin context.
// Only set on routes behind RequireUser.
func GetRequester(c *gin.Context) access.Requester {
	v, _ := c.Get(ContextKeyRequester)
	r, _ := v.(access.Requester)
	return r
}

// AuthMiddleware verifies the Authorization header with the given resolver
// and stores the token subject in the gin context. Requests without a valid
// bearer token are rejected with 401.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header; expected Bearer token"})
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextKeySubject, id.Subject)
		c.Set(ContextKeyTokenAdmin, id.TokenAdmin)
		c.Next()
	}
}

// RequireUser resolves the token subject against the identity store and
// stores the resulting requester in the gin context. A subject the store does
// not know is an invalid credential (401), not a missing resource.
func RequireUser(store registrystore.MessagingStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		requester, err := store.Authenticate(c.Request.Context(), GetSubject(c))
		if err != nil {
			var authErr *registrystore.AuthenticationError
			if errors.As(err, &authErr) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authErr.Error()})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if c.GetBool(ContextKeyTokenAdmin) {
			requester.Admin = true
		}
		c.Set(ContextKeyRequester, requester)
		c.Next()
	}
}

// RequireAdmin requires the resolved requester to hold the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetRequester(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "forbidden"})
			return
		}
		c.Next()
	}
}

// --- helpers ---

func splitCSV(raw string) map[string]bool {
	result := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		result[item] = true
	}
	return result
}

func extractTokenRoles(claims map[string]any) map[string]bool {
	result := map[string]bool{}
	addList := func(values []string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			result[v] = true
		}
	}

	addList(toStringSlice(claims["roles"]))
	addList(toStringSlice(claims["groups"]))

	if scope, ok := claims["scope"].(string); ok {
		addList(strings.Fields(scope))
	}

	// Keycloak-style realm_access.roles.
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		addList(toStringSlice(realm["roles"]))
	}

	return result
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
