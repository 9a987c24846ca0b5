package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth authenticates callers against bcrypt hashes of the issued API
// keys. Plain keys never live in configuration. A verified key is
// remembered by its SHA-256 digest so the bcrypt cost is paid once.
type APIKeyAuth struct {
	headerName string
	hashes     [][]byte
	verified   *lru.Cache[string, struct{}]
}

// NewAPIKeyAuth creates an authenticator. Empty hashes are ignored; with
// no hashes at all every request is rejected.
func NewAPIKeyAuth(headerName string, hashes []string) *APIKeyAuth {
	if headerName == "" {
		headerName = "X-API-Key"
	}
	a := &APIKeyAuth{headerName: headerName}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	a.verified, _ = lru.New[string, struct{}](256)
	return a
}

// IsValid checks a presented key.
func (a *APIKeyAuth) IsValid(key string) bool {
	if key == "" {
		return false
	}
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])
	if a.verified.Contains(digest) {
		return true
	}
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			a.verified.Add(digest, struct{}{})
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid key. The key is read from
// the configured header or from a Bearer authorization.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(a.headerName)
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key == "" {
			WriteError(w, r, http.StatusUnauthorized, "missing_api_key", "API key is required")
			return
		}
		if !a.IsValid(key) {
			WriteError(w, r, http.StatusUnauthorized, "invalid_api_key", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTOR MIDDLEWARE
// The marketplace backend authenticates end users and forwards who acted in
// two headers. Requests that change occurrences or enrollments need them.
// ══════════════════════════════════════════════════════════════════════════════

const (
	HeaderActorKind = "X-Actor-Kind"
	HeaderActorID   = "X-Actor-ID"
)

type actorKey struct{}

// ActorMiddleware parses the actor headers into the request context. A
// request with malformed headers is rejected; one without them proceeds
// anonymously.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorKind)))
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if kind == "" && id == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor := shared.Actor{Kind: shared.ActorKind(kind), ID: id}
		if !actor.IsValid() || actor.Kind == shared.ActorSystem {
			WriteError(w, r, http.StatusBadRequest, "invalid_actor", "actor headers are malformed")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a shared.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor of the request, if any.
func ActorFromContext(ctx context.Context) (shared.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(shared.Actor)
	return a, ok
}

// ══════════════════════════════════════════════════════════════════════════════
// SECURITY HEADERS MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeadersMiddleware adds security-related headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SIZE LIMIT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
