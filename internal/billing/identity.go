package billing

import (
	"context"
	"net/http"
	"strings"
)

// User is the authenticated caller of a billing endpoint.
type User struct {
	ID    string
	Email string
}

// Identity extracts the authenticated user from a request. The billing
// service sits behind the platform's auth proxy, so the default
// implementation trusts the identity headers that proxy injects. Deploying
// without the proxy requires a different Identity.
type Identity interface {
	UserFromRequest(r *http.Request) (User, bool)
}

// HeaderIdentity reads X-User-ID and X-User-Email.
type HeaderIdentity struct{}

// UserFromRequest implements Identity.
func (HeaderIdentity) UserFromRequest(r *http.Request) (User, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		return User{}, false
	}
	return User{
		ID:    id,
		Email: strings.TrimSpace(r.Header.Get("X-User-Email")),
	}, true
}

type userContextKey struct{}

// requireUser rejects unauthenticated requests and stashes the user in the
// request context.
func requireUser(identity Identity, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := identity.UserFromRequest(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromContext returns the user stashed by requireUser.
func userFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}

// AdminKeyMiddleware returns middleware that requires a valid admin API key
// via X-Admin-Key or Authorization: Bearer.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if key == "" || adminKey == "" || key != adminKey {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
