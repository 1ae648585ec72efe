package tenant

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ErrorHandler writes the response for a request without a usable tenant.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Middleware resolves the principal from HeaderTenantID and HeaderUserID.
// Requests without a valid tenant are passed to onError.
func Middleware(onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderTenantID))
			if raw == "" {
				onError(w, r, ErrMissingTenant)
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil || id == uuid.Nil {
				onError(w, r, ErrInvalidTenant)
				return
			}
			p := Principal{TenantID: id, UserID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
