package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/appy-one/acebase-server-sub001/internal/api/response"
	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
	"github.com/appy-one/acebase-server-sub001/internal/token"
)

const userKey contextKey = "user"

// queryTokenPrefixes lists the route prefixes allowed to carry the
// bearer token as an auth_token query parameter instead of a header,
// for contexts where headers are impractical (file downloads).
var queryTokenPrefixes = []string{"/export/", "/logs/"}

// Bearer resolves a bearer token to a user account and attaches it to
// the request context. Requests without a token pass through
// anonymously; requests with a bad token fail immediately. When auth is
// disabled the middleware is a no-op.
func Bearer(service *auth.Service, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			details, err := token.ParsePublicToken(raw, service.Salt())
			if err != nil {
				response.Err(w, http.StatusUnauthorized, auth.CodeInvalidToken, "invalid bearer token")
				return
			}

			account, ok := service.Cache().Get(r.Context(), details.UID)
			if !ok {
				account, err = service.SignIn(r.Context(), auth.SignInRequest{
					Method:       auth.MethodInternal,
					UID:          details.UID,
					PrivateToken: details.AccessToken,
					ClientIP:     ClientIP(r),
				})
				if err != nil {
					var serr *auth.SignInError
					if errors.As(err, &serr) {
						response.Err(w, http.StatusUnauthorized, serr.Code, "not authenticated")
						return
					}
					response.Unexpected(w, err)
					return
				}
			}

			// A cached session may predate an admin disabling the
			// account; the flag on the record wins.
			if account.IsDisabled {
				response.Err(w, http.StatusUnauthorized, auth.CodeAccountDisabled, "account is disabled")
				return
			}
			if account.AccessToken != details.AccessToken {
				response.Err(w, http.StatusUnauthorized, auth.CodeTokenMismatch, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser retrieves the authenticated account from the request context,
// or nil for anonymous requests.
func GetUser(ctx context.Context) *auth.UserAccount {
	if u, ok := ctx.Value(userKey).(*auth.UserAccount); ok {
		return u
	}
	return nil
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUser(r.Context()) == nil {
				response.Err(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects everyone but the reserved admin identity with
// 403.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				response.Err(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
				return
			}
			if user.UID != rules.AdminUID {
				slog.Warn("admin endpoint denied", "uid", user.UID, "path", r.URL.Path)
				response.Err(w, http.StatusForbidden, "forbidden", "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from the Authorization header, or from
// the auth_token query parameter on allow-listed paths.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	for _, prefix := range queryTokenPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return r.URL.Query().Get("auth_token")
		}
	}
	return ""
}

// ClientIP returns the remote address without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
