package middleware

import (
	"net/http"
	"strings"

	"github.com/farmlink/farmlink-backend/api/responses"
	pkgAuth "github.com/farmlink/farmlink-backend/pkg/auth"
	"github.com/farmlink/farmlink-backend/pkg/config"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
)

const bearerScheme = "bearer"

// Auth validates a bearer token minted by the identity service and seeds the
// request context with its principal.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{UserID: claims.UserID, Role: claims.Role})
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, claims.UserID.String()), claims.Role.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the credential from the Authorization header. A bare
// token without a scheme is accepted.
func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, rest, found := strings.Cut(header, " ")
	if !found {
		return header, true
	}
	if !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token := strings.TrimSpace(rest)
	return token, token != ""
}
