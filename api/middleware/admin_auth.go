package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/webhook-relay/api/responses"
	pkgAuth "github.com/angelmondragon/webhook-relay/pkg/auth"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

// AdminAuth requires a bearer operator token and seeds the operator into the
// request context and log fields.
func AdminAuth(cfg config.AdminConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAdminToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithOperator(r.Context(), claims.Operator)
			if logg != nil {
				ctx = logg.WithField(ctx, "operator", claims.Operator)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
