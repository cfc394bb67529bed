package handler

import (
	"net/http"
	"time"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogger stores a request-scoped logger in the context and logs each
// completed request. It must run after middleware.RequestID.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := logger.L().With(
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.ToContext(r.Context(), l)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{logger.Status(status), logger.Duration(time.Since(start))}
		if status >= http.StatusInternalServerError {
			l.Warn("request completed", fields...)
			return
		}
		l.Debug("request completed", fields...)
	})
}

// RequireUser resolves the signed-in end user and rejects anonymous requests with 401
func RequireUser(authn auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authn.Authenticate(r)
			if err != nil {
				writeAPIError(w, r, auth.ErrUnauthenticated)
				return
			}
			ctx := auth.WithUser(r.Context(), userID)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserID(userID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
