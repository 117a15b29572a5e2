package middleware

import (
	"context"
	"net/http"

	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
)

// RequestTimeout bounds each request context by the server's write timeout,
// so an in-flight authority call is cancelled instead of writing into a
// connection the server already gave up on.
func RequestTimeout(cfg config.HTTPSettings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.WriteTimeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), cfg.WriteTimeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
