package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Middleware records request counts and latency labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInflight.Inc()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			m.httpInflight.Dec()

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		}()

		next.ServeHTTP(ww, r)
	})
}
