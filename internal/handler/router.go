package handler

import (
	"net/http"
	"time"

	"github.com/dlddu/tiny-oidc/internal/auth"
	"github.com/dlddu/tiny-oidc/internal/metrics"
	"github.com/dlddu/tiny-oidc/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Dependencies are the services and collaborators the HTTP surface needs
type Dependencies struct {
	Authorize       *service.AuthorizeService
	OAuth           *service.OAuthService
	Clients         *service.ClientService
	Consents        *service.ConsentService
	Keys            KeySetProvider
	Authenticator   auth.Authenticator
	Metrics         *metrics.Metrics
	Issuer          string
	BaseURL         string
	SupportedScopes []string
	HealthChecks    map[string]Pinger
	RequestTimeout  time.Duration
}

// NewRouter wires every endpoint onto a chi router
func NewRouter(d Dependencies) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	authorize := NewAuthorizeHandler(d.Authorize, d.Metrics)
	token := NewTokenHandler(d.OAuth, d.Metrics)
	userinfo := NewUserInfoHandler(d.OAuth, d.Metrics)
	clients := NewClientHandler(d.Clients)
	consents := NewConsentHandler(d.Consents)
	discovery := NewDiscoveryHandler(d.Issuer, d.BaseURL, d.SupportedScopes, d.Keys, d.HealthChecks)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(d.Metrics.Middleware)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", discovery.Health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	r.Get("/.well-known/openid-configuration", discovery.Configuration)
	r.Get("/.well-known/jwks.json", discovery.JWKS)

	r.Route("/oauth", func(r chi.Router) {
		r.Method(http.MethodPost, "/token", token)
		r.Post("/revoke", token.Revoke)
		r.Post("/introspect", token.Introspect)
		r.Method(http.MethodGet, "/userinfo", userinfo)
		r.Method(http.MethodPost, "/userinfo", userinfo)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser(d.Authenticator))

			r.Get("/authorize", authorize.Authorize)
			r.Post("/authorize/consent", authorize.Approve)
			r.Post("/authorize/deny", authorize.Deny)

			r.Route("/clients", func(r chi.Router) {
				r.Post("/", clients.Register)
				r.Get("/", clients.List)
				r.Get("/{id}", clients.Get)
				r.Patch("/{id}", clients.Update)
				r.Delete("/{id}", clients.Delete)
				r.Post("/{id}/secret", clients.RotateSecret)
			})

			r.Route("/admin/clients", func(r chi.Router) {
				r.Get("/", clients.AdminList)
				r.Post("/{id}/{action}", clients.Transition)
			})

			r.Route("/consents", func(r chi.Router) {
				r.Get("/", consents.List)
				r.Delete("/{client_id}", consents.Revoke)
				r.Post("/{client_id}/revoke-scopes", consents.RevokeScopes)
			})
		})
	})

	return r
}
