package api

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/go-chi/chi/v5"

	"github.com/appy-one/acebase-server-sub001/internal/api/handler"
	"github.com/appy-one/acebase-server-sub001/internal/api/middleware"
	"github.com/appy-one/acebase-server-sub001/internal/audit"
	"github.com/appy-one/acebase-server-sub001/internal/auth"
	"github.com/appy-one/acebase-server-sub001/internal/oauth"
	"github.com/appy-one/acebase-server-sub001/internal/rules"
	"github.com/appy-one/acebase-server-sub001/internal/storage"
	"github.com/appy-one/acebase-server-sub001/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Service     *auth.Service
	Store       storage.Store
	Engine      *rules.Engine
	Providers   *oauth.Registry
	Socket      *ws.Server
	AuditLog    *audit.PostgresSink
	DBName      string
	Version     string
	AuthEnabled bool
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	bearer := middleware.Bearer(deps.Service, deps.AuthEnabled)

	var registry *ws.Registry
	if deps.Socket != nil {
		registry = deps.Socket.Registry()
	}
	healthHandler := handler.NewHealthHandler(deps.DBName, deps.Version, registry)
	r.Get("/health", healthHandler.ServeHTTP)

	authHandler := handler.NewAuthHandler(deps.Service)
	r.Route("/auth/{db}", func(r chi.Router) {
		r.Use(bearer)
		r.Post("/signin", authHandler.SignIn)
		r.Post("/signup", authHandler.SignUp)
		r.Post("/forgot_password", authHandler.ForgotPassword)
		r.Post("/reset_password", authHandler.ResetPassword)
		r.Post("/verify_email", authHandler.VerifyEmail)
		r.Get("/state", authHandler.State)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth())
			r.Post("/update", authHandler.Update)
			r.Post("/delete", authHandler.Delete)
			r.Post("/change_password", authHandler.ChangePassword)
			r.Post("/send_email_verification", authHandler.SendEmailVerification)
		})
	})

	if deps.Providers != nil {
		oauthHandler := handler.NewOAuthHandler(deps.Providers, deps.Service)
		r.Route("/oauth2/{db}", func(r chi.Router) {
			r.Get("/init", oauthHandler.Init)
			r.Post("/signin", oauthHandler.SignIn)
		})
	}

	exportHandler := handler.NewExportHandler(deps.Store, deps.Engine)
	r.With(bearer, middleware.RequireAuth()).Get("/export/{db}", exportHandler.ServeHTTP)

	logsHandler := handler.NewLogsHandler(deps.AuditLog)
	r.With(bearer, middleware.RequireAdmin()).Get("/logs/{db}", logsHandler.ServeHTTP)

	r.With(bearer).Get("/ws/{db}", func(w http.ResponseWriter, req *http.Request) {
		deps.Socket.Handle(w, req, middleware.GetUser(req.Context()))
	})

	return r
}
