package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	gorillahandlers "github.com/gorilla/handlers"

	"github.com/notevault/server/internal/http/handlers"
	"github.com/notevault/server/internal/middleware"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	authHandler *handlers.AuthHandler,
	notesHandler *handlers.NotesHandler,
	verifier middleware.TokenVerifier,
	corsOrigins []string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignup)
		r.Post("/verify-otp", authHandler.HandleVerifyOTP)
		r.Post("/login", authHandler.HandleLogin)
		r.Get("/google", authHandler.HandleGoogle)
		r.Get("/google/callback", authHandler.HandleGoogleCallback)

		r.With(middleware.Authenticate(verifier)).Get("/me", authHandler.HandleMe)
	})

	// Protected routes (require valid JWT)
	r.Route("/notes", func(r chi.Router) {
		r.Use(middleware.Authenticate(verifier))
		r.Post("/", notesHandler.HandleCreate)
		r.Get("/", notesHandler.HandleList)
		r.Delete("/{id}", notesHandler.HandleDelete)
	})

	return cors(corsOrigins)(r)
}

func cors(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	opts := []gorillahandlers.CORSOption{
		gorillahandlers.AllowedOrigins(origins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	}
	if !(len(origins) == 1 && origins[0] == "*") {
		opts = append(opts, gorillahandlers.AllowCredentials())
	}
	return gorillahandlers.CORS(opts...)
}
