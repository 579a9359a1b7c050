package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// The gateway surface is browser-facing and CORS-open; identity comes from
	// the optional bearer token inside the handler, not from the origin.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		r.Post("/chat-proxy", apiHandler.ChatProxyHandler)
	})

	// All API routes live under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", apiHandler.HealthHandler)

		// Identity-resolved routes. A missing token means guest, not 401;
		// handlers that require login reject guests individually.
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.IdentityMiddleware)

			// Chat routes
			r.Post("/chats", apiHandler.InitChatHandler)
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Post("/chats/{chatID}/messages", apiHandler.PostMessageHandler)
			r.Get("/chats/{chatID}/stream", apiHandler.StreamMessageHandler)

			// Profile and metering
			r.Get("/profile", apiHandler.GetProfileHandler)
			r.Put("/profile", apiHandler.UpdateProfileHandler)
			r.Get("/credits", apiHandler.GetCreditsHandler)
			r.Post("/credits/grant", apiHandler.GrantCreditsHandler)

			// Deep-dive scenarios
			r.Get("/scenarios", apiHandler.ListScenariosHandler)
			r.Post("/scenarios/{scenarioType}/run", apiHandler.RunScenarioHandler)

			// Documents
			r.Post("/documents/analyze", apiHandler.AnalyzeDocumentHandler)
			r.Get("/documents", apiHandler.ListDocumentsHandler)
		})
	})

	return r
}
