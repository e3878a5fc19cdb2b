package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/handlers"
	"github.com/muzaffar640/vidread-backend/internal/middleware"
	"github.com/muzaffar640/vidread-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	jobHandler *handlers.JobHandler,
	bookHandler *handlers.BookHandler,
	wsHub *websocket.Hub,
	frontendURL string,
	log logrus.FieldLogger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	// Submissions start paid provider work (10 req/min per IP)
	submitLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Job Routes ────
		r.Route("/jobs", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.With(submitLimiter.Middleware).Post("/", jobHandler.Submit)
			r.Get("/{id}", jobHandler.Get)
			r.Post("/{id}/advance", jobHandler.Advance)
			r.Delete("/{id}", jobHandler.Cancel)
			r.Get("/{id}/book", jobHandler.Book)
		})

		// ──── Book Routes ────
		r.Route("/books", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", bookHandler.List)
			r.Get("/{id}", bookHandler.Get)
			r.Put("/{id}", bookHandler.Revise)
			r.Delete("/{id}", bookHandler.Delete)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
