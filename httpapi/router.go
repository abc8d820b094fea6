package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter returns the full handler tree with CORS and request logging.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Avito-Secret"},
	}))
	r.Use(app.requestLog)

	RegisterRoutes(r, app)
	return r
}

// RegisterRoutes mounts the API on r.
func RegisterRoutes(r chi.Router, app *App) {
	r.Get("/", healthHandler)
	r.Get("/tasks/debug", app.debugHandler)
	r.Get("/logs/has", app.logsHasHandler)
	r.Post("/webhook/{account}", app.webhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(app.requireKey)
		r.Post("/tasks/enqueue", app.enqueueHandler)
		r.HandleFunc("/tasks/claim", app.claimHandler)
		r.Post("/tasks/done", app.doneHandler)
		r.Post("/tasks/requeue", app.requeueHandler)
		r.Post("/tasks/complete", app.completeHandler)
		r.Get("/tasks/events", app.eventsHandler)
	})
}

func (a *App) requestLog(next http.Handler) http.Handler {
	log := a.logger().WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug("request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
	})
}
