package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	custommiddleware "github.com/mmeshcher/friendledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	if h.opts.Metrics != nil {
		r.Use(h.opts.Metrics.Handler)
	}
	r.Use(h.corsHandler())
	r.Use(custommiddleware.GzipMiddleware)

	if h.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if h.opts.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(h.opts.RequestTimeout))
		}

		r.Get("/health", h.Health)
		r.Post("/reconcile", h.ReconcileAll)

		r.Route("/friends", func(r chi.Router) {
			r.Get("/", h.ListFriends)
			r.Post("/", h.CreateFriend)
			r.Get("/{id}", h.GetFriend)
			r.Put("/{id}", h.UpdateFriend)
			r.Delete("/{id}", h.DeleteFriend)
			r.Post("/{id}/settle", h.Settle)
			r.Post("/{id}/reconcile", h.Reconcile)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.CreateExpense)
			r.Get("/friend/{friendId}", h.ListExpensesByFriend)
			r.Get("/{id}", h.GetExpense)
			r.Put("/{id}", h.UpdateExpense)
			r.Delete("/{id}", h.DeleteExpense)
		})
	})

	if h.opts.StaticDir != "" {
		r.Handle("/*", spaHandler(h.opts.StaticDir))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}

func (h *Handler) corsHandler() func(http.Handler) http.Handler {
	origins := h.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Encoding", "X-Request-Id"},
	}).Handler
}

// spaHandler отдаёт собранный фронтенд; неизвестные пути получают index.html.
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if st, err := os.Stat(p); err != nil || st.IsDir() {
			http.ServeFile(w, r, index)
			return
		}
		files.ServeHTTP(w, r)
	})
}
