package circulation

import "net/http"

// Routes registers the circulation endpoints on mux. requireAuth guards every
// route that needs a caller; optionalAuth only attaches one when present.
func (h *HTTPHandler) Routes(mux *http.ServeMux, requireAuth, optionalAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /api/login", h.Login)
	mux.Handle("POST /api/register", requireAuth(http.HandlerFunc(h.Register)))

	mux.Handle("GET /api/books", optionalAuth(http.HandlerFunc(h.ListBooks)))
	mux.Handle("POST /api/books", requireAuth(http.HandlerFunc(h.AddBook)))

	mux.Handle("GET /api/users", requireAuth(http.HandlerFunc(h.ListUsers)))
	mux.Handle("GET /api/users/{username}/history", requireAuth(http.HandlerFunc(h.History)))

	mux.Handle("POST /api/borrow", requireAuth(http.HandlerFunc(h.Borrow)))
	mux.Handle("POST /api/return", requireAuth(http.HandlerFunc(h.Return)))
	mux.Handle("POST /api/favorites", requireAuth(http.HandlerFunc(h.ToggleFavorite)))
}
