package stats

import (
	"net/http"

	"circulationapi/internal/httpx"
)

type HTTPHandler struct {
	aggregator *Aggregator
}

func NewHTTPHandler(aggregator *Aggregator) *HTTPHandler {
	return &HTTPHandler{aggregator: aggregator}
}

// Get handles GET /api/stats
// @Summary Library statistics
// @Description Total books, total accounts and active loans
// @Tags stats
// @Produce json
// @Success 200 {object} httpx.SuccessResponse
// @Router /api/stats [get]
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.aggregator.Stats(r.Context())
	if err != nil {
		httpx.JSONError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "Statistics unavailable", nil)
		return
	}
	httpx.JSONSuccess(w, r, s, nil)
}
