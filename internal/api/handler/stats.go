package handler

import (
	"log/slog"
	"net/http"

	"github.com/iconidentify/vidfetch/internal/counter"
	"github.com/iconidentify/vidfetch/internal/domain"
)

// StatsHandler exposes the download counter.
type StatsHandler struct {
	store  counter.Store
	today  func() string
	logger *slog.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(store counter.Store, logger *slog.Logger) *StatsHandler {
	if store == nil {
		store = counter.Noop{}
	}
	return &StatsHandler{
		store:  store,
		today:  domain.Today,
		logger: logger,
	}
}

// IncrementDownload handles POST /increment-download.
func (h *StatsHandler) IncrementDownload(w http.ResponseWriter, r *http.Request) {
	day := h.today()
	if err := h.store.Increment(r.Context(), day); err != nil {
		h.logger.Error("increment download counter", "day", day, "error", err)
		writeError(w, http.StatusInternalServerError, domain.UnexpectedPrefix+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats handles GET /stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	day := h.today()
	stats, err := h.store.Stats(r.Context(), day)
	if err != nil {
		h.logger.Error("read download counter", "day", day, "error", err)
		writeError(w, http.StatusInternalServerError, domain.UnexpectedPrefix+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
