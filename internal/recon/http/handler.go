package reconhttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/commonfund/commonfund/internal/platform/httpx"
	"github.com/commonfund/commonfund/internal/recon"
	"github.com/commonfund/commonfund/internal/recon/export"
	"github.com/commonfund/commonfund/internal/shared"
)

// Handler exposes the reconciliation read endpoints.
type Handler struct {
	logger  *slog.Logger
	service *recon.Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *recon.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes attaches reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/recon/totals", h.totals)
	r.Get("/recon/statements/{recipientUnitID}", h.statement)
	r.Get("/recon/contributions/{contributionID}/trail", h.trail)
}

func (h *Handler) totals(w http.ResponseWriter, r *http.Request) {
	period, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}
	totals, err := h.service.Totals(r.Context(), period)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=recon-totals-%s.csv", period.String()))
		if err := export.WriteTotalsCSV(w, totals, period.String()); err != nil {
			h.logger.Error("totals csv", slog.Any("error", err))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"period": period.String(),
		"totals": totals,
	})
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	recipientUnitID, err := strconv.ParseInt(chi.URLParam(r, "recipientUnitID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid recipient unit id")
		return
	}
	period, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pagination := shared.NewPagination(page, perPage, 0)

	statement, err := h.service.Statement(r.Context(), recipientUnitID, period, pagination)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if q.Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=statement-%d-%s.csv", recipientUnitID, period.String()))
		if err := export.WriteStatementCSV(w, *statement); err != nil {
			h.logger.Error("statement csv", slog.Any("error", err))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, statement)
}

func (h *Handler) trail(w http.ResponseWriter, r *http.Request) {
	contributionID := chi.URLParam(r, "contributionID")
	if contributionID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "missing contribution id")
		return
	}
	trail, err := h.service.Trail(r.Context(), contributionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trail)
}

// parsePeriod reads the period query parameter, defaulting to the current
// month.
func (h *Handler) parsePeriod(w http.ResponseWriter, r *http.Request) (shared.Period, bool) {
	periodStr := r.URL.Query().Get("period")
	if periodStr == "" {
		return shared.CurrentPeriod(), true
	}
	period, err := shared.ParsePeriod(periodStr)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return shared.Period{}, false
	}
	return period, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, recon.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error("recon handler", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
