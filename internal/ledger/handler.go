package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/commonfund/commonfund/internal/platform/httpx"
	"github.com/commonfund/commonfund/internal/rules"
	"github.com/commonfund/commonfund/internal/shared"
	"github.com/commonfund/commonfund/internal/split"
)

// Handler exposes contribution ingestion and ledger operations.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/contributions/events", h.ingestEvent)
	r.Get("/ledger/entries", h.listEntries)
	r.Get("/ledger/entries/{entryID}", h.getEntry)
	r.Post("/ledger/entries/{entryID}/reverse", h.reverseEntry)
	r.Post("/ledger/entries/{entryID}/retry", h.retryEntry)
}

type contributionEventRequest struct {
	ContributionID    string    `json:"contribution_id" validate:"required"`
	SourceType        string    `json:"source_type" validate:"required,oneof=MEMBERSHIP_DUE DONATION"`
	AmountMinorUnits  int64     `json:"amount_minor_units" validate:"required,gt=0"`
	Currency          string    `json:"currency" validate:"required,len=3"`
	OriginatingUnitID int64     `json:"originating_unit_id" validate:"required,gt=0"`
	OccurredAt        time.Time `json:"occurred_at" validate:"required"`
}

// ingestEvent receives ContributionCompleted facts from the payment
// collaborator. Delivery is at-least-once; a replay returns the already
// recorded entries with 200 instead of an error.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req contributionEventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entries, created, err := h.service.RecordContribution(r.Context(), ContributionEvent{
		ContributionID:    req.ContributionID,
		SourceType:        SourceType(req.SourceType),
		Amount:            req.AmountMinorUnits,
		Currency:          req.Currency,
		OriginatingUnitID: req.OriginatingUnitID,
		OccurredAt:        req.OccurredAt,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	httpx.JSON(w, status, map[string]any{
		"contribution_id": req.ContributionID,
		"created":         created,
		"entries":         entries,
	})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := EntryFilter{
		ContributionID: q.Get("contribution_id"),
		Status:         Status(q.Get("status")),
	}
	filter.RecipientUnitID, _ = strconv.ParseInt(q.Get("recipient_unit_id"), 10, 64)
	if periodStr := q.Get("period"); periodStr != "" {
		period, err := shared.ParsePeriod(periodStr)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		filter.From, filter.To = period.Bounds()
	}

	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pagination := shared.NewPagination(page, perPage, 0)
	filter.Limit = pagination.PerPage
	filter.Offset = pagination.Offset()

	entries, total, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": shared.NewPagination(pagination.Page, pagination.PerPage, total),
	})
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	entry, err := h.service.Entry(r.Context(), entryID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type reverseRequest struct {
	AmountMinorUnits int64  `json:"amount_minor_units" validate:"gte=0"`
	Reason           string `json:"reason" validate:"required"`
}

func (h *Handler) reverseEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	reversal, err := h.service.Reverse(r.Context(), actorID(r), entryID, req.AmountMinorUnits, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reversal)
}

func (h *Handler) retryEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	entry, err := h.service.Retry(r.Context(), actorID(r), entryID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrIllegalTransition):
		httpx.Problem(w, http.StatusConflict, "Illegal Transition", err.Error())
	case errors.Is(err, ErrOverReversal):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over Reversal", err.Error())
	case errors.Is(err, rules.ErrNoActiveConfig), errors.Is(err, split.ErrInvalidRuleSet):
		httpx.Problem(w, http.StatusUnprocessableEntity, "No Valid Rule Set", err.Error())
	default:
		h.logger.Error("ledger handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// actorID reads the operator identity forwarded by the authenticating proxy.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
