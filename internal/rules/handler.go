package rules

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/commonfund/commonfund/internal/platform/httpx"
	"github.com/commonfund/commonfund/internal/split"
)

type ruleService interface {
	SetupConfig(ctx context.Context, actorID, ownerUnitID int64, model DisbursementModel) (*SplitConfig, error)
	ReplaceRuleSet(ctx context.Context, actorID, configID int64, effectiveFrom time.Time, inputs []RuleInput) (int32, error)
	ActiveConfig(ctx context.Context, ownerUnitID int64) (*SplitConfig, error)
	ActiveRules(ctx context.Context, ownerUnitID int64, asOf time.Time) ([]SplitRule, error)
	RuleSet(ctx context.Context, configID int64, version int32) ([]SplitRule, error)
	ListVersions(ctx context.Context, configID int64) ([]RuleSetVersion, error)
}

// Handler exposes the administrator surface for split configuration.
type Handler struct {
	logger   *slog.Logger
	service  ruleService
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service ruleService) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches rule store routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/split-configs", h.createConfig)
	r.Get("/split-configs/owner/{ownerUnitID}", h.activeConfig)
	r.Put("/split-configs/{configID}/rules", h.replaceRules)
	r.Get("/split-configs/{configID}/versions", h.listVersions)
	r.Get("/split-configs/{configID}/rules/{version}", h.ruleSet)
}

type createConfigRequest struct {
	OwnerUnitID       int64  `json:"owner_unit_id" validate:"required,gt=0"`
	DisbursementModel string `json:"disbursement_model" validate:"required,oneof=CENTRALLY_MANAGED UNIT_SELF_MANAGED"`
}

type ruleDTO struct {
	RecipientUnitID int64   `json:"recipient_unit_id" validate:"required,gt=0"`
	Percentage      float64 `json:"percentage" validate:"required,gt=0,lte=100"`
	SortOrder       int32   `json:"sort_order" validate:"gte=0"`
}

type replaceRulesRequest struct {
	EffectiveFrom *time.Time `json:"effective_from"`
	Rules         []ruleDTO  `json:"rules" validate:"required,min=1,dive"`
}

type ruleView struct {
	RecipientUnitID int64   `json:"recipient_unit_id"`
	Percentage      float64 `json:"percentage"`
	SortOrder       int32   `json:"sort_order"`
	RuleSetVersion  int32   `json:"rule_set_version"`
	EffectiveFrom   string  `json:"effective_from"`
}

func (h *Handler) createConfig(w http.ResponseWriter, r *http.Request) {
	var req createConfigRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cfg, err := h.service.SetupConfig(r.Context(), actorID(r), req.OwnerUnitID, DisbursementModel(req.DisbursementModel))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cfg)
}

func (h *Handler) activeConfig(w http.ResponseWriter, r *http.Request) {
	ownerUnitID, err := pathID(r, "ownerUnitID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid owner unit id")
		return
	}
	cfg, err := h.service.ActiveConfig(r.Context(), ownerUnitID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ruleSet, err := h.service.ActiveRules(r.Context(), ownerUnitID, time.Now().UTC())
	if err != nil && !errors.Is(err, ErrNoActiveConfig) {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"config": cfg,
		"rules":  ruleViews(ruleSet),
	})
}

func (h *Handler) replaceRules(w http.ResponseWriter, r *http.Request) {
	configID, err := pathID(r, "configID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid config id")
		return
	}
	var req replaceRulesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inputs := make([]RuleInput, len(req.Rules))
	for i, dto := range req.Rules {
		inputs[i] = RuleInput{
			RecipientUnitID: dto.RecipientUnitID,
			PercentageBps:   int32(math.Round(dto.Percentage * 100)),
			SortOrder:       dto.SortOrder,
		}
	}
	var effectiveFrom time.Time
	if req.EffectiveFrom != nil {
		effectiveFrom = *req.EffectiveFrom
	}
	version, err := h.service.ReplaceRuleSet(r.Context(), actorID(r), configID, effectiveFrom, inputs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rule_set_version": version})
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	configID, err := pathID(r, "configID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid config id")
		return
	}
	versions, err := h.service.ListVersions(r.Context(), configID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (h *Handler) ruleSet(w http.ResponseWriter, r *http.Request) {
	configID, err := pathID(r, "configID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid config id")
		return
	}
	version, err := pathID(r, "version")
	if err != nil || version > math.MaxInt32 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid version")
		return
	}
	ruleSet, err := h.service.RuleSet(r.Context(), configID, int32(version))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": ruleViews(ruleSet)})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoActiveConfig):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, split.ErrInvalidRuleSet):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Rule Set", err.Error())
	default:
		h.logger.Error("rules handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func ruleViews(ruleSet []SplitRule) []ruleView {
	views := make([]ruleView, len(ruleSet))
	for i, rule := range ruleSet {
		views[i] = ruleView{
			RecipientUnitID: rule.RecipientUnitID,
			Percentage:      float64(rule.PercentageBps) / 100,
			SortOrder:       rule.SortOrder,
			RuleSetVersion:  rule.RuleSetVersion,
			EffectiveFrom:   rule.EffectiveFrom.UTC().Format(time.RFC3339),
		}
	}
	return views
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// actorID reads the operator identity forwarded by the authenticating proxy.
// The engine treats it as an opaque capability reference for audit purposes.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
