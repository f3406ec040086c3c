package rules

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for split configs and
// rule-set versions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateConfig activates a new split config for the owner unit, deactivating
// any predecessor in the same transaction so exactly one config stays active.
func (r *Repository) CreateConfig(ctx context.Context, ownerUnitID int64, model DisbursementModel) (*SplitConfig, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		UPDATE split_configs
		SET is_active = FALSE, deactivated_at = NOW()
		WHERE owner_unit_id = $1 AND is_active`, ownerUnitID)
	if err != nil {
		return nil, err
	}

	cfg := SplitConfig{OwnerUnitID: ownerUnitID, DisbursementModel: model, IsActive: true}
	err = tx.QueryRow(ctx, `
		INSERT INTO split_configs (owner_unit_id, disbursement_model, is_active, created_at)
		VALUES ($1, $2, TRUE, NOW())
		RETURNING id, created_at`, ownerUnitID, string(model)).Scan(&cfg.ID, &cfg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ActiveConfig returns the active config for an owner unit.
func (r *Repository) ActiveConfig(ctx context.Context, ownerUnitID int64) (*SplitConfig, error) {
	return r.scanConfig(r.pool.QueryRow(ctx, `
		SELECT id, owner_unit_id, disbursement_model, is_active, created_at, deactivated_at
		FROM split_configs
		WHERE owner_unit_id = $1 AND is_active`, ownerUnitID))
}

// ConfigByID returns a config regardless of active state.
func (r *Repository) ConfigByID(ctx context.Context, id int64) (*SplitConfig, error) {
	return r.scanConfig(r.pool.QueryRow(ctx, `
		SELECT id, owner_unit_id, disbursement_model, is_active, created_at, deactivated_at
		FROM split_configs
		WHERE id = $1`, id))
}

func (r *Repository) scanConfig(row pgx.Row) (*SplitConfig, error) {
	var cfg SplitConfig
	var model string
	var deactivatedAt pgtype.Timestamptz
	err := row.Scan(&cfg.ID, &cfg.OwnerUnitID, &model, &cfg.IsActive, &cfg.CreatedAt, &deactivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg.DisbursementModel = DisbursementModel(model)
	if deactivatedAt.Valid {
		cfg.DeactivatedAt = &deactivatedAt.Time
	}
	return &cfg, nil
}

// ReplaceRuleSet appends a new rule-set version for the config. Prior versions
// keep their rows untouched; only the is_active convenience flag moves.
func (r *Repository) ReplaceRuleSet(ctx context.Context, configID int64, effectiveFrom time.Time, inputs []RuleInput) (int32, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT TRUE FROM split_configs WHERE id = $1 FOR UPDATE`, configID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var version int32
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(rule_set_version), 0) + 1
		FROM split_rules
		WHERE config_id = $1`, configID).Scan(&version)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE split_rules SET is_active = FALSE
		WHERE config_id = $1 AND is_active`, configID)
	if err != nil {
		return 0, err
	}

	for _, in := range inputs {
		_, err = tx.Exec(ctx, `
			INSERT INTO split_rules (config_id, rule_set_version, recipient_unit_id, percentage_bps, sort_order, is_active, effective_from, created_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6, NOW())`,
			configID, version, in.RecipientUnitID, in.PercentageBps, in.SortOrder, effectiveFrom)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return version, nil
}

// ActiveRules resolves the rule set in force for the owner unit at the given
// instant: the highest version of the active config whose effective_from is
// not in the future of asOf.
func (r *Repository) ActiveRules(ctx context.Context, ownerUnitID int64, asOf time.Time) ([]SplitRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.config_id, r.rule_set_version, r.recipient_unit_id, r.percentage_bps, r.sort_order, r.is_active, r.effective_from, r.created_at
		FROM split_rules r
		JOIN split_configs c ON c.id = r.config_id
		WHERE c.owner_unit_id = $1
		  AND c.is_active
		  AND r.rule_set_version = (
			SELECT MAX(r2.rule_set_version)
			FROM split_rules r2
			WHERE r2.config_id = r.config_id AND r2.effective_from <= $2
		  )
		ORDER BY r.sort_order`, ownerUnitID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ruleSet, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(ruleSet) == 0 {
		return nil, ErrNoActiveConfig
	}
	return ruleSet, nil
}

// RuleSet returns one stored rule-set version.
func (r *Repository) RuleSet(ctx context.Context, configID int64, version int32) ([]SplitRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, config_id, rule_set_version, recipient_unit_id, percentage_bps, sort_order, is_active, effective_from, created_at
		FROM split_rules
		WHERE config_id = $1 AND rule_set_version = $2
		ORDER BY sort_order`, configID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ruleSet, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(ruleSet) == 0 {
		return nil, ErrNotFound
	}
	return ruleSet, nil
}

// ListVersions summarises the rule-set history of a config, newest first.
func (r *Repository) ListVersions(ctx context.Context, configID int64) ([]RuleSetVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT rule_set_version, MIN(effective_from), COUNT(*)
		FROM split_rules
		WHERE config_id = $1
		GROUP BY rule_set_version
		ORDER BY rule_set_version DESC`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []RuleSetVersion
	for rows.Next() {
		var v RuleSetVersion
		if err := rows.Scan(&v.Version, &v.EffectiveFrom, &v.RuleCount); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func scanRules(rows pgx.Rows) ([]SplitRule, error) {
	var ruleSet []SplitRule
	for rows.Next() {
		var rule SplitRule
		if err := rows.Scan(&rule.ID, &rule.ConfigID, &rule.RuleSetVersion, &rule.RecipientUnitID, &rule.PercentageBps, &rule.SortOrder, &rule.IsActive, &rule.EffectiveFrom, &rule.CreatedAt); err != nil {
			return nil, err
		}
		ruleSet = append(ruleSet, rule)
	}
	return ruleSet, rows.Err()
}
