package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/romnatson3/copy-trade/internal/entity"
)

type PositionSettingsRepository struct {
	db *sqlx.DB
}

func NewPositionSettingsRepository(db *sqlx.DB) *PositionSettingsRepository {
	return &PositionSettingsRepository{db: db}
}

func (r *PositionSettingsRepository) Create(ctx context.Context, settings *entity.PositionSettings) error {
	now := time.Now().UTC()
	settings.CreatedAt = now
	settings.UpdatedAt = now

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(settings.TableName()).
		Columns(
			"position_id",
			"take_profit_rate",
			"stop_loss_rate",
			"trailing_stop_callback_rate",
			"trailing_stop_activation_price_rate",
			"created_at",
			"updated_at",
		).
		Values(
			settings.PositionID,
			settings.TakeProfitRate,
			settings.StopLossRate,
			settings.TrailingStopCallbackRate,
			settings.TrailingStopActivationPriceRate,
			settings.CreatedAt,
			settings.UpdatedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRowContext(ctx, query, args...).Scan(&settings.ID)
}

func (r *PositionSettingsRepository) Update(ctx context.Context, settings *entity.PositionSettings) error {
	settings.UpdatedAt = time.Now().UTC()

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(settings.TableName()).
		Set("take_profit_rate", settings.TakeProfitRate).
		Set("stop_loss_rate", settings.StopLossRate).
		Set("trailing_stop_callback_rate", settings.TrailingStopCallbackRate).
		Set("trailing_stop_activation_price_rate", settings.TrailingStopActivationPriceRate).
		Set("updated_at", settings.UpdatedAt).
		Where(sq.Eq{"id": settings.ID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *PositionSettingsRepository) GetByPositionID(ctx context.Context, positionID int64) (*entity.PositionSettings, error) {
	var settings entity.PositionSettings
	err := r.db.GetContext(ctx, &settings, "SELECT * FROM position_settings WHERE position_id = $1", positionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
