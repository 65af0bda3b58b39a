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

type PositionRepository struct {
	db *sqlx.DB
}

func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) Create(ctx context.Context, position *entity.Position) error {
	now := time.Now().UTC()
	position.CreatedAt = now
	position.UpdatedAt = now

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(position.TableName()).
		Columns(
			"symbol",
			"position_side",
			"side",
			"position_amt",
			"entry_price",
			"break_even_price",
			"unrealized_profit",
			"accumulated_realized",
			"notional",
			"mark_price",
			"liquidation_price",
			"is_open",
			"update_time",
			"transaction_time",
			"created_at",
			"updated_at",
		).
		Values(
			position.Symbol,
			position.PositionSide,
			position.Side,
			position.PositionAmt,
			position.EntryPrice,
			position.BreakEvenPrice,
			position.UnrealizedProfit,
			position.AccumulatedRealized,
			position.Notional,
			position.MarkPrice,
			position.LiquidationPrice,
			position.IsOpen,
			position.UpdateTime,
			position.TransactionTime,
			position.CreatedAt,
			position.UpdatedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRowContext(ctx, query, args...).Scan(&position.ID)
}

func (r *PositionRepository) Update(ctx context.Context, position *entity.Position) error {
	position.UpdatedAt = time.Now().UTC()

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(position.TableName()).
		Set("position_amt", position.PositionAmt).
		Set("entry_price", position.EntryPrice).
		Set("break_even_price", position.BreakEvenPrice).
		Set("unrealized_profit", position.UnrealizedProfit).
		Set("accumulated_realized", position.AccumulatedRealized).
		Set("notional", position.Notional).
		Set("mark_price", position.MarkPrice).
		Set("liquidation_price", position.LiquidationPrice).
		Set("is_open", position.IsOpen).
		Set("update_time", position.UpdateTime).
		Set("transaction_time", position.TransactionTime).
		Set("updated_at", position.UpdatedAt).
		Where(sq.Eq{"id": position.ID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *PositionRepository) GetByID(ctx context.Context, id int64) (*entity.Position, error) {
	var position entity.Position
	err := r.db.GetContext(ctx, &position, "SELECT * FROM positions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// GetOpenBySymbol returns the single open position on a symbol, or
// ErrPositionNotFound. At most one open position per symbol exists.
func (r *PositionRepository) GetOpenBySymbol(ctx context.Context, symbol string) (*entity.Position, error) {
	var position entity.Position
	err := r.db.GetContext(ctx, &position, "SELECT * FROM positions WHERE symbol = $1 AND is_open = TRUE", symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

func (r *PositionRepository) GetOpen(ctx context.Context) ([]entity.Position, error) {
	var positions []entity.Position
	err := r.db.SelectContext(ctx, &positions, "SELECT * FROM positions WHERE is_open = TRUE ORDER BY id")
	if err != nil {
		return nil, err
	}
	return positions, nil
}

func (r *PositionRepository) CountOpenBySide(ctx context.Context, side entity.OrderSide) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM positions WHERE is_open = TRUE AND side = $1", side)
	if err != nil {
		return 0, err
	}
	return count, nil
}
