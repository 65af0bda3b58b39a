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

type CopyTradeOrderRepository struct {
	db *sqlx.DB
}

func NewCopyTradeOrderRepository(db *sqlx.DB) *CopyTradeOrderRepository {
	return &CopyTradeOrderRepository{db: db}
}

func (r *CopyTradeOrderRepository) Upsert(ctx context.Context, order *entity.CopyTradeOrder) error {
	now := time.Now().UTC()
	order.UpdatedAt = now
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(order.TableName()).
		Columns(
			"order_id",
			"copy_trade_account_id",
			"master_order_id",
			"symbol",
			"client_order_id",
			"status",
			"side",
			"position_side",
			"order_type",
			"orig_type",
			"orig_qty",
			"avg_price",
			"price",
			"working_type",
			"reduce_only",
			"close_position",
			"stop_price",
			"time_in_force",
			"activation_price",
			"price_rate",
			"time",
			"transaction_time",
			"created_at",
			"updated_at",
		).
		Values(
			order.OrderID,
			order.CopyTradeAccountID,
			order.MasterOrderID,
			order.Symbol,
			order.ClientOrderID,
			order.Status,
			order.Side,
			order.PositionSide,
			order.OrderType,
			order.OrigType,
			order.OrigQty,
			order.AvgPrice,
			order.Price,
			order.WorkingType,
			order.ReduceOnly,
			order.ClosePosition,
			order.StopPrice,
			order.TimeInForce,
			order.ActivationPrice,
			order.PriceRate,
			order.Time,
			order.TransactionTime,
			order.CreatedAt,
			order.UpdatedAt,
		).
		Suffix(`ON CONFLICT (order_id, copy_trade_account_id) DO UPDATE SET
			master_order_id = COALESCE(EXCLUDED.master_order_id, copy_trade_orders.master_order_id),
			status = EXCLUDED.status,
			orig_qty = EXCLUDED.orig_qty,
			avg_price = EXCLUDED.avg_price,
			price = EXCLUDED.price,
			stop_price = EXCLUDED.stop_price,
			transaction_time = EXCLUDED.transaction_time,
			updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// GetByMasterOrderID resolves the follower-side order mirroring a master order.
// Cancellation routing depends on this back-reference.
func (r *CopyTradeOrderRepository) GetByMasterOrderID(ctx context.Context, accountID, masterOrderID int64) (*entity.CopyTradeOrder, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("copy_trade_orders").
		Where(sq.Eq{"copy_trade_account_id": accountID}).
		Where(sq.Eq{"master_order_id": masterOrderID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var order entity.CopyTradeOrder
	err = r.db.GetContext(ctx, &order, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}
