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

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Upsert writes the latest lifecycle snapshot of an order. Repeated events for
// one order id always collapse into a single row.
func (r *OrderRepository) Upsert(ctx context.Context, order *entity.Order) error {
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
			"position_id",
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
			"realized_profit",
			"execution_type",
			"last_filled_qty",
			"last_filled_price",
			"filled_accum_qty",
			"commission_asset",
			"commission",
			"trade_id",
			"is_maker",
			"cum_quote",
			"executed_qty",
			"time",
			"update_time",
			"transaction_time",
			"created_at",
			"updated_at",
		).
		Values(
			order.OrderID,
			order.PositionID,
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
			order.RealizedProfit,
			order.ExecutionType,
			order.LastFilledQty,
			order.LastFilledPrice,
			order.FilledAccumQty,
			order.CommissionAsset,
			order.Commission,
			order.TradeID,
			order.IsMaker,
			order.CumQuote,
			order.ExecutedQty,
			order.Time,
			order.UpdateTime,
			order.TransactionTime,
			order.CreatedAt,
			order.UpdatedAt,
		).
		Suffix(`ON CONFLICT (order_id) DO UPDATE SET
			position_id = COALESCE(EXCLUDED.position_id, orders.position_id),
			status = EXCLUDED.status,
			orig_qty = EXCLUDED.orig_qty,
			avg_price = EXCLUDED.avg_price,
			price = EXCLUDED.price,
			stop_price = EXCLUDED.stop_price,
			realized_profit = EXCLUDED.realized_profit,
			execution_type = EXCLUDED.execution_type,
			last_filled_qty = EXCLUDED.last_filled_qty,
			last_filled_price = EXCLUDED.last_filled_price,
			filled_accum_qty = EXCLUDED.filled_accum_qty,
			commission_asset = EXCLUDED.commission_asset,
			commission = EXCLUDED.commission,
			trade_id = EXCLUDED.trade_id,
			is_maker = EXCLUDED.is_maker,
			cum_quote = EXCLUDED.cum_quote,
			executed_qty = EXCLUDED.executed_qty,
			update_time = EXCLUDED.update_time,
			transaction_time = EXCLUDED.transaction_time,
			updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID int64) (*entity.Order, error) {
	var order entity.Order
	err := r.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByPositionID(ctx context.Context, positionID int64) ([]entity.Order, error) {
	var orders []entity.Order
	err := r.db.SelectContext(ctx, &orders, "SELECT * FROM orders WHERE position_id = $1 ORDER BY time", positionID)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// AttachOrphans retro-links orders that arrived before their position existed.
// An order belongs to a fresh position when it has no position yet, trades the
// same symbol and carries the same transaction time as the position event.
func (r *OrderRepository) AttachOrphans(ctx context.Context, positionID int64, symbol string, transactionTime int64) (int64, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update("orders").
		Set("position_id", positionID).
		Set("updated_at", time.Now().UTC()).
		Where("position_id IS NULL").
		Where(sq.Eq{"symbol": symbol}).
		Where(sq.Eq{"transaction_time": transactionTime})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
