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

type SymbolRepository struct {
	db *sqlx.DB
}

func NewSymbolRepository(db *sqlx.DB) *SymbolRepository {
	return &SymbolRepository{db: db}
}

// Upsert refreshes the exchange metadata blob for one contract. The leverage
// column is not touched here, it is owned by the leverage-bracket sync and the
// ACCOUNT_CONFIG_UPDATE handler.
func (r *SymbolRepository) Upsert(ctx context.Context, symbol *entity.Symbol) error {
	now := time.Now().UTC()

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(symbol.TableName()).
		Columns("symbol", "data", "is_active", "leverage", "created_at", "updated_at").
		Values(symbol.Symbol, symbol.Data, symbol.IsActive, symbol.Leverage, now, now).
		Suffix("ON CONFLICT (symbol) DO UPDATE SET data = EXCLUDED.data, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *SymbolRepository) GetBySymbol(ctx context.Context, symbol string) (*entity.Symbol, error) {
	var result entity.Symbol
	err := r.db.GetContext(ctx, &result, "SELECT * FROM symbols WHERE symbol = $1", symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrSymbolNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *SymbolRepository) GetActive(ctx context.Context) ([]entity.Symbol, error) {
	var symbols []entity.Symbol
	err := r.db.SelectContext(ctx, &symbols, "SELECT * FROM symbols WHERE is_active = TRUE ORDER BY symbol")
	if err != nil {
		return nil, err
	}
	return symbols, nil
}

func (r *SymbolRepository) UpdateLeverage(ctx context.Context, symbol string, leverage int) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update("symbols").
		Set("leverage", leverage).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"symbol": symbol})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// DeactivateMissing retires every contract the exchange no longer lists.
func (r *SymbolRepository) DeactivateMissing(ctx context.Context, activeSymbols []string) error {
	if len(activeSymbols) == 0 {
		return nil
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update("symbols").
		Set("is_active", false).
		Set("updated_at", time.Now().UTC()).
		Where(sq.NotEq{"symbol": activeSymbols}).
		Where(sq.Eq{"is_active": true})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
