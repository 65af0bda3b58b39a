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

const masterAccountID = 1

type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetMasterAccount reads the singleton master row.
func (r *AccountRepository) GetMasterAccount(ctx context.Context) (*entity.MasterAccount, error) {
	var account entity.MasterAccount
	err := r.db.GetContext(ctx, &account, "SELECT * FROM master_accounts WHERE id = $1", masterAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) UpdateMasterBalances(ctx context.Context, account *entity.MasterAccount) error {
	return r.updateBalances(ctx, "master_accounts", masterAccountID, balanceFields{
		WalletBalance:      account.WalletBalance,
		AvailableBalance:   account.AvailableBalance,
		MarginBalance:      account.MarginBalance,
		CrossUnrealizedPnl: account.CrossUnrealizedPnl,
		UnrealizedProfit:   account.UnrealizedProfit,
	})
}

func (r *AccountRepository) ListCopyTradeAccounts(ctx context.Context) ([]entity.CopyTradeAccount, error) {
	var accounts []entity.CopyTradeAccount
	err := r.db.SelectContext(ctx, &accounts, "SELECT * FROM copy_trade_accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *AccountRepository) GetCopyTradeAccount(ctx context.Context, id int64) (*entity.CopyTradeAccount, error) {
	var account entity.CopyTradeAccount
	err := r.db.GetContext(ctx, &account, "SELECT * FROM copy_trade_accounts WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) UpdateCopyTradeBalances(ctx context.Context, account *entity.CopyTradeAccount) error {
	return r.updateBalances(ctx, "copy_trade_accounts", account.ID, balanceFields{
		WalletBalance:      account.WalletBalance,
		AvailableBalance:   account.AvailableBalance,
		MarginBalance:      account.MarginBalance,
		CrossUnrealizedPnl: account.CrossUnrealizedPnl,
		UnrealizedProfit:   account.UnrealizedProfit,
	})
}

type balanceFields struct {
	WalletBalance      float64
	AvailableBalance   float64
	MarginBalance      float64
	CrossUnrealizedPnl float64
	UnrealizedProfit   float64
}

func (r *AccountRepository) updateBalances(ctx context.Context, table string, id int64, fields balanceFields) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(table).
		Set("wallet_balance", fields.WalletBalance).
		Set("available_balance", fields.AvailableBalance).
		Set("margin_balance", fields.MarginBalance).
		Set("cross_unrealized_pnl", fields.CrossUnrealizedPnl).
		Set("unrealized_profit", fields.UnrealizedProfit).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
