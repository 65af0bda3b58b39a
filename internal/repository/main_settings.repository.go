package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/romnatson3/copy-trade/internal/entity"
)

type MainSettingsRepository struct {
	db *sqlx.DB
}

func NewMainSettingsRepository(db *sqlx.DB) *MainSettingsRepository {
	return &MainSettingsRepository{db: db}
}

// Get reads the singleton settings row. The row is seeded by migration, so a
// missing row is a real error, not a not-found condition.
func (r *MainSettingsRepository) Get(ctx context.Context) (*entity.MainSettings, error) {
	var settings entity.MainSettings
	err := r.db.GetContext(ctx, &settings, "SELECT * FROM main_settings WHERE id = 1")
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
