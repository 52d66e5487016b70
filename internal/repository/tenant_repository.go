package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/model"
)

type TenantRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Tenant, error)
}

type TenantRepository struct {
	DB *sql.DB
}

func (r *TenantRepository) GetByID(ctx context.Context, id int) (*model.Tenant, error) {
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, slug, active FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Slug, &t.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("tenant", id)
		}
		return nil, fmt.Errorf("get tenant %d: %w", id, err)
	}
	return &t, nil
}

var _ TenantRepositoryInterface = (*TenantRepository)(nil)
