package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/model"
)

// CustomerRepositoryInterface defines methods used by service
type CustomerRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Customer, error)
	ListOptedIn(ctx context.Context, tenantID int) ([]model.Customer, error)
}

// CustomerRepository reads the customer table owned by the customer service.
type CustomerRepository struct {
	DB *sql.DB
}

const customerColumns = `id, tenant_id, name, phone, email, accepts_promotions, active`

func (r *CustomerRepository) GetByID(ctx context.Context, id int) (*model.Customer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)

	var c model.Customer
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email, &c.AcceptsPromotions, &c.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("customer", id)
		}
		return nil, err
	}
	return &c, nil
}

// ListOptedIn returns the tenant's active customers that accept promotions, in id order.
func (r *CustomerRepository) ListOptedIn(ctx context.Context, tenantID int) ([]model.Customer, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE tenant_id = $1 AND accepts_promotions AND active
		ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list opted-in customers of tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	customers := []model.Customer{}
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email, &c.AcceptsPromotions, &c.Active); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)
