package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/padaria-campaigns/internal/errors"
	"github.com/unclebandit/padaria-campaigns/internal/model"
)

type OfferRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Offer, error)
}

type OfferRepository struct {
	DB *sql.DB
}

func (r *OfferRepository) GetByID(ctx context.Context, id int) (*model.Offer, error) {
	var o model.Offer
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, title, description, price, original_price, starts_on, ends_on, image_path, active
		FROM offers WHERE id = $1`, id,
	).Scan(&o.ID, &o.TenantID, &o.Title, &o.Description, &o.Price, &o.OriginalPrice,
		&o.StartsOn, &o.EndsOn, &o.ImagePath, &o.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("offer", id)
		}
		return nil, fmt.Errorf("get offer %d: %w", id, err)
	}
	return &o, nil
}

var _ OfferRepositoryInterface = (*OfferRepository)(nil)
