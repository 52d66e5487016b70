// internal/model/offer.go
package model

import (
	"math"
	"time"
)

// Offer is a tenant promotion a campaign can be built from.
type Offer struct {
	ID            int        `db:"id" json:"id"`
	TenantID      int        `db:"tenant_id" json:"tenant_id"`
	Title         string     `db:"title" json:"title"`
	Description   string     `db:"description" json:"description"`
	Price         *float64   `db:"price" json:"price,omitempty"`
	OriginalPrice *float64   `db:"original_price" json:"original_price,omitempty"`
	StartsOn      *time.Time `db:"starts_on" json:"starts_on,omitempty"`
	EndsOn        *time.Time `db:"ends_on" json:"ends_on,omitempty"`
	ImagePath     string     `db:"image_path" json:"image_path,omitempty"`
	Active        bool       `db:"active" json:"active"`
}

// DiscountPercentage returns the whole-number discount, or nil when it cannot be computed.
func (o *Offer) DiscountPercentage() *int {
	if o.Price == nil || o.OriginalPrice == nil || *o.OriginalPrice <= 0 {
		return nil
	}
	d := int(math.RoundToEven((*o.OriginalPrice - *o.Price) / *o.OriginalPrice * 100))
	return &d
}
