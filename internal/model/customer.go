// internal/model/customer.go
package model

import "strings"

const whatsAppCountryCode = "55"

type Customer struct {
	ID                int    `db:"id" json:"id"`
	TenantID          int    `db:"tenant_id" json:"tenant_id"`
	Name              string `db:"name" json:"name"`
	Phone             string `db:"phone" json:"phone"`
	Email             string `db:"email" json:"email,omitempty"`
	AcceptsPromotions bool   `db:"accepts_promotions" json:"accepts_promotions"`
	Active            bool   `db:"active" json:"active"`
}

// WhatsAppNumber returns the phone as digits only, prefixed with the Brazilian country code.
func WhatsAppNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if !strings.HasPrefix(digits, whatsAppCountryCode) {
		digits = whatsAppCountryCode + digits
	}
	return digits
}

func (c *Customer) WhatsAppNumber() string {
	return WhatsAppNumber(c.Phone)
}

// FirstName returns the first word of name, or name itself when it has none.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[0]
}
