// internal/model/tenant.go
package model

// Tenant is a bakery using the platform. Its slug identifies its gateway instance.
type Tenant struct {
	ID     int    `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Slug   string `db:"slug" json:"slug"`
	Active bool   `db:"active" json:"active"`
}
