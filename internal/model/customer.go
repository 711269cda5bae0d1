// internal/model/customer.go
package model

import "time"

type Customer struct {
	ID             int64      `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Email          string     `db:"email" json:"email"`
	TotalSpends    float64    `db:"total_spends" json:"totalSpends"`
	VisitCount     int        `db:"visit_count" json:"visitCount"`
	LastActiveDate *time.Time `db:"last_active_at" json:"lastActiveDate,omitempty"`
}
