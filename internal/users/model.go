package users

import (
	"time"

	"github.com/shopspring/decimal"
)

// User owns a credit balance and resume projects.
type User struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	FullName  string          `json:"fullName"`
	Credits   decimal.Decimal `json:"credits"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
