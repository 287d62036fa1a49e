package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-inbox/constants"
)

// Product represents a catalog product for data transfer between layers.
type Product struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       *float64         `json:"price,omitempty"`
	IsDraft     bool             `json:"is_draft"`
	Source      constants.Source `json:"source"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ProductMatch is a candidate product for one extracted line item.
type ProductMatch struct {
	Product    Product `json:"product"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}
