package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogItem is a deduplicated product/service entry referenced by invoice
// items across invoices. Stock is derived state: it is always recomputed from
// invoice items of project-assigned invoices, never written directly.
type CatalogItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Stock       decimal.Decimal `json:"stock"`
	ProjectIDs  []string        `json:"project_ids,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
