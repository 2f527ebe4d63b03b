package usecase

import (
	"context"
	"fmt"

	"github.com/construmedicis/buildtracking/internal/core/ports"
)

type StockService struct {
	catalog ports.CatalogRepository
}

func NewStockService(catalog ports.CatalogRepository) *StockService {
	return &StockService{catalog: catalog}
}

// Recompute derives a catalog item's stock from current state: the sum of
// invoice-item quantities whose owning invoice holds a project reference.
// Idempotent; invoked after every project-link change.
func (s *StockService) Recompute(ctx context.Context, catalogItemID string) error {
	sum, err := s.catalog.SumAssignedQuantity(ctx, catalogItemID)
	if err != nil {
		return fmt.Errorf("sum assigned quantity: %w", err)
	}
	if err := s.catalog.SetStock(ctx, catalogItemID, sum); err != nil {
		return fmt.Errorf("write stock: %w", err)
	}
	return nil
}
