package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
)

const catalogNameMaxLen = 50

type CatalogMatcher struct {
	catalog ports.CatalogRepository
}

func NewCatalogMatcher(catalog ports.CatalogRepository) *CatalogMatcher {
	return &CatalogMatcher{catalog: catalog}
}

// FindOrCreate resolves a parsed line item against the catalog, first hit
// wins: exact description match, then item-code substring against names,
// then creation. The project association is ensured idempotently on every
// outcome; a nil project means "associate later".
func (m *CatalogMatcher) FindOrCreate(ctx context.Context, item domain.ParsedLineItem, projectID *string) (*domain.CatalogItem, error) {
	found, err := m.catalog.GetByDescription(ctx, item.Description)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup by description: %w", err)
	}

	if found == nil && item.ItemCode != "" {
		found, err = m.catalog.SearchByName(ctx, item.ItemCode)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup by code: %w", err)
		}
	}

	if found == nil {
		created := &domain.CatalogItem{
			Name:        catalogName(item),
			Description: item.Description,
			// Stock is derived from assigned invoices, never seeded
			// from invoice data.
			Stock: decimal.Zero,
		}
		found, err = m.catalog.Create(ctx, created)
		if err != nil {
			return nil, fmt.Errorf("catalog create: %w", err)
		}
	}

	if projectID != nil {
		if err := m.catalog.EnsureProject(ctx, found.ID, *projectID); err != nil {
			return nil, fmt.Errorf("ensure catalog project association: %w", err)
		}
	}

	return found, nil
}

func catalogName(item domain.ParsedLineItem) string {
	if item.ItemCode != "" {
		return item.ItemCode
	}
	cleaned := strings.TrimSpace(item.Description)
	if cleaned == "" {
		return "ITEM"
	}
	if len(cleaned) <= catalogNameMaxLen {
		return cleaned
	}
	return strings.TrimSpace(cleaned[:catalogNameMaxLen])
}
