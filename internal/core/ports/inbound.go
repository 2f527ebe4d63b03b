package ports

import (
	"context"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

// IngestionRunner is the inbound contract for executing one ingestion run
// against a configured source.
type IngestionRunner interface {
	Run(ctx context.Context, sourceName string, window FetchWindow) (domain.SyncResult, error)
}

// RuleEvaluator is the inbound contract for standalone rule evaluation,
// usable by non-email ingestion paths (manual entry, direct upload).
type RuleEvaluator interface {
	Evaluate(ctx context.Context, invoice *domain.Invoice) (domain.AssignmentVerdict, error)
}

// InvoiceAssigner mutates an invoice's project link and keeps catalog
// associations and stock consistent with it.
type InvoiceAssigner interface {
	AssignProject(ctx context.Context, invoiceID, projectID string) error
	UnassignProject(ctx context.Context, invoiceID string) error
}

// StockRecalculator rewrites a catalog item's derived stock from current
// invoice state.
type StockRecalculator interface {
	Recompute(ctx context.Context, catalogItemID string) error
}

// CatalogResolver resolves a parsed line item to a catalog entry, creating
// one when nothing matches.
type CatalogResolver interface {
	FindOrCreate(ctx context.Context, item domain.ParsedLineItem, projectID *string) (*domain.CatalogItem, error)
}
