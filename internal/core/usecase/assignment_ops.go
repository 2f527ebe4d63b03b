package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
)

// Manual assignment carries full confidence.
const manualAssignmentConfidence = 100

// AssignmentService applies project (un)linking to an invoice while keeping
// catalog associations and derived stock consistent: association and stock
// recompute always run together.
type AssignmentService struct {
	invoices ports.InvoiceRepository
	projects ports.ProjectRepository
	catalog  ports.CatalogRepository
	stock    ports.StockRecalculator
}

func NewAssignmentService(
	invoices ports.InvoiceRepository,
	projects ports.ProjectRepository,
	catalog ports.CatalogRepository,
	stock ports.StockRecalculator,
) *AssignmentService {
	return &AssignmentService{
		invoices: invoices,
		projects: projects,
		catalog:  catalog,
		stock:    stock,
	}
}

func (s *AssignmentService) AssignProject(ctx context.Context, invoiceID, projectID string) error {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	exists, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return domain.WrapError(domain.ErrProjectNotFound, "assign project", errors.New(projectID))
	}

	if err := s.invoices.SetAssignment(ctx, invoice.ID, &projectID, manualAssignmentConfidence); err != nil {
		return fmt.Errorf("set assignment: %w", err)
	}
	return s.refreshLinkedCatalog(ctx, invoice.ID, &projectID)
}

func (s *AssignmentService) UnassignProject(ctx context.Context, invoiceID string) error {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := s.invoices.SetAssignment(ctx, invoice.ID, nil, 0); err != nil {
		return fmt.Errorf("clear assignment: %w", err)
	}
	return s.refreshLinkedCatalog(ctx, invoice.ID, nil)
}

// refreshLinkedCatalog associates linked catalog items with the project (when
// assigning) and recomputes their derived stock in both directions.
func (s *AssignmentService) refreshLinkedCatalog(ctx context.Context, invoiceID string, projectID *string) error {
	items, err := s.invoices.ItemsByInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("load invoice items: %w", err)
	}
	for _, item := range items {
		if item.CatalogItemID == nil {
			continue
		}
		if projectID != nil {
			if err := s.catalog.EnsureProject(ctx, *item.CatalogItemID, *projectID); err != nil {
				return fmt.Errorf("associate catalog item: %w", err)
			}
		}
		if err := s.stock.Recompute(ctx, *item.CatalogItemID); err != nil {
			return fmt.Errorf("recompute stock: %w", err)
		}
	}
	return nil
}
