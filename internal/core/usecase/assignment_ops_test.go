package usecase

import (
	"context"
	"testing"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

func assignmentFixture(t *testing.T) (*AssignmentService, *invoiceRepoFake, *catalogRepoFake, string) {
	t.Helper()
	invoices := newInvoiceRepoFake()
	catalog := newCatalogRepoFake(invoices)
	catalogItem, _ := catalog.Create(context.Background(), &domain.CatalogItem{Description: "Cemento gris"})
	catalogID := catalogItem.ID

	invoice := &domain.Invoice{ID: "inv-1", InvoiceNumber: "FE-1"}
	invoices.byID[invoice.ID] = invoice
	invoices.items[invoice.ID] = []domain.InvoiceItem{
		{InvoiceID: invoice.ID, CatalogItemID: &catalogID, Quantity: mustDecimal("10")},
	}

	svc := NewAssignmentService(
		invoices,
		&projectRepoFake{projects: map[string]string{"proj-1": "Torre Norte"}},
		catalog,
		NewStockService(catalog),
	)
	return svc, invoices, catalog, catalogID
}

func TestAssignProjectUpdatesStockAndAssociation(t *testing.T) {
	svc, invoices, catalog, catalogID := assignmentFixture(t)

	if err := svc.AssignProject(context.Background(), "inv-1", "proj-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	inv := invoices.byID["inv-1"]
	if inv.ProjectID == nil || *inv.ProjectID != "proj-1" {
		t.Fatalf("project not bound: %v", inv.ProjectID)
	}
	if inv.AssignmentConfidence != 100 {
		t.Fatalf("manual assignment confidence = %d, want 100", inv.AssignmentConfidence)
	}
	if !catalog.associations[catalogID]["proj-1"] {
		t.Fatalf("catalog association missing")
	}
	if got := catalog.stocks[catalogID]; !got.Equal(mustDecimal("10")) {
		t.Fatalf("stock = %s, want 10", got)
	}
}

func TestUnassignProjectReturnsStockToZero(t *testing.T) {
	svc, invoices, catalog, catalogID := assignmentFixture(t)

	if err := svc.AssignProject(context.Background(), "inv-1", "proj-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.UnassignProject(context.Background(), "inv-1"); err != nil {
		t.Fatalf("unassign: %v", err)
	}

	inv := invoices.byID["inv-1"]
	if inv.ProjectID != nil || inv.AssignmentConfidence != 0 {
		t.Fatalf("assignment not cleared: %+v", inv)
	}
	if got := catalog.stocks[catalogID]; !got.IsZero() {
		t.Fatalf("stock = %s, want 0 after unassign", got)
	}
}

func TestAssignProjectUnknownProject(t *testing.T) {
	svc, _, _, _ := assignmentFixture(t)
	err := svc.AssignProject(context.Background(), "inv-1", "missing")
	if !domain.IsKind(err, domain.ErrProjectNotFound) {
		t.Fatalf("err = %v, want project-not-found kind", err)
	}
}

func TestAssignProjectUnknownInvoice(t *testing.T) {
	svc, _, _, _ := assignmentFixture(t)
	err := svc.AssignProject(context.Background(), "missing", "proj-1")
	if !domain.IsKind(err, domain.ErrInvoiceNotFound) {
		t.Fatalf("err = %v, want invoice-not-found kind", err)
	}
}
