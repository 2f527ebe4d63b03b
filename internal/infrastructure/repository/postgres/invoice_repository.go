package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `id, invoice_number, issue_date, due_date, supplier_id, supplier_name, project_id, subtotal, tax, withholding_tax, withholding_ica, total, payment_status, source, xml_file_path, assignment_confidence, created_at, updated_at`

func (r *InvoiceRepository) Create(ctx context.Context, inv *domain.Invoice) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO invoices (`+invoiceColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`,
		inv.ID, inv.InvoiceNumber, inv.IssueDate, inv.DueDate, inv.SupplierID, inv.SupplierName,
		inv.ProjectID, inv.Subtotal, inv.Tax, nullDecimal(inv.WithholdingTax), nullDecimal(inv.WithholdingICA),
		inv.Total, string(inv.PaymentStatus), string(inv.Source), inv.XMLFilePath,
		inv.AssignmentConfidence, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// Update replaces the header fields. The project link and confidence are
// mutated only through SetAssignment.
func (r *InvoiceRepository) Update(ctx context.Context, inv *domain.Invoice) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET invoice_number = $2, issue_date = $3, due_date = $4, supplier_id = $5, supplier_name = $6,
    subtotal = $7, tax = $8, withholding_tax = $9, withholding_ica = $10, total = $11,
    payment_status = $12, source = $13, xml_file_path = $14, updated_at = $15
WHERE id = $1
`,
		inv.ID, inv.InvoiceNumber, inv.IssueDate, inv.DueDate, inv.SupplierID, inv.SupplierName,
		inv.Subtotal, inv.Tax, nullDecimal(inv.WithholdingTax), nullDecimal(inv.WithholdingICA),
		inv.Total, string(inv.PaymentStatus), string(inv.Source), inv.XMLFilePath, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return requireRow(result, "invoice", inv.ID, domain.ErrInvoiceNotFound)
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE id = $1
`, id)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invoice %s: %w", id, domain.ErrInvoiceNotFound)
		}
		return nil, fmt.Errorf("get invoice by id: %w", err)
	}
	return inv, nil
}

// GetByNumber returns (nil, nil) when the number is unknown.
func (r *InvoiceRepository) GetByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE invoice_number = $1
`, invoiceNumber)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice by number: %w", err)
	}
	return inv, nil
}

// ReplaceItems swaps the owned item collection in one transaction.
func (r *InvoiceRepository) ReplaceItems(ctx context.Context, invoiceID string, items []domain.InvoiceItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace items tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("delete previous items: %w", err)
	}

	for _, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO invoice_items (id, invoice_id, catalog_item_id, description, quantity, unit_price, line_total, tax_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, id, invoiceID, item.CatalogItemID, item.Description, item.Quantity, item.UnitPrice, item.LineTotal, item.TaxAmount)
		if err != nil {
			return fmt.Errorf("insert invoice item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace items tx: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) ItemsByInvoice(ctx context.Context, invoiceID string) ([]domain.InvoiceItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, invoice_id, catalog_item_id, description, quantity, unit_price, line_total, tax_amount
FROM invoice_items
WHERE invoice_id = $1
ORDER BY id
`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.InvoiceItem, 0)
	for rows.Next() {
		var item domain.InvoiceItem
		err := rows.Scan(
			&item.ID, &item.InvoiceID, &item.CatalogItemID, &item.Description,
			&item.Quantity, &item.UnitPrice, &item.LineTotal, &item.TaxAmount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice items: %w", err)
	}
	return out, nil
}

func (r *InvoiceRepository) SetAssignment(ctx context.Context, invoiceID string, projectID *string, confidence int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET project_id = $2, assignment_confidence = $3, updated_at = now()
WHERE id = $1
`, invoiceID, projectID, confidence)
	if err != nil {
		return fmt.Errorf("set assignment: %w", err)
	}
	return requireRow(result, "invoice", invoiceID, domain.ErrInvoiceNotFound)
}

func (r *InvoiceRepository) ListPendingReview(ctx context.Context, maxConfidence int) ([]domain.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE assignment_confidence < $1
ORDER BY issue_date DESC
`, maxConfidence)
	if err != nil {
		return nil, fmt.Errorf("list pending review: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending invoice: %w", err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending invoices: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var withholdingTax, withholdingICA decimal.NullDecimal
	var paymentStatus, source string

	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.IssueDate, &inv.DueDate, &inv.SupplierID, &inv.SupplierName,
		&inv.ProjectID, &inv.Subtotal, &inv.Tax, &withholdingTax, &withholdingICA, &inv.Total,
		&paymentStatus, &source, &inv.XMLFilePath, &inv.AssignmentConfidence, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if withholdingTax.Valid {
		inv.WithholdingTax = &withholdingTax.Decimal
	}
	if withholdingICA.Valid {
		inv.WithholdingICA = &withholdingICA.Decimal
	}
	inv.PaymentStatus = domain.PaymentStatus(paymentStatus)
	inv.Source = domain.InvoiceSource(source)
	return &inv, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func requireRow(result sql.Result, entity, id string, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", entity, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, notFound)
	}
	return nil
}
