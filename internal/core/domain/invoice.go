package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceSource string

const (
	SourceManual InvoiceSource = "manual"
	SourceEmail  InvoiceSource = "email"
	SourceUpload InvoiceSource = "upload"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

// ParsedInvoice is the immutable output of the document parser.
type ParsedInvoice struct {
	InvoiceNumber  string
	IssueDate      time.Time
	DueDate        *time.Time
	SupplierID     string
	SupplierName   string
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	WithholdingTax *decimal.Decimal
	WithholdingICA *decimal.Decimal
	Total          decimal.Decimal
	Items          []ParsedLineItem
	SourceFile     string
}

type ParsedLineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	TaxAmount   decimal.Decimal
	ItemCode    string
}

// ComputeTotal applies the frozen total formula: subtotal + tax - withholdings.
func (p *ParsedInvoice) ComputeTotal() decimal.Decimal {
	total := p.Subtotal.Add(p.Tax)
	if p.WithholdingTax != nil {
		total = total.Sub(*p.WithholdingTax)
	}
	if p.WithholdingICA != nil {
		total = total.Sub(*p.WithholdingICA)
	}
	return total
}

type Invoice struct {
	ID                   string           `json:"id"`
	InvoiceNumber        string           `json:"invoice_number"`
	IssueDate            time.Time        `json:"issue_date"`
	DueDate              *time.Time       `json:"due_date,omitempty"`
	SupplierID           string           `json:"supplier_id"`
	SupplierName         string           `json:"supplier_name"`
	ProjectID            *string          `json:"project_id,omitempty"`
	Subtotal             decimal.Decimal  `json:"subtotal"`
	Tax                  decimal.Decimal  `json:"tax"`
	WithholdingTax       *decimal.Decimal `json:"withholding_tax,omitempty"`
	WithholdingICA       *decimal.Decimal `json:"withholding_ica,omitempty"`
	Total                decimal.Decimal  `json:"total"`
	PaymentStatus        PaymentStatus    `json:"payment_status"`
	Source               InvoiceSource    `json:"source"`
	XMLFilePath          string           `json:"xml_file_path,omitempty"`
	AssignmentConfidence int              `json:"assignment_confidence"`
	Items                []InvoiceItem    `json:"items,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// InvoiceItem belongs to exactly one invoice and is replaced as a unit with it.
type InvoiceItem struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	CatalogItemID *string         `json:"catalog_item_id,omitempty"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	LineTotal     decimal.Decimal `json:"line_total"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
}

// FieldsDiffer reports whether the parsed document carries different header
// fields than the stored invoice. Nil withholdings compare as zero; all
// monetary comparisons are exact-decimal.
func (inv *Invoice) FieldsDiffer(parsed *ParsedInvoice) bool {
	if !inv.IssueDate.Equal(parsed.IssueDate) {
		return true
	}
	if !equalOptionalDate(inv.DueDate, parsed.DueDate) {
		return true
	}
	if inv.SupplierID != parsed.SupplierID || inv.SupplierName != parsed.SupplierName {
		return true
	}
	if !inv.Subtotal.Equal(parsed.Subtotal) || !inv.Tax.Equal(parsed.Tax) {
		return true
	}
	if !zeroIfNil(inv.WithholdingTax).Equal(zeroIfNil(parsed.WithholdingTax)) {
		return true
	}
	if !zeroIfNil(inv.WithholdingICA).Equal(zeroIfNil(parsed.WithholdingICA)) {
		return true
	}
	return !inv.Total.Equal(parsed.Total)
}

func zeroIfNil(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func equalOptionalDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
