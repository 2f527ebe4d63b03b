// Package ubl parses DIAN UBL electronic invoices, including the enveloped
// AttachedDocument shape where the real invoice XML travels escaped inside a
// Description text node of an outer wrapper.
package ubl

import (
	"encoding/xml"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type Parser struct{}

func New() *Parser {
	return &Parser{}
}

// node is a generic XML element tree. Namespace prefixes vary across
// issuers, so lookups match on local names only.
type node struct {
	XMLName  xml.Name
	Text     string `xml:",chardata"`
	Children []node `xml:",any"`
}

func (n *node) value() string {
	return strings.TrimSpace(n.Text)
}

// findFirst returns the first descendant with the given local name in
// document order, the element itself included.
func findFirst(n *node, local string) *node {
	if n.XMLName.Local == local {
		return n
	}
	for i := range n.Children {
		if found := findFirst(&n.Children[i], local); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *node, local string, out []*node) []*node {
	if n.XMLName.Local == local {
		out = append(out, n)
	}
	for i := range n.Children {
		out = findAll(&n.Children[i], local, out)
	}
	return out
}

func childValue(n *node, local string) string {
	if n == nil {
		return ""
	}
	if found := findFirst(n, local); found != nil && found != n {
		return found.value()
	}
	if n.XMLName.Local == local {
		return n.value()
	}
	return ""
}

func documentValue(root *node, local string) string {
	if found := findFirst(root, local); found != nil {
		return found.value()
	}
	return ""
}

// headerValue reads a value from the root element's immediate children
// only. A descendant search must not be used for header fields like the
// invoice number: line items carry their own cbc:ID, and a document missing
// the header one would silently promote a line id.
func headerValue(root *node, local string) string {
	for i := range root.Children {
		if root.Children[i].XMLName.Local == local {
			return root.Children[i].value()
		}
	}
	return ""
}

// unwrap produces the canonical invoice document: when the outer document
// carries a Description text node that itself holds invoice XML, that inner
// content is authoritative.
func unwrap(raw []byte) (*node, error) {
	var root node
	if err := xml.Unmarshal(raw, &root); err != nil {
		return nil, err
	}

	if desc := findFirst(&root, "Description"); desc != nil {
		content := desc.value()
		if strings.HasPrefix(content, "<?xml") || strings.HasPrefix(content, "<Invoice") {
			var inner node
			if err := xml.Unmarshal([]byte(content), &inner); err != nil {
				return nil, err
			}
			return &inner, nil
		}
	}
	return &root, nil
}

// Parse extracts a structured invoice from one raw XML document.
func (p *Parser) Parse(raw []byte) (*domain.ParsedInvoice, error) {
	root, err := unwrap(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse invoice xml", err)
	}

	invoice := &domain.ParsedInvoice{}

	invoice.InvoiceNumber = headerValue(root, "ID")
	if invoice.InvoiceNumber == "" {
		return nil, domain.WrapError(domain.ErrValidation, "parse invoice xml", errors.New("missing invoice number"))
	}

	issueDate, err := parseIssueDate(root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrValidation, "parse invoice xml", err)
	}
	invoice.IssueDate = issueDate

	if dueStr := documentValue(root, "DueDate"); dueStr != "" {
		if due, ok := parseDateTime(dueStr); ok {
			invoice.DueDate = &due
		}
	}

	supplier := findFirst(root, "AccountingSupplierParty")
	if supplier == nil {
		return nil, domain.WrapError(domain.ErrValidation, "parse invoice xml", errors.New("missing supplier party"))
	}
	invoice.SupplierID = childValue(supplier, "CompanyID")
	if partyName := findFirst(supplier, "PartyName"); partyName != nil {
		invoice.SupplierName = childValue(partyName, "Name")
	}

	if err := parseMonetaryTotals(root, invoice); err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse invoice totals", err)
	}
	if err := parseWithholdings(root, invoice); err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse invoice withholdings", err)
	}

	items, err := parseLineItems(root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse invoice lines", err)
	}
	invoice.Items = items

	return invoice, nil
}

// IsValid is a cheap pre-filter: it unwraps the document and checks only the
// fields a recognizable invoice must carry.
func (p *Parser) IsValid(raw []byte) bool {
	root, err := unwrap(raw)
	if err != nil {
		return false
	}
	if documentValue(root, "ID") == "" {
		return false
	}
	if documentValue(root, "IssueDate") == "" {
		return false
	}
	return findFirst(root, "AccountingSupplierParty") != nil
}

func parseIssueDate(root *node) (time.Time, error) {
	dateStr := documentValue(root, "IssueDate")
	if dateStr == "" {
		return time.Time{}, errors.New("missing issue date")
	}
	if timeStr := documentValue(root, "IssueTime"); timeStr != "" {
		if parsed, ok := parseDateTime(dateStr + "T" + timeStr); ok {
			return parsed, nil
		}
	}
	if parsed, ok := parseDateTime(dateStr); ok {
		return parsed, nil
	}
	return time.Time{}, errors.New("unparseable issue date: " + dateStr)
}

// parseDateTime tries date+time layouts in sequence, falling back to
// date-only at midnight.
func parseDateTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func parseMonetaryTotals(root *node, invoice *domain.ParsedInvoice) error {
	monetary := findFirst(root, "LegalMonetaryTotal")
	if monetary == nil {
		return nil
	}

	if v := childValue(monetary, "LineExtensionAmount"); v != "" {
		subtotal, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		invoice.Subtotal = subtotal
	}

	// Tax is derived, not read: tax-inclusive minus tax-exclusive.
	exclusiveStr := childValue(monetary, "TaxExclusiveAmount")
	inclusiveStr := childValue(monetary, "TaxInclusiveAmount")
	if exclusiveStr != "" && inclusiveStr != "" {
		exclusive, err := decimal.NewFromString(exclusiveStr)
		if err != nil {
			return err
		}
		inclusive, err := decimal.NewFromString(inclusiveStr)
		if err != nil {
			return err
		}
		invoice.Tax = inclusive.Sub(exclusive)
	}

	if v := childValue(monetary, "PayableAmount"); v != "" {
		total, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		invoice.Total = total
	}
	return nil
}

// parseWithholdings classifies each WithholdingTaxTotal entry as ICA or
// generic withholding by a case-insensitive substring match on the tax-scheme
// name, not by amount sign.
func parseWithholdings(root *node, invoice *domain.ParsedInvoice) error {
	for _, withholding := range findAll(root, "WithholdingTaxTotal", nil) {
		amountStr := childValue(withholding, "TaxAmount")
		if amountStr == "" {
			continue
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return err
		}

		subtotal := findFirst(withholding, "TaxSubtotal")
		if subtotal == nil {
			continue
		}
		category := findFirst(subtotal, "TaxCategory")
		if category == nil {
			continue
		}
		scheme := findFirst(category, "TaxScheme")
		if scheme == nil {
			continue
		}

		name := childValue(scheme, "Name")
		if strings.Contains(strings.ToLower(name), "ica") {
			invoice.WithholdingICA = &amount
		} else {
			invoice.WithholdingTax = &amount
		}
	}
	return nil
}

func parseLineItems(root *node) ([]domain.ParsedLineItem, error) {
	var items []domain.ParsedLineItem
	for _, line := range findAll(root, "InvoiceLine", nil) {
		item := domain.ParsedLineItem{}

		if v := childValue(line, "InvoicedQuantity"); v != "" {
			quantity, err := decimal.NewFromString(v)
			if err != nil {
				return nil, err
			}
			item.Quantity = quantity
		}

		if v := childValue(line, "LineExtensionAmount"); v != "" {
			lineTotal, err := decimal.NewFromString(v)
			if err != nil {
				return nil, err
			}
			item.LineTotal = lineTotal
		}

		if price := findFirst(line, "Price"); price != nil {
			if v := childValue(price, "PriceAmount"); v != "" {
				unitPrice, err := decimal.NewFromString(v)
				if err != nil {
					return nil, err
				}
				item.UnitPrice = unitPrice
			}
		}

		if itemNode := findFirst(line, "Item"); itemNode != nil {
			item.Description = childValue(itemNode, "Description")
			item.ItemCode = childValue(itemNode, "ID")
		}

		if taxTotal := findFirst(line, "TaxTotal"); taxTotal != nil {
			if v := childValue(taxTotal, "TaxAmount"); v != "" {
				taxAmount, err := decimal.NewFromString(v)
				if err != nil {
					return nil, err
				}
				item.TaxAmount = taxAmount
			}
		}

		items = append(items, item)
	}
	return items, nil
}
