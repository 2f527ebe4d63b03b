package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
)

type ruleRepoFake struct {
	rules []domain.AssignmentRule
	err   error
}

func (f *ruleRepoFake) ListActive(context.Context) ([]domain.AssignmentRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

func (f *ruleRepoFake) GetByID(_ context.Context, id string) (*domain.AssignmentRule, error) {
	for i := range f.rules {
		if f.rules[i].ID == id {
			return &f.rules[i], nil
		}
	}
	return nil, domain.ErrRuleNotFound
}

func (f *ruleRepoFake) Create(_ context.Context, rule *domain.AssignmentRule) error {
	f.rules = append(f.rules, *rule)
	return nil
}

type projectRepoFake struct {
	projects map[string]string // id -> name
}

func (f *projectRepoFake) GetByID(_ context.Context, id string) (*domain.Project, error) {
	name, ok := f.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	return &domain.Project{ID: id, Name: name}, nil
}

func (f *projectRepoFake) Exists(_ context.Context, id string) (bool, error) {
	_, ok := f.projects[id]
	return ok, nil
}

type participationRepoFake struct {
	counts map[string]int
	err    error
}

func (f *participationRepoFake) CountByProject(_ context.Context, projectID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[projectID], nil
}

type assignmentCall struct {
	invoiceID  string
	projectID  *string
	confidence int
}

type invoiceRepoFake struct {
	byID        map[string]*domain.Invoice
	items       map[string][]domain.InvoiceItem
	assignments []assignmentCall
	createCount int
	updateCount int
}

func newInvoiceRepoFake() *invoiceRepoFake {
	return &invoiceRepoFake{
		byID:  map[string]*domain.Invoice{},
		items: map[string][]domain.InvoiceItem{},
	}
}

func (f *invoiceRepoFake) Create(_ context.Context, inv *domain.Invoice) error {
	for _, existing := range f.byID {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return domain.ErrDuplicateInvoice
		}
	}
	copied := *inv
	f.byID[inv.ID] = &copied
	f.createCount++
	return nil
}

func (f *invoiceRepoFake) Update(_ context.Context, inv *domain.Invoice) error {
	if _, ok := f.byID[inv.ID]; !ok {
		return domain.ErrInvoiceNotFound
	}
	copied := *inv
	// Project link and confidence are mutated only through SetAssignment.
	copied.ProjectID = f.byID[inv.ID].ProjectID
	copied.AssignmentConfidence = f.byID[inv.ID].AssignmentConfidence
	f.byID[inv.ID] = &copied
	f.updateCount++
	return nil
}

func (f *invoiceRepoFake) GetByID(_ context.Context, id string) (*domain.Invoice, error) {
	inv, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	copied := *inv
	return &copied, nil
}

func (f *invoiceRepoFake) GetByNumber(_ context.Context, number string) (*domain.Invoice, error) {
	for _, inv := range f.byID {
		if inv.InvoiceNumber == number {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *invoiceRepoFake) ReplaceItems(_ context.Context, invoiceID string, items []domain.InvoiceItem) error {
	copied := make([]domain.InvoiceItem, len(items))
	copy(copied, items)
	for i := range copied {
		if copied[i].ID == "" {
			copied[i].ID = fmt.Sprintf("item-%s-%d", invoiceID, i)
		}
	}
	f.items[invoiceID] = copied
	return nil
}

func (f *invoiceRepoFake) ItemsByInvoice(_ context.Context, invoiceID string) ([]domain.InvoiceItem, error) {
	items := f.items[invoiceID]
	copied := make([]domain.InvoiceItem, len(items))
	copy(copied, items)
	return copied, nil
}

func (f *invoiceRepoFake) SetAssignment(_ context.Context, invoiceID string, projectID *string, confidence int) error {
	inv, ok := f.byID[invoiceID]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	inv.ProjectID = projectID
	inv.AssignmentConfidence = confidence
	f.assignments = append(f.assignments, assignmentCall{invoiceID, projectID, confidence})
	return nil
}

func (f *invoiceRepoFake) ListPendingReview(_ context.Context, maxConfidence int) ([]domain.Invoice, error) {
	var out []domain.Invoice
	for _, inv := range f.byID {
		if inv.AssignmentConfidence < maxConfidence {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *invoiceRepoFake) invoiceByNumber(number string) *domain.Invoice {
	for _, inv := range f.byID {
		if inv.InvoiceNumber == number {
			return inv
		}
	}
	return nil
}

type catalogRepoFake struct {
	invoices *invoiceRepoFake

	byID         map[string]*domain.CatalogItem
	associations map[string]map[string]bool
	stocks       map[string]decimal.Decimal
	nextID       int
	createCalls  int
}

func newCatalogRepoFake(invoices *invoiceRepoFake) *catalogRepoFake {
	return &catalogRepoFake{
		invoices:     invoices,
		byID:         map[string]*domain.CatalogItem{},
		associations: map[string]map[string]bool{},
		stocks:       map[string]decimal.Decimal{},
	}
}

func (f *catalogRepoFake) GetByDescription(_ context.Context, description string) (*domain.CatalogItem, error) {
	for _, item := range f.byID {
		if item.Description == description {
			copied := *item
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *catalogRepoFake) SearchByName(_ context.Context, fragment string) (*domain.CatalogItem, error) {
	lowered := strings.ToLower(fragment)
	var ids []string
	for id := range f.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if strings.Contains(strings.ToLower(f.byID[id].Name), lowered) {
			copied := *f.byID[id]
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *catalogRepoFake) Create(_ context.Context, item *domain.CatalogItem) (*domain.CatalogItem, error) {
	f.createCalls++
	for _, existing := range f.byID {
		if existing.Description == item.Description {
			copied := *existing
			return &copied, nil
		}
	}
	f.nextID++
	copied := *item
	copied.ID = fmt.Sprintf("cat-%d", f.nextID)
	f.byID[copied.ID] = &copied
	result := copied
	return &result, nil
}

func (f *catalogRepoFake) EnsureProject(_ context.Context, catalogItemID, projectID string) error {
	if _, ok := f.byID[catalogItemID]; !ok {
		return domain.ErrPersistence
	}
	if f.associations[catalogItemID] == nil {
		f.associations[catalogItemID] = map[string]bool{}
	}
	f.associations[catalogItemID][projectID] = true
	return nil
}

// SumAssignedQuantity derives the sum from the invoice fake, mirroring the
// SQL aggregate: quantities of items referencing the catalog item whose
// owning invoice holds a project.
func (f *catalogRepoFake) SumAssignedQuantity(_ context.Context, catalogItemID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for invoiceID, items := range f.invoices.items {
		inv := f.invoices.byID[invoiceID]
		if inv == nil || inv.ProjectID == nil {
			continue
		}
		for _, item := range items {
			if item.CatalogItemID != nil && *item.CatalogItemID == catalogItemID {
				sum = sum.Add(item.Quantity)
			}
		}
	}
	return sum, nil
}

func (f *catalogRepoFake) SetStock(_ context.Context, catalogItemID string, stock decimal.Decimal) error {
	f.stocks[catalogItemID] = stock
	return nil
}

type sourceRepoFake struct {
	source *domain.IngestionSource
	synced bool
}

func (f *sourceRepoFake) GetByName(_ context.Context, name string) (*domain.IngestionSource, error) {
	if f.source == nil || f.source.Name != name {
		return nil, domain.ErrSourceNotFound
	}
	copied := *f.source
	return &copied, nil
}

func (f *sourceRepoFake) TouchLastSync(_ context.Context, _ string, _ time.Time) error {
	f.synced = true
	return nil
}

type lockerFake struct {
	locked   bool
	acquired int
	released int
}

func (f *lockerFake) Acquire(_ context.Context, _ string) (func(), error) {
	if f.locked {
		return nil, domain.ErrRunLocked
	}
	f.acquired++
	return func() { f.released++ }, nil
}

type mailFake struct {
	attachments map[string][]ports.Attachment
	listErr     error
	fetchErr    error
}

func (f *mailFake) ListMessages(context.Context, string, ports.FetchWindow) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []string
	for id := range f.attachments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *mailFake) FetchAttachments(_ context.Context, messageID string) ([]ports.Attachment, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.attachments[messageID], nil
}

// parserFake maps raw payloads to canned results; unknown payloads are
// invalid, payloads mapped to an error fail parsing.
type parserFake struct {
	parsed map[string]*domain.ParsedInvoice
	broken map[string]error
}

func (f *parserFake) IsValid(raw []byte) bool {
	if _, ok := f.parsed[string(raw)]; ok {
		return true
	}
	_, ok := f.broken[string(raw)]
	return ok
}

func (f *parserFake) Parse(raw []byte) (*domain.ParsedInvoice, error) {
	if err, ok := f.broken[string(raw)]; ok {
		return nil, err
	}
	parsed, ok := f.parsed[string(raw)]
	if !ok {
		return nil, domain.ErrParse
	}
	copied := *parsed
	return &copied, nil
}

type expanderPassThrough struct{}

func (expanderPassThrough) Expand(unit ports.Attachment) ([]ports.Attachment, error) {
	return []ports.Attachment{unit}, nil
}

type blobStoreFake struct {
	saved map[string][]byte
	err   error
}

func newBlobStoreFake() *blobStoreFake {
	return &blobStoreFake{saved: map[string][]byte{}}
}

func (f *blobStoreFake) SaveDocument(_ context.Context, name string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved[name] = data
	return "/archive/" + name, nil
}

type engineStub struct {
	verdict domain.AssignmentVerdict
	err     error
}

func (s *engineStub) Evaluate(context.Context, *domain.Invoice) (domain.AssignmentVerdict, error) {
	if s.err != nil {
		return domain.AssignmentVerdict{}, s.err
	}
	return s.verdict, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func parsedFixture(number string) *domain.ParsedInvoice {
	return &domain.ParsedInvoice{
		InvoiceNumber: number,
		IssueDate:     time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		SupplierID:    "900123456",
		SupplierName:  "Ferreteria El Constructor SAS",
		Subtotal:      mustDecimal("1050.00"),
		Tax:           mustDecimal("199.50"),
		Total:         mustDecimal("1249.50"),
		Items: []domain.ParsedLineItem{
			{
				Description: "Cemento gris uso general 50kg",
				Quantity:    mustDecimal("10"),
				UnitPrice:   mustDecimal("50.00"),
				LineTotal:   mustDecimal("500.00"),
				TaxAmount:   mustDecimal("95.00"),
				ItemCode:    "CEM-50",
			},
		},
		SourceFile: number + ".xml",
	}
}
