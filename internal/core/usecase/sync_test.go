package usecase

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
)

type syncFixture struct {
	uc       *SyncUseCase
	invoices *invoiceRepoFake
	catalog  *catalogRepoFake
	mail     *mailFake
	sources  *sourceRepoFake
	locker   *lockerFake
	parser   *parserFake
	blobs    *blobStoreFake
	tempDir  string
}

func newSyncFixture(t *testing.T, rules []domain.AssignmentRule, engine ports.RuleEvaluator) *syncFixture {
	t.Helper()

	invoices := newInvoiceRepoFake()
	catalog := newCatalogRepoFake(invoices)
	parser := &parserFake{
		parsed: map[string]*domain.ParsedInvoice{},
		broken: map[string]error{},
	}
	mail := &mailFake{attachments: map[string][]ports.Attachment{}}
	sources := &sourceRepoFake{source: &domain.IngestionSource{
		ID: "src-1", Name: "construmedicis", GmailLabel: "facturas",
	}}
	locker := &lockerFake{}

	if engine == nil {
		engine = NewRuleEngine(
			&ruleRepoFake{rules: rules},
			&projectRepoFake{projects: map[string]string{"proj-1": "Torre Norte"}},
			invoices,
			&participationRepoFake{},
		)
	}

	tempDir := t.TempDir()
	blobs := newBlobStoreFake()
	uc := NewSyncUseCase(
		SyncConfig{TempDir: tempDir},
		sources,
		locker,
		mail,
		parser,
		expanderPassThrough{},
		blobs,
		invoices,
		catalog,
		NewCatalogMatcher(catalog),
		engine,
		NewStockService(catalog),
	)

	return &syncFixture{
		uc: uc, invoices: invoices, catalog: catalog,
		mail: mail, sources: sources, locker: locker, parser: parser,
		blobs: blobs, tempDir: tempDir,
	}
}

func (f *syncFixture) addUnit(messageID, payload string, parsed *domain.ParsedInvoice) {
	f.parser.parsed[payload] = parsed
	f.mail.attachments[messageID] = append(f.mail.attachments[messageID], ports.Attachment{
		Filename: strings.ToLower(parsed.InvoiceNumber) + ".xml",
		Data:     []byte(payload),
	})
}

func supplierRule() []domain.AssignmentRule {
	return []domain.AssignmentRule{{
		ID: "r1", ProjectID: "proj-1", Priority: 1,
		RuleType: domain.RuleSupplierNIT, SupplierNIT: "900123456", IsActive: true,
	}}
}

func TestRunCreatesAndAutoAssigns(t *testing.T) {
	f := newSyncFixture(t, supplierRule(), nil)
	f.addUnit("msg-1", "payload-fe-1", parsedFixture("FE-1"))

	result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Processed != 1 || result.Created != 1 || result.AutoAssigned != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.Status != domain.SyncSuccess {
		t.Fatalf("status = %s, want SUCCESS", result.Status)
	}

	invoice := f.invoices.invoiceByNumber("FE-1")
	if invoice == nil {
		t.Fatalf("invoice not persisted")
	}
	if invoice.ProjectID == nil || *invoice.ProjectID != "proj-1" {
		t.Fatalf("project not bound: %v", invoice.ProjectID)
	}
	if invoice.XMLFilePath != "/archive/FE-1.xml" {
		t.Fatalf("xml path = %q, want archived copy", invoice.XMLFilePath)
	}
	if got, ok := f.blobs.saved["FE-1.xml"]; !ok {
		t.Fatalf("raw document not archived")
	} else if string(got) != "payload-fe-1" {
		t.Fatalf("archived bytes differ from the delivered attachment: %q", got)
	}
	if invoice.AssignmentConfidence != 95 {
		t.Fatalf("confidence = %d, want 95", invoice.AssignmentConfidence)
	}

	items := f.invoices.items[invoice.ID]
	if len(items) != 1 || items[0].CatalogItemID == nil {
		t.Fatalf("items not linked to catalog: %+v", items)
	}
	catalogID := *items[0].CatalogItemID
	if !f.catalog.associations[catalogID]["proj-1"] {
		t.Fatalf("catalog item not associated to project")
	}
	if got := f.catalog.stocks[catalogID]; !got.Equal(mustDecimal("10")) {
		t.Fatalf("stock = %s, want 10", got)
	}
	if !f.sources.synced {
		t.Fatalf("last sync not touched")
	}
	if f.locker.released != 1 {
		t.Fatalf("run lock not released")
	}
}

func TestRunSecondPassIsIdempotent(t *testing.T) {
	f := newSyncFixture(t, supplierRule(), nil)
	f.addUnit("msg-1", "payload-fe-1", parsedFixture("FE-1"))

	if _, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.Created != 0 || second.Updated != 0 {
		t.Fatalf("second run must be a no-op, got %+v", second)
	}
	if second.Status != domain.SyncSuccess {
		t.Fatalf("status = %s", second.Status)
	}
	if f.invoices.createCount != 1 {
		t.Fatalf("invoice created %d times", f.invoices.createCount)
	}
}

func TestRunReconciliationReplacesAndResets(t *testing.T) {
	// No rules: after the update the invoice stays unassigned.
	f := newSyncFixture(t, nil, nil)

	parsed := parsedFixture("FE-1")
	f.addUnit("msg-1", "payload-fe-1", parsed)

	// Pre-seed the same invoice number, assigned, with a different subtotal.
	projectID := "proj-1"
	catalogItem, _ := f.catalog.Create(context.Background(), &domain.CatalogItem{Description: "Cemento gris uso general 50kg"})
	catalogID := catalogItem.ID
	stale := invoiceFromParsed(parsed)
	stale.ID = "inv-stale"
	stale.Subtotal = mustDecimal("999.99")
	stale.ProjectID = &projectID
	stale.AssignmentConfidence = 95
	f.invoices.byID[stale.ID] = stale
	f.invoices.items[stale.ID] = []domain.InvoiceItem{
		{ID: "old-item", InvoiceID: stale.ID, CatalogItemID: &catalogID, Quantity: mustDecimal("7")},
	}
	f.catalog.stocks[catalogID] = mustDecimal("7")

	result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Updated != 1 || result.Created != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.PendingReview != 1 {
		t.Fatalf("pending review = %d, want 1", result.PendingReview)
	}

	updated := f.invoices.byID["inv-stale"]
	if !updated.Subtotal.Equal(mustDecimal("1050.00")) {
		t.Fatalf("subtotal not replaced: %s", updated.Subtotal)
	}
	if updated.ProjectID != nil || updated.AssignmentConfidence != 0 {
		t.Fatalf("assignment not reset: %+v", updated)
	}

	items := f.invoices.items["inv-stale"]
	if len(items) != 1 || items[0].ID == "old-item" {
		t.Fatalf("items not re-derived: %+v", items)
	}
	// The previously linked catalog item lost its assigned invoice.
	if got := f.catalog.stocks[catalogID]; !got.IsZero() {
		t.Fatalf("stock = %s, want 0 after reset", got)
	}
}

func TestRunUnchangedInvoiceSkipsEntirely(t *testing.T) {
	f := newSyncFixture(t, supplierRule(), nil)

	parsed := parsedFixture("FE-1")
	f.addUnit("msg-1", "payload-fe-1", parsed)

	seed := invoiceFromParsed(parsed)
	seed.ID = "inv-seeded"
	f.invoices.byID[seed.ID] = seed

	result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Created != 0 || result.Updated != 0 || result.AutoAssigned != 0 || result.PendingReview != 0 {
		t.Fatalf("unchanged invoice must not be recounted: %+v", result)
	}
	if result.Status != domain.SyncSuccess {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestRunAutoAssignThresholdBoundary(t *testing.T) {
	projectID := "proj-1"

	cases := []struct {
		name         string
		confidence   int
		autoAssigned int
		wantProject  bool
	}{
		{"at threshold", 70, 1, true},
		{"below threshold", 69, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := &engineStub{verdict: domain.AssignmentVerdict{
				ProjectID:       &projectID,
				Confidence:      tc.confidence,
				MatchedRuleType: domain.RuleDateRange,
			}}
			f := newSyncFixture(t, nil, engine)
			f.addUnit("msg-1", "payload-fe-1", parsedFixture("FE-1"))

			result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if result.AutoAssigned != tc.autoAssigned {
				t.Fatalf("auto assigned = %d, want %d", result.AutoAssigned, tc.autoAssigned)
			}

			invoice := f.invoices.invoiceByNumber("FE-1")
			if tc.wantProject && (invoice.ProjectID == nil || *invoice.ProjectID != projectID) {
				t.Fatalf("project not bound at threshold")
			}
			if !tc.wantProject && invoice.ProjectID != nil {
				t.Fatalf("project bound below threshold")
			}
		})
	}
}

func TestRunIsolatesPerUnitFailures(t *testing.T) {
	f := newSyncFixture(t, nil, nil)
	f.addUnit("msg-2", "payload-good", parsedFixture("FE-2"))
	f.parser.broken["payload-bad"] = domain.WrapError(domain.ErrParse, "parse invoice xml", errors.New("truncated"))
	f.mail.attachments["msg-1"] = []ports.Attachment{{Filename: "bad.xml", Data: []byte("payload-bad")}}

	result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if err != nil {
		t.Fatalf("per-unit failures must not fail the run: %v", err)
	}

	if len(result.Errors) != 1 {
		t.Fatalf("errors = %+v, want exactly one", result.Errors)
	}
	if !strings.Contains(result.Errors[0].Ref, "msg-1/bad.xml") {
		t.Fatalf("error ref = %q", result.Errors[0].Ref)
	}
	if result.Created != 1 {
		t.Fatalf("good unit not processed: %+v", result)
	}
	if result.Status != domain.SyncPartialSuccess {
		t.Fatalf("status = %s, want PARTIAL_SUCCESS", result.Status)
	}
}

func TestRunSilentlySkipsNonInvoiceAttachments(t *testing.T) {
	f := newSyncFixture(t, nil, nil)
	f.mail.attachments["msg-1"] = []ports.Attachment{{Filename: "logo.png", Data: []byte("not-xml")}}

	result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Errors) != 0 || result.Created != 0 {
		t.Fatalf("non-invoice attachment must be a silent skip: %+v", result)
	}
	if result.Status != domain.SyncSuccess {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestRunTransportFailureFailsRun(t *testing.T) {
	f := newSyncFixture(t, nil, nil)
	f.mail.listErr = errors.New("imap handshake refused")

	result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if !domain.IsKind(err, domain.ErrTransport) {
		t.Fatalf("err = %v, want transport kind", err)
	}
	if result.Status != domain.SyncFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	if len(result.Errors) == 0 {
		t.Fatalf("failure must be recorded in the result")
	}
}

func TestRunUnfetchableMessageIsNotCountedProcessed(t *testing.T) {
	f := newSyncFixture(t, supplierRule(), nil)
	f.addUnit("msg-1", "payload-fe-1", parsedFixture("FE-1"))
	f.mail.fetchErr = errors.New("message no longer available")

	result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Processed != 0 {
		t.Fatalf("processed = %d, want 0 for a message that yielded no units", result.Processed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %+v, want the fetch failure recorded", result.Errors)
	}
	if result.Status != domain.SyncFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
}

func TestRunRefusesConcurrentSameSource(t *testing.T) {
	f := newSyncFixture(t, nil, nil)
	f.locker.locked = true

	result, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{})
	if !errors.Is(err, domain.ErrRunLocked) {
		t.Fatalf("err = %v, want run-locked", err)
	}
	if result.Status != domain.SyncFailed {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestRunUnknownSource(t *testing.T) {
	f := newSyncFixture(t, nil, nil)

	result, err := f.uc.Run(context.Background(), "nope", ports.FetchWindow{})
	if !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("err = %v, want source-not-found", err)
	}
	if result.Status != domain.SyncFailed {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestRunRemovesScratchDirectory(t *testing.T) {
	f := newSyncFixture(t, nil, nil)
	f.addUnit("msg-1", "payload-fe-1", parsedFixture("FE-1"))

	if _, err := f.uc.Run(context.Background(), "construmedicis", ports.FetchWindow{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, err := os.ReadDir(f.tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch not removed: %v", entries)
	}
}
