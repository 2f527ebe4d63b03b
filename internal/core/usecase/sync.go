package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
)

type SyncConfig struct {
	// AutoAssignThreshold is the minimum verdict confidence that binds a
	// project without human review.
	AutoAssignThreshold int
	// TempDir is the base directory under which each run creates (and
	// removes) its own scratch directory.
	TempDir string
	// FetchTimeout bounds every mail-transport call.
	FetchTimeout time.Duration
}

func (c SyncConfig) normalize() SyncConfig {
	out := c
	if out.AutoAssignThreshold <= 0 {
		out.AutoAssignThreshold = 70
	}
	if out.TempDir == "" {
		out.TempDir = os.TempDir()
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = 30 * time.Second
	}
	return out
}

// SyncUseCase drives one ingestion batch: fetch units from the mail
// transport, validate, parse, reconcile, catalog-match, rule-evaluate, and
// assign or flag — isolating every per-unit failure.
type SyncUseCase struct {
	cfg     SyncConfig
	sources ports.SourceRepository
	locker  ports.RunLocker
	mail    ports.MailTransport
	parser  ports.DocumentParser
	archive ports.ArchiveExpander
	blobs   ports.BlobStore

	invoices ports.InvoiceRepository
	catalog  ports.CatalogRepository
	matcher  ports.CatalogResolver
	engine   ports.RuleEvaluator
	stock    ports.StockRecalculator
}

func NewSyncUseCase(
	cfg SyncConfig,
	sources ports.SourceRepository,
	locker ports.RunLocker,
	mail ports.MailTransport,
	parser ports.DocumentParser,
	archive ports.ArchiveExpander,
	blobs ports.BlobStore,
	invoices ports.InvoiceRepository,
	catalog ports.CatalogRepository,
	matcher ports.CatalogResolver,
	engine ports.RuleEvaluator,
	stock ports.StockRecalculator,
) *SyncUseCase {
	return &SyncUseCase{
		cfg:      cfg.normalize(),
		sources:  sources,
		locker:   locker,
		mail:     mail,
		parser:   parser,
		archive:  archive,
		blobs:    blobs,
		invoices: invoices,
		catalog:  catalog,
		matcher:  matcher,
		engine:   engine,
		stock:    stock,
	}
}

// Run executes one batch for the named source. Per-unit errors accumulate in
// the result; only run-start failures (unknown source, lock held, transport
// unreachable) also return a non-nil error.
func (uc *SyncUseCase) Run(ctx context.Context, sourceName string, window ports.FetchWindow) (domain.SyncResult, error) {
	result := domain.SyncResult{Errors: []domain.SyncError{}}

	source, err := uc.sources.GetByName(ctx, sourceName)
	if err != nil {
		result.Status = domain.SyncFailed
		result.AddError(sourceName, err)
		return result, err
	}

	release, err := uc.locker.Acquire(ctx, source.Name)
	if err != nil {
		result.Status = domain.SyncFailed
		result.AddError(source.Name, err)
		return result, err
	}
	defer release()

	runDir, err := os.MkdirTemp(uc.cfg.TempDir, "ingest-run-")
	if err != nil {
		result.Status = domain.SyncFailed
		result.AddError(source.Name, err)
		return result, fmt.Errorf("create run temp dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	listCtx, cancel := context.WithTimeout(ctx, uc.cfg.FetchTimeout)
	messageIDs, err := uc.mail.ListMessages(listCtx, source.GmailLabel, window)
	cancel()
	if err != nil {
		wrapped := domain.WrapError(domain.ErrTransport, "list messages", err)
		result.Status = domain.SyncFailed
		result.AddError(source.Name, wrapped)
		return result, wrapped
	}

	for _, messageID := range messageIDs {
		if uc.processMessage(ctx, messageID, source, runDir, &result) {
			result.Processed++
		}
	}

	result.Finalize()

	// Best effort; a failed timestamp write never fails the run.
	_ = uc.sources.TouchLastSync(ctx, source.ID, time.Now().UTC())

	return result, nil
}

// processMessage reports whether the message's attachments were fetched at
// all; a message that never yielded units does not count as processed.
func (uc *SyncUseCase) processMessage(ctx context.Context, messageID string, source *domain.IngestionSource, runDir string, result *domain.SyncResult) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, uc.cfg.FetchTimeout)
	attachments, err := uc.mail.FetchAttachments(fetchCtx, messageID)
	cancel()
	if err != nil {
		result.AddError(messageID, domain.WrapError(domain.ErrTransport, "fetch attachments", err))
		return false
	}

	for _, attachment := range attachments {
		units, err := uc.archive.Expand(attachment)
		if err != nil {
			result.AddError(messageID+"/"+attachment.Filename, err)
			continue
		}
		for _, unit := range units {
			if err := uc.processUnit(ctx, unit, source, runDir, result); err != nil {
				result.AddError(messageID+"/"+unit.Filename, err)
			}
		}
	}
	return true
}

// processUnit runs the validate → parse → reconcile → match → evaluate →
// assign-or-flag pipeline for one attachment unit. A false validity check is
// a silent skip, not an error.
func (uc *SyncUseCase) processUnit(ctx context.Context, unit ports.Attachment, source *domain.IngestionSource, runDir string, result *domain.SyncResult) error {
	if !uc.parser.IsValid(unit.Data) {
		return nil
	}

	// The raw document is staged in the per-run scratch dir and read back
	// from there, so everything downstream works from the staged copy. The
	// whole dir is removed when the run ends, on every exit path.
	stagePath := filepath.Join(runDir, uuid.NewString()+"-"+filepath.Base(unit.Filename))
	if err := os.WriteFile(stagePath, unit.Data, 0o644); err != nil {
		return fmt.Errorf("stage attachment: %w", err)
	}
	staged, err := os.ReadFile(stagePath)
	if err != nil {
		return fmt.Errorf("read staged attachment: %w", err)
	}

	parsed, err := uc.parser.Parse(staged)
	if err != nil {
		return err
	}
	existing, err := uc.invoices.GetByNumber(ctx, parsed.InvoiceNumber)
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "load invoice by number", err)
	}
	if existing != nil && !existing.FieldsDiffer(parsed) {
		// Re-delivered and unchanged: nothing to do.
		return nil
	}

	// Accepted documents move from scratch into the durable archive; the
	// stored path is what the invoice record keeps.
	storedPath, err := uc.blobs.SaveDocument(ctx, parsed.InvoiceNumber+".xml", staged)
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "archive document", err)
	}
	parsed.SourceFile = storedPath

	var invoice *domain.Invoice
	if existing == nil {
		invoice, err = uc.createInvoice(ctx, parsed)
		if err != nil {
			return err
		}
		result.Created++
	} else {
		invoice, err = uc.reconcileInvoice(ctx, existing, parsed)
		if err != nil {
			return err
		}
		result.Updated++
	}

	if err := uc.linkItems(ctx, invoice, parsed, source.ProjectID); err != nil {
		return err
	}

	return uc.applyVerdict(ctx, invoice, result)
}

func (uc *SyncUseCase) createInvoice(ctx context.Context, parsed *domain.ParsedInvoice) (*domain.Invoice, error) {
	invoice := invoiceFromParsed(parsed)
	if err := uc.invoices.Create(ctx, invoice); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "create invoice", err)
	}
	return invoice, nil
}

// reconcileInvoice replaces the stored header fields with the re-delivered
// document's, discards the owned items, and resets the assignment. Stock of
// previously linked catalog items is recomputed after the project unlink.
func (uc *SyncUseCase) reconcileInvoice(ctx context.Context, existing *domain.Invoice, parsed *domain.ParsedInvoice) (*domain.Invoice, error) {
	previousItems, err := uc.invoices.ItemsByInvoice(ctx, existing.ID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "load previous items", err)
	}

	updated := invoiceFromParsed(parsed)
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	if err := uc.invoices.Update(ctx, updated); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "update invoice", err)
	}
	if err := uc.invoices.SetAssignment(ctx, updated.ID, nil, 0); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "reset assignment", err)
	}

	for _, item := range previousItems {
		if item.CatalogItemID == nil {
			continue
		}
		if err := uc.stock.Recompute(ctx, *item.CatalogItemID); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// linkItems re-derives the owned item collection from the parsed document,
// resolving each line against the catalog.
func (uc *SyncUseCase) linkItems(ctx context.Context, invoice *domain.Invoice, parsed *domain.ParsedInvoice, defaultProject *string) error {
	items := make([]domain.InvoiceItem, 0, len(parsed.Items))
	for _, line := range parsed.Items {
		catalogItem, err := uc.matcher.FindOrCreate(ctx, line, defaultProject)
		if err != nil {
			return err
		}
		catalogID := catalogItem.ID
		items = append(items, domain.InvoiceItem{
			InvoiceID:     invoice.ID,
			CatalogItemID: &catalogID,
			Description:   line.Description,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			LineTotal:     line.LineTotal,
			TaxAmount:     line.TaxAmount,
		})
	}
	if err := uc.invoices.ReplaceItems(ctx, invoice.ID, items); err != nil {
		return domain.WrapError(domain.ErrPersistence, "replace invoice items", err)
	}
	invoice.Items = items
	return nil
}

// applyVerdict binds the project when confidence clears the threshold,
// associating every linked catalog item and recomputing its stock; otherwise
// the invoice is flagged for review with its project untouched.
func (uc *SyncUseCase) applyVerdict(ctx context.Context, invoice *domain.Invoice, result *domain.SyncResult) error {
	verdict, err := uc.engine.Evaluate(ctx, invoice)
	if err != nil {
		return err
	}

	if verdict.ProjectID == nil || verdict.Confidence < uc.cfg.AutoAssignThreshold {
		result.PendingReview++
		return nil
	}

	if err := uc.invoices.SetAssignment(ctx, invoice.ID, verdict.ProjectID, verdict.Confidence); err != nil {
		return domain.WrapError(domain.ErrPersistence, "apply assignment", err)
	}
	for _, item := range invoice.Items {
		if item.CatalogItemID == nil {
			continue
		}
		if err := uc.catalog.EnsureProject(ctx, *item.CatalogItemID, *verdict.ProjectID); err != nil {
			return domain.WrapError(domain.ErrPersistence, "associate catalog item", err)
		}
		if err := uc.stock.Recompute(ctx, *item.CatalogItemID); err != nil {
			return err
		}
	}
	result.AutoAssigned++
	return nil
}

func invoiceFromParsed(parsed *domain.ParsedInvoice) *domain.Invoice {
	now := time.Now().UTC()
	total := parsed.Total
	if total.IsZero() {
		total = parsed.ComputeTotal()
	}
	return &domain.Invoice{
		ID:                   uuid.NewString(),
		InvoiceNumber:        parsed.InvoiceNumber,
		IssueDate:            parsed.IssueDate,
		DueDate:              parsed.DueDate,
		SupplierID:           parsed.SupplierID,
		SupplierName:         parsed.SupplierName,
		Subtotal:             parsed.Subtotal,
		Tax:                  parsed.Tax,
		WithholdingTax:       parsed.WithholdingTax,
		WithholdingICA:       parsed.WithholdingICA,
		Total:                total,
		PaymentStatus:        domain.PaymentPending,
		Source:               domain.SourceEmail,
		XMLFilePath:          parsed.SourceFile,
		AssignmentConfidence: 0,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
