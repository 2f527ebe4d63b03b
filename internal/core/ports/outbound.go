package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

// Attachment is one raw attachment unit pulled from the mail transport.
type Attachment struct {
	Filename string
	Data     []byte
}

// FetchWindow optionally bounds a message listing by internal date.
type FetchWindow struct {
	After  *time.Time
	Before *time.Time
}

// MailTransport yields message ids for a label and raw attachment bytes per
// message. Implementations flatten nested message parts.
type MailTransport interface {
	ListMessages(ctx context.Context, label string, window FetchWindow) ([]string, error)
	FetchAttachments(ctx context.Context, messageID string) ([]Attachment, error)
}

// BlobStore archives accepted source documents durably. SaveDocument
// returns the stored path, recorded on the invoice.
type BlobStore interface {
	SaveDocument(ctx context.Context, name string, data []byte) (string, error)
}

// DocumentParser turns one raw XML payload into a parsed invoice.
type DocumentParser interface {
	Parse(raw []byte) (*domain.ParsedInvoice, error)
	IsValid(raw []byte) bool
}

// InvoiceRepository persists the Invoice aggregate. ReplaceItems swaps the
// owned item collection as a unit.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *domain.Invoice) error
	Update(ctx context.Context, inv *domain.Invoice) error
	GetByID(ctx context.Context, id string) (*domain.Invoice, error)
	GetByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error)
	ReplaceItems(ctx context.Context, invoiceID string, items []domain.InvoiceItem) error
	ItemsByInvoice(ctx context.Context, invoiceID string) ([]domain.InvoiceItem, error)
	SetAssignment(ctx context.Context, invoiceID string, projectID *string, confidence int) error
	ListPendingReview(ctx context.Context, maxConfidence int) ([]domain.Invoice, error)
}

// CatalogRepository persists catalog items and their project associations.
// Create must be atomic against concurrent identical descriptions.
type CatalogRepository interface {
	GetByDescription(ctx context.Context, description string) (*domain.CatalogItem, error)
	SearchByName(ctx context.Context, fragment string) (*domain.CatalogItem, error)
	Create(ctx context.Context, item *domain.CatalogItem) (*domain.CatalogItem, error)
	EnsureProject(ctx context.Context, catalogItemID, projectID string) error
	SumAssignedQuantity(ctx context.Context, catalogItemID string) (decimal.Decimal, error)
	SetStock(ctx context.Context, catalogItemID string, stock decimal.Decimal) error
}

// RuleRepository reads user-managed assignment rules.
type RuleRepository interface {
	ListActive(ctx context.Context) ([]domain.AssignmentRule, error)
	GetByID(ctx context.Context, id string) (*domain.AssignmentRule, error)
	Create(ctx context.Context, rule *domain.AssignmentRule) error
}

type ProjectRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	Exists(ctx context.Context, id string) (bool, error)
}

type ParticipationRepository interface {
	CountByProject(ctx context.Context, projectID string) (int, error)
}

type SourceRepository interface {
	GetByName(ctx context.Context, name string) (*domain.IngestionSource, error)
	TouchLastSync(ctx context.Context, id string, at time.Time) error
}

// RunLocker serializes ingestion runs per source identity. Acquire fails
// immediately with domain.ErrRunLocked when another run holds the lock.
type RunLocker interface {
	Acquire(ctx context.Context, sourceName string) (release func(), err error)
}

// ArchiveExpander recursively expands ZIP bundles into flat attachment units.
type ArchiveExpander interface {
	Expand(unit Attachment) ([]Attachment, error)
}

// RunQueue publishes/consumes ingestion run requests.
type RunQueue interface {
	PublishRunRequested(ctx context.Context, sourceName string) error
	SubscribeRunRequested(ctx context.Context, handler func(context.Context, string) error) error
}
