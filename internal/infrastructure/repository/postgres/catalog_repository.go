package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const catalogColumns = `id, name, description, stock, created_at, updated_at`

// GetByDescription returns (nil, nil) when no item carries the description.
func (r *CatalogRepository) GetByDescription(ctx context.Context, description string) (*domain.CatalogItem, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+catalogColumns+`
FROM catalog_items
WHERE description = $1
`, description)

	item, err := scanCatalogItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get catalog item by description: %w", err)
	}
	return item, nil
}

// SearchByName finds the first item whose name contains the fragment,
// case-insensitively. Returns (nil, nil) on no hit.
func (r *CatalogRepository) SearchByName(ctx context.Context, fragment string) (*domain.CatalogItem, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+catalogColumns+`
FROM catalog_items
WHERE name ILIKE '%' || $1 || '%'
ORDER BY name
LIMIT 1
`, fragment)

	item, err := scanCatalogItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("search catalog item by name: %w", err)
	}
	return item, nil
}

// Create inserts the item, or returns the existing row when another writer
// already created the same description. The unique index makes the race safe.
func (r *CatalogRepository) Create(ctx context.Context, item *domain.CatalogItem) (*domain.CatalogItem, error) {
	id := item.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	row := r.db.QueryRowContext(ctx, `
INSERT INTO catalog_items (id, name, description, stock, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (description) DO UPDATE SET description = EXCLUDED.description
RETURNING `+catalogColumns+`
`, id, item.Name, item.Description, item.Stock, now)

	created, err := scanCatalogItem(row)
	if err != nil {
		return nil, fmt.Errorf("create catalog item: %w", err)
	}
	return created, nil
}

func (r *CatalogRepository) EnsureProject(ctx context.Context, catalogItemID, projectID string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO catalog_item_projects (catalog_item_id, project_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
`, catalogItemID, projectID)
	if err != nil {
		return fmt.Errorf("associate catalog item to project: %w", err)
	}
	return nil
}

// SumAssignedQuantity is the stock aggregate: quantities of every invoice
// item referencing the catalog item whose owning invoice holds a project.
func (r *CatalogRepository) SumAssignedQuantity(ctx context.Context, catalogItemID string) (decimal.Decimal, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(ii.quantity), 0)
FROM invoice_items ii
JOIN invoices i ON i.id = ii.invoice_id
WHERE ii.catalog_item_id = $1 AND i.project_id IS NOT NULL
`, catalogItemID)

	var sum decimal.Decimal
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum assigned quantity: %w", err)
	}
	return sum, nil
}

func (r *CatalogRepository) SetStock(ctx context.Context, catalogItemID string, stock decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE catalog_items
SET stock = $2, updated_at = now()
WHERE id = $1
`, catalogItemID, stock)
	if err != nil {
		return fmt.Errorf("set catalog stock: %w", err)
	}
	return requireRow(result, "catalog item", catalogItemID, domain.ErrPersistence)
}

func scanCatalogItem(row rowScanner) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.Stock, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
