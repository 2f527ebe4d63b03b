package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

func catalogRows() *sqlmock.Rows {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "name", "description", "stock", "created_at", "updated_at"}).
		AddRow("cat-1", "CEM-50", "Cemento gris uso general 50kg", "12.5", now, now)
}

func TestCatalogSearchByNameAbsentIsNotAnError(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewCatalogRepository(db)

	mock.ExpectQuery("SELECT id, name, description").
		WithArgs("ACERO-12").
		WillReturnError(sql.ErrNoRows)

	item, err := repo.SearchByName(context.Background(), "ACERO-12")
	if err != nil {
		t.Fatalf("absent item must not error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCatalogCreateReturnsExistingRowOnConflict(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewCatalogRepository(db)

	mock.ExpectQuery("INSERT INTO catalog_items").
		WithArgs(sqlmock.AnyArg(), "CEM-50", "Cemento gris uso general 50kg",
			decimal.Zero, sqlmock.AnyArg()).
		WillReturnRows(catalogRows())

	created, err := repo.Create(context.Background(), &domain.CatalogItem{
		Name:        "CEM-50",
		Description: "Cemento gris uso general 50kg",
		Stock:       decimal.Zero,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "cat-1" {
		t.Fatalf("expected the stored row back, got %+v", created)
	}
	if !created.Stock.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("stock = %s", created.Stock)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCatalogSumAssignedQuantity(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewCatalogRepository(db)

	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs("cat-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("12.5"))

	sum, err := repo.SumAssignedQuantity(context.Background(), "cat-1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("sum = %s, want 12.5", sum)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCatalogSetStockUnknownItem(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewCatalogRepository(db)

	mock.ExpectExec("UPDATE catalog_items").
		WithArgs("missing", decimal.Zero).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetStock(context.Background(), "missing", decimal.Zero)
	if !domain.IsKind(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
