package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS participations (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	employee_id TEXT NOT NULL,
	start_date TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_participations_project ON participations(project_id);

CREATE TABLE IF NOT EXISTS catalog_items (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	stock NUMERIC(18,4) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_catalog_items_description ON catalog_items(description);

CREATE TABLE IF NOT EXISTS catalog_item_projects (
	catalog_item_id TEXT NOT NULL REFERENCES catalog_items(id),
	project_id TEXT NOT NULL REFERENCES projects(id),
	PRIMARY KEY (catalog_item_id, project_id)
);

CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	invoice_number TEXT NOT NULL,
	issue_date TIMESTAMPTZ NOT NULL,
	due_date TIMESTAMPTZ,
	supplier_id TEXT NOT NULL,
	supplier_name TEXT NOT NULL,
	project_id TEXT REFERENCES projects(id),
	subtotal NUMERIC(18,4) NOT NULL,
	tax NUMERIC(18,4) NOT NULL,
	withholding_tax NUMERIC(18,4),
	withholding_ica NUMERIC(18,4),
	total NUMERIC(18,4) NOT NULL,
	payment_status TEXT NOT NULL,
	source TEXT NOT NULL,
	xml_file_path TEXT NOT NULL DEFAULT '',
	assignment_confidence INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_invoices_number ON invoices(invoice_number);
CREATE INDEX IF NOT EXISTS idx_invoices_project ON invoices(project_id);
CREATE INDEX IF NOT EXISTS idx_invoices_confidence ON invoices(assignment_confidence);

CREATE TABLE IF NOT EXISTS invoice_items (
	id TEXT PRIMARY KEY,
	invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	catalog_item_id TEXT REFERENCES catalog_items(id),
	description TEXT NOT NULL,
	quantity NUMERIC(18,4) NOT NULL,
	unit_price NUMERIC(18,4) NOT NULL,
	line_total NUMERIC(18,4) NOT NULL,
	tax_amount NUMERIC(18,4) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);
CREATE INDEX IF NOT EXISTS idx_invoice_items_catalog ON invoice_items(catalog_item_id);

CREATE TABLE IF NOT EXISTS assignment_rules (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	priority INTEGER NOT NULL,
	rule_type TEXT NOT NULL,
	supplier_nit TEXT,
	start_date TIMESTAMPTZ,
	end_date TIMESTAMPTZ,
	keywords TEXT,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	description TEXT
);

CREATE INDEX IF NOT EXISTS idx_assignment_rules_active ON assignment_rules(is_active, priority);

CREATE TABLE IF NOT EXISTS ingestion_sources (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	gmail_label TEXT NOT NULL,
	project_id TEXT REFERENCES projects(id),
	last_sync_at TIMESTAMPTZ,
	auto_sync_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	sync_frequency_hours INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_ingestion_sources_name ON ingestion_sources(name);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
