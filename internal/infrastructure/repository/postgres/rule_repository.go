package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

type RuleRepository struct {
	db *sql.DB
}

func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, project_id, priority, rule_type, supplier_nit, start_date, end_date, keywords, is_active, description`

func (r *RuleRepository) ListActive(ctx context.Context) ([]domain.AssignmentRule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM assignment_rules
WHERE is_active
ORDER BY priority, id
`)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AssignmentRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.AssignmentRule, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+ruleColumns+`
FROM assignment_rules
WHERE id = $1
`, id)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %s: %w", id, domain.ErrRuleNotFound)
		}
		return nil, fmt.Errorf("get rule by id: %w", err)
	}
	return &rule, nil
}

func (r *RuleRepository) Create(ctx context.Context, rule *domain.AssignmentRule) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO assignment_rules (`+ruleColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		rule.ID, rule.ProjectID, rule.Priority, string(rule.RuleType),
		nullString(rule.SupplierNIT), rule.StartDate, rule.EndDate, nullString(rule.Keywords),
		rule.IsActive, nullString(rule.Description),
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func scanRule(row rowScanner) (domain.AssignmentRule, error) {
	var rule domain.AssignmentRule
	var ruleType string
	var supplierNIT, keywords, description sql.NullString

	err := row.Scan(
		&rule.ID, &rule.ProjectID, &rule.Priority, &ruleType,
		&supplierNIT, &rule.StartDate, &rule.EndDate, &keywords,
		&rule.IsActive, &description,
	)
	if err != nil {
		return domain.AssignmentRule{}, err
	}

	rule.RuleType = domain.RuleType(ruleType)
	rule.SupplierNIT = supplierNIT.String
	rule.Keywords = keywords.String
	rule.Description = description.String
	return rule, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
