package domain

import "time"

type RuleType string

const (
	RuleSupplierNIT           RuleType = "SUPPLIER_NIT"
	RuleDateRange             RuleType = "DATE_RANGE"
	RuleKeywords              RuleType = "KEYWORDS"
	RuleEmployeeParticipation RuleType = "EMPLOYEE_PARTICIPATION"
	RuleManual                RuleType = "MANUAL"
)

// AssignmentRule is user-managed configuration. Lower priority values are
// evaluated first. Evaluation never mutates rules; a rule missing its
// type-specific fields simply never matches.
type AssignmentRule struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Priority    int        `json:"priority"`
	RuleType    RuleType   `json:"rule_type"`
	SupplierNIT string     `json:"supplier_nit,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Keywords    string     `json:"keywords,omitempty"`
	IsActive    bool       `json:"is_active"`
	Description string     `json:"description,omitempty"`
}

// AssignmentVerdict is transient: it is consumed immediately to mutate an
// invoice and never persisted on its own.
type AssignmentVerdict struct {
	ProjectID       *string  `json:"project_id,omitempty"`
	ProjectName     string   `json:"project_name,omitempty"`
	Confidence      int      `json:"confidence"`
	MatchedRuleType RuleType `json:"matched_rule_type"`
	Reason          string   `json:"reason"`
}

const RuleTypeNone RuleType = "NONE"

// NoMatchVerdict is returned when no active rule matches an invoice.
func NoMatchVerdict() AssignmentVerdict {
	return AssignmentVerdict{
		Confidence:      0,
		MatchedRuleType: RuleTypeNone,
		Reason:          "no assignment rule matched this invoice",
	}
}
