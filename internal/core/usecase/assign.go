package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/construmedicis/buildtracking/internal/core/domain"
	"github.com/construmedicis/buildtracking/internal/core/ports"
)

// Confidence weights per rule type. Fixed defaults; a matched rule always
// short-circuits regardless of what later rules could score.
const (
	confidenceSupplierNIT   = 95
	confidenceDateRange     = 70
	confidenceKeywordsBase  = 60
	confidenceKeywordsStep  = 10
	confidenceKeywordsCap   = 85
	confidenceParticipation = 75
)

type RuleEngine struct {
	rules          ports.RuleRepository
	projects       ports.ProjectRepository
	invoices       ports.InvoiceRepository
	participations ports.ParticipationRepository
}

func NewRuleEngine(
	rules ports.RuleRepository,
	projects ports.ProjectRepository,
	invoices ports.InvoiceRepository,
	participations ports.ParticipationRepository,
) *RuleEngine {
	return &RuleEngine{
		rules:          rules,
		projects:       projects,
		invoices:       invoices,
		participations: participations,
	}
}

// Evaluate walks active rules in ascending priority and returns the first
// verdict with confidence > 0, or a no-match verdict. Rules are never
// mutated; malformed rules simply never match.
func (e *RuleEngine) Evaluate(ctx context.Context, invoice *domain.Invoice) (domain.AssignmentVerdict, error) {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return domain.AssignmentVerdict{}, fmt.Errorf("list active rules: %w", err)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	for i := range rules {
		verdict, matched, err := e.evaluateRule(ctx, &rules[i], invoice)
		if err != nil {
			return domain.AssignmentVerdict{}, err
		}
		if matched && verdict.Confidence > 0 {
			return verdict, nil
		}
	}

	return domain.NoMatchVerdict(), nil
}

func (e *RuleEngine) evaluateRule(ctx context.Context, rule *domain.AssignmentRule, invoice *domain.Invoice) (domain.AssignmentVerdict, bool, error) {
	switch rule.RuleType {
	case domain.RuleSupplierNIT:
		if rule.SupplierNIT != "" && rule.SupplierNIT == invoice.SupplierID {
			return e.verdict(ctx, rule, confidenceSupplierNIT,
				"supplier NIT matches: "+invoice.SupplierID), true, nil
		}

	case domain.RuleDateRange:
		if rule.StartDate == nil || rule.EndDate == nil || invoice.IssueDate.IsZero() {
			return domain.AssignmentVerdict{}, false, nil
		}
		issued := invoice.IssueDate
		if !issued.Before(*rule.StartDate) && !issued.After(*rule.EndDate) {
			return e.verdict(ctx, rule, confidenceDateRange,
				"invoice issue date falls inside the project date range"), true, nil
		}

	case domain.RuleKeywords:
		matchCount, err := e.countKeywordMatches(ctx, rule, invoice)
		if err != nil {
			return domain.AssignmentVerdict{}, false, err
		}
		if matchCount > 0 {
			confidence := confidenceKeywordsBase + matchCount*confidenceKeywordsStep
			if confidence > confidenceKeywordsCap {
				confidence = confidenceKeywordsCap
			}
			return e.verdict(ctx, rule, confidence,
				fmt.Sprintf("%d line item(s) matched rule keywords", matchCount)), true, nil
		}

	case domain.RuleEmployeeParticipation:
		if invoice.IssueDate.IsZero() {
			return domain.AssignmentVerdict{}, false, nil
		}
		count, err := e.participations.CountByProject(ctx, rule.ProjectID)
		if err != nil {
			return domain.AssignmentVerdict{}, false, fmt.Errorf("count participations: %w", err)
		}
		if count > 0 {
			return e.verdict(ctx, rule, confidenceParticipation,
				fmt.Sprintf("project has %d active participation(s)", count)), true, nil
		}

	case domain.RuleManual:
		// Manual rules always require human confirmation.
		return domain.AssignmentVerdict{}, false, nil
	}

	return domain.AssignmentVerdict{}, false, nil
}

// countKeywordMatches counts distinct line items whose description contains
// at least one comma-split trimmed keyword, case-insensitively.
func (e *RuleEngine) countKeywordMatches(ctx context.Context, rule *domain.AssignmentRule, invoice *domain.Invoice) (int, error) {
	keywords := splitKeywords(rule.Keywords)
	if len(keywords) == 0 {
		return 0, nil
	}

	items := invoice.Items
	if len(items) == 0 && invoice.ID != "" {
		loaded, err := e.invoices.ItemsByInvoice(ctx, invoice.ID)
		if err != nil {
			return 0, fmt.Errorf("load invoice items: %w", err)
		}
		items = loaded
	}

	count := 0
	for _, item := range items {
		description := strings.ToLower(item.Description)
		for _, keyword := range keywords {
			if strings.Contains(description, keyword) {
				count++
				break
			}
		}
	}
	return count, nil
}

func splitKeywords(raw string) []string {
	var keywords []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	return keywords
}

func (e *RuleEngine) verdict(ctx context.Context, rule *domain.AssignmentRule, confidence int, reason string) domain.AssignmentVerdict {
	projectID := rule.ProjectID
	verdict := domain.AssignmentVerdict{
		ProjectID:       &projectID,
		Confidence:      confidence,
		MatchedRuleType: rule.RuleType,
		Reason:          reason,
	}
	if project, err := e.projects.GetByID(ctx, rule.ProjectID); err == nil && project != nil {
		verdict.ProjectName = project.Name
	}
	return verdict
}
