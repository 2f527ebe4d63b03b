package domain

import "time"

type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Participation records an employee taking part in a project. Only its
// existence matters to rule evaluation.
type Participation struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	EmployeeID string    `json:"employee_id"`
	StartDate  time.Time `json:"start_date"`
}

// IngestionSource configures one upstream mailbox label feeding the pipeline.
// Its name doubles as the run-lock key: two runs against the same source
// never execute concurrently.
type IngestionSource struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	GmailLabel         string     `json:"gmail_label"`
	ProjectID          *string    `json:"project_id,omitempty"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	AutoSyncEnabled    bool       `json:"auto_sync_enabled"`
	SyncFrequencyHours int        `json:"sync_frequency_hours,omitempty"`
}
