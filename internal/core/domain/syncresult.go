package domain

type SyncStatus string

const (
	SyncSuccess        SyncStatus = "SUCCESS"
	SyncPartialSuccess SyncStatus = "PARTIAL_SUCCESS"
	SyncFailed         SyncStatus = "FAILED"
)

type SyncError struct {
	Ref     string `json:"ref"`
	Message string `json:"message"`
}

// SyncResult summarizes one ingestion run. Every per-unit failure lands in
// Errors; a bad document never aborts the batch.
type SyncResult struct {
	Processed     int         `json:"processed"`
	Created       int         `json:"created"`
	Updated       int         `json:"updated"`
	AutoAssigned  int         `json:"auto_assigned"`
	PendingReview int         `json:"pending_review"`
	Errors        []SyncError `json:"errors"`
	Status        SyncStatus  `json:"status"`
}

func (r *SyncResult) AddError(ref string, err error) {
	r.Errors = append(r.Errors, SyncError{Ref: ref, Message: err.Error()})
}

// Finalize derives the run status: SUCCESS when clean, PARTIAL_SUCCESS when
// at least one create/update survived the errors, FAILED otherwise.
func (r *SyncResult) Finalize() {
	switch {
	case len(r.Errors) == 0:
		r.Status = SyncSuccess
	case r.Created+r.Updated > 0:
		r.Status = SyncPartialSuccess
	default:
		r.Status = SyncFailed
	}
}
