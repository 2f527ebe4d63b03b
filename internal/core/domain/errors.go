package domain

import (
	"errors"
	"fmt"
)

var (
	ErrParse            = errors.New("unrecognizable invoice document")
	ErrValidation       = errors.New("invoice validation failed")
	ErrTransport        = errors.New("mail transport failure")
	ErrPersistence      = errors.New("persistence failure")
	ErrDuplicateInvoice = errors.New("duplicate invoice number")
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrProjectNotFound  = errors.New("project not found")
	ErrRuleNotFound     = errors.New("assignment rule not found")
	ErrSourceNotFound   = errors.New("ingestion source not found")
	ErrRunLocked        = errors.New("ingestion run already in progress")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
