/*
errors.go - Error taxonomy of the budget ledger

ERROR CATEGORIES:
  1. ValidationError   - rejected before any store write (duplicate key, bad enum)
  2. NotFoundError     - an expected single record (Parameters) is missing
  3. StoreError        - the persisted store rejected a read or write
  4. PartialPromotionError - a promotion stopped between its clear and write steps

Every structured error unwraps to its sentinel AND to its cause, so callers can
use errors.Is(err, ErrStore) as well as errors.Is(err, context.Canceled).

SEE ALSO:
  - promotion.go: produces PartialPromotionError
  - store/sqlite: produces StoreError with MissingField for schema mismatch
*/
package budget

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrStore            = errors.New("store error")
	ErrPartialPromotion = errors.New("partial promotion")

	// ErrConfirmationRequired is returned when a destructive operation is
	// attempted without explicit confirmation.
	ErrConfirmationRequired = errors.New("confirmation required")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DuplicateItemError is the validation failure for a clashing de-dup key.
type DuplicateItemError struct {
	Workspace  Workspace
	Key        ItemKey
	ExistingID string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("validation: line item %s already exists in %s (id %s)", e.Key, e.Workspace, e.ExistingID)
}

func (e *DuplicateItemError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Workspace Workspace
	Table     Table
	RecordID  string
}

func (e *NotFoundError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("%s: no record in workspace %s", e.Table, e.Workspace)
	}
	return fmt.Sprintf("%s %s: not found in workspace %s", e.Table, e.RecordID, e.Workspace)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StoreError wraps a failure reported by the persisted store.
type StoreError struct {
	Op    string
	Table Table
	// MissingField names a column the store does not know yet.
	MissingField string
	Err          error
}

func (e *StoreError) Error() string {
	if e.MissingField != "" {
		return fmt.Sprintf("%s %s: field %q does not exist in the store yet; apply the latest schema migration",
			e.Op, e.Table, e.MissingField)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// PromotionPhase names the step of a promotion that failed.
type PromotionPhase string

const (
	PhaseRead       PromotionPhase = "read"
	PhaseClear      PromotionPhase = "clear"
	PhaseWrite      PromotionPhase = "write"
	PhaseParameters PromotionPhase = "parameters"
)

// PartialPromotionError reports that the target workspace may be inconsistent.
// Run holds everything needed to retry with Promoter.Resume.
type PartialPromotionError struct {
	Source Workspace
	Target Workspace
	Phase  PromotionPhase
	Run    *PromotionRun
	Err    error
}

func (e *PartialPromotionError) Error() string {
	return fmt.Sprintf("promotion %s -> %s failed during %s; workspace %s may be inconsistent, retry the promotion: %v",
		e.Source, e.Target, e.Phase, e.Target, e.Err)
}

func (e *PartialPromotionError) Unwrap() []error { return []error{ErrPartialPromotion, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConfirmationRequired)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// wrapStore leaves typed store errors alone and wraps anything else.
func wrapStore(op string, table Table, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	return &StoreError{Op: op, Table: table, Err: err}
}
