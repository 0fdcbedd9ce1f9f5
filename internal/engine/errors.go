package engine

import "fmt"

// ConflictError reports an optimistic-concurrency failure: the caller's
// expected version no longer matches the stored row. The caller must reload
// and decide whether to retry; the engine never retries on its own.
type ConflictError struct {
	LeadID          string
	ExpectedVersion int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("lead %s version conflict (expected %d)", e.LeadID, e.ExpectedVersion)
}

// ValidationError reports client input the engine rejects before touching
// the store: malformed filters, cursor/sort mismatch, missing reason code.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}
