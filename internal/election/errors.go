package election

import (
	"fmt"
)

// ReadError reports a failed or reverted ledger read. The cached value of
// Fact is retained and marked stale.
type ReadError struct {
	Fact Fact
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Fact, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ValidationError is an action gate rejection. It is produced before any
// network interaction.
type ValidationError struct {
	Kind         OperationKind
	Precondition string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Kind, e.Precondition)
}

// SubmissionError reports that the wallet or ledger refused a write.
type SubmissionError struct {
	Kind OperationKind
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationError reports a submitted write that reverted or never
// confirmed.
type ConfirmationError struct {
	Kind   OperationKind
	Handle string
	Err    error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirm %s (%s): %v", e.Kind, e.Handle, e.Err)
}

func (e *ConfirmationError) Unwrap() error { return e.Err }

// SubscriptionError reports a broken event subscription.
type SubscriptionError struct {
	Event EventKind
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Event, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
