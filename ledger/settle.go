package ledger

import "errors"

// ErrForbidden is returned when an actor tries to settle an expense they did
// not create.
var ErrForbidden = errors.New("forbidden")

// MarkSettled transitions an expense from Unsettled to Settled. Only the
// creator may settle, and there is no reverse transition. Settling is
// informational: it never changes the outcome of ComputeBalances.
func MarkSettled(e *Expense, actor string) error {
	if actor != e.Creator {
		return ErrForbidden
	}
	e.IsSettled = true
	return nil
}
