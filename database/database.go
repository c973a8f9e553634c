// Package database defines the storage contract the ledger core consumes,
// plus its sentinel errors. Implementations exist for Postgres, SQLite and
// an in-memory store used by tests.
package database

import (
	"context"
	"errors"

	"github.com/xpense-app/xpense/ledger"
	"github.com/xpense-app/xpense/money"
)

var (
	// ErrNotFound is returned when an expense or user does not exist, or when
	// an expense exists but the caller is not its creator. The two cases are
	// deliberately indistinguishable so non-creators learn nothing.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a create request fails due to a duplicate
	// entry.
	ErrDuplicate = errors.New("duplicate")

	// ErrPasswordMismatch is returned when authentication fails due to a bad
	// password.
	ErrPasswordMismatch = errors.New("password mismatch")

	// ErrUnavailable wraps backend failures (connection refused, bad schema,
	// ...). Callers surface it as a transient server error and never retry
	// inside the core.
	ErrUnavailable = errors.New("store unavailable")
)

// User is a registered account. The username doubles as the participant id
// used throughout the ledger.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ExpensePatch is a partial update for an expense. Nil fields are left
// unchanged. ID, creator, creation time and settlement state are never
// patchable through this type.
type ExpensePatch struct {
	Title        *string
	Description  *string
	Amount       *money.Cents
	Category     *ledger.Category
	Participants []string
	BillImageURL *string
}

// Store is the persistence contract. A single call is atomic from the
// caller's perspective: it is either fully applied or not at all. Concurrent
// writes to the same record are serialized by the implementation
// (last-writer-wins).
type Store interface {
	// CreateExpense persists a new expense, assigning ID and CreatedAt.
	CreateExpense(ctx context.Context, e *ledger.Expense) error

	// GetExpense returns the expense with the given id, or ErrNotFound.
	GetExpense(ctx context.Context, id int64) (*ledger.Expense, error)

	// ListExpenses returns every expense where the participant is creator or
	// split participant, newest first.
	ListExpenses(ctx context.Context, participant string) ([]ledger.Expense, error)

	// AllExpenses returns the full shared expense history, newest first.
	// Balance computation runs over this set.
	AllExpenses(ctx context.Context) ([]ledger.Expense, error)

	// UpdateExpense applies a patch. ErrNotFound if the id is unknown or the
	// actor is not the expense's creator.
	UpdateExpense(ctx context.Context, id int64, actor string, patch ExpensePatch) (*ledger.Expense, error)

	// DeleteExpense removes an expense permanently, under the same ErrNotFound
	// rule as UpdateExpense. Deleted expenses no longer contribute to balances.
	DeleteExpense(ctx context.Context, id int64, actor string) error

	// SetSettled flips the settlement flag. Creator permission is checked by
	// the caller (see ledger.MarkSettled); ErrNotFound if the id is unknown.
	SetSettled(ctx context.Context, id int64, settled bool) error

	// CreateUser registers an account. ErrDuplicate if the username or email
	// is taken.
	CreateUser(ctx context.Context, username, email, password string) (User, error)

	// AuthenticateUser verifies username/password. ErrNotFound for an unknown
	// user, ErrPasswordMismatch for a bad password.
	AuthenticateUser(ctx context.Context, username, password string) (User, error)

	// ListUsers returns all registered users ordered by username.
	ListUsers(ctx context.Context) ([]User, error)

	// Close releases any resources held by the store.
	Close() error
}
