package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpense-app/xpense/ledger"
	"github.com/xpense-app/xpense/money"
)

// The same behavioral suite runs against every Store implementation that can
// be exercised without external services.
func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"inmemory": func(t *testing.T) Store {
			return NewInMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "xpense.db"))
			require.NoError(t, err)
			return store
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("expense CRUD", func(t *testing.T) { testExpenseCRUD(t, newStore(t)) })
			t.Run("creator privilege", func(t *testing.T) { testCreatorPrivilege(t, newStore(t)) })
			t.Run("list ordering and filtering", func(t *testing.T) { testListOrdering(t, newStore(t)) })
			t.Run("settle", func(t *testing.T) { testSetSettled(t, newStore(t)) })
			t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
		})
	}
}

func newExpense(title, amount, creator string, createdAt time.Time) *ledger.Expense {
	cents, err := money.Parse(amount)
	if err != nil {
		panic(err)
	}
	return &ledger.Expense{
		Title:        title,
		Amount:       cents,
		Category:     ledger.CategoryFood,
		SplitType:    ledger.SplitEqual,
		Creator:      creator,
		Participants: []string{"test1", "test2", "test3"},
		CreatedAt:    createdAt,
	}
}

func testExpenseCRUD(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	e := newExpense("Monthly Groceries", "150.00", "test1", time.Date(2025, 4, 14, 5, 30, 0, 0, time.UTC))
	e.Description = "Groceries from the market"
	require.NoError(t, store.CreateExpense(ctx, e))
	assert.NotZero(t, e.ID)

	got, err := store.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Monthly Groceries", got.Title)
	assert.Equal(t, money.Cents(15000), got.Amount)
	assert.Equal(t, ledger.CategoryFood, got.Category)
	assert.Equal(t, "test1", got.Creator)
	assert.ElementsMatch(t, []string{"test1", "test2", "test3"}, got.Participants)
	assert.False(t, got.IsSettled)

	_, err = store.GetExpense(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	// Patch a few fields, leave the rest alone.
	title := "Weekly Groceries"
	amount := money.Cents(9050)
	updated, err := store.UpdateExpense(ctx, e.ID, "test1", ExpensePatch{
		Title:        &title,
		Amount:       &amount,
		Participants: []string{"test1", "test2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Weekly Groceries", updated.Title)
	assert.Equal(t, money.Cents(9050), updated.Amount)
	assert.Equal(t, "Groceries from the market", updated.Description)
	assert.ElementsMatch(t, []string{"test1", "test2"}, updated.Participants)

	got, err = store.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly Groceries", got.Title)
	assert.ElementsMatch(t, []string{"test1", "test2"}, got.Participants)

	require.NoError(t, store.DeleteExpense(ctx, e.ID, "test1"))
	_, err = store.GetExpense(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.AllExpenses(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testCreatorPrivilege(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	e := newExpense("Internet Bill", "89.99", "test1", time.Date(2025, 4, 13, 15, 20, 0, 0, time.UTC))
	require.NoError(t, store.CreateExpense(ctx, e))

	// A non-creator gets the same answer as for an unknown id.
	title := "hijacked"
	_, err := store.UpdateExpense(ctx, e.ID, "test2", ExpensePatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteExpense(ctx, e.ID, "test2")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Internet Bill", got.Title)
}

func testListOrdering(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	older := newExpense("Electricity", "120.50", "test2", time.Date(2025, 4, 11, 9, 15, 0, 0, time.UTC))
	newer := newExpense("Movie Night", "45.00", "test1", time.Date(2025, 4, 12, 18, 45, 0, 0, time.UTC))
	foreign := newExpense("Private Dinner", "30.00", "other1", time.Date(2025, 4, 13, 20, 0, 0, 0, time.UTC))
	foreign.Participants = []string{"other1", "other2"}

	require.NoError(t, store.CreateExpense(ctx, older))
	require.NoError(t, store.CreateExpense(ctx, newer))
	require.NoError(t, store.CreateExpense(ctx, foreign))

	// test1 participates in the first two only; newest first.
	expenses, err := store.ListExpenses(ctx, "test1")
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	assert.Equal(t, "Movie Night", expenses[0].Title)
	assert.Equal(t, "Electricity", expenses[1].Title)

	all, err := store.AllExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Private Dinner", all[0].Title)
}

func testSetSettled(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	e := newExpense("House Cleaning", "75.00", "test1", time.Date(2025, 4, 10, 14, 30, 0, 0, time.UTC))
	require.NoError(t, store.CreateExpense(ctx, e))

	require.NoError(t, store.SetSettled(ctx, e.ID, true))
	got, err := store.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSettled)

	assert.ErrorIs(t, store.SetSettled(ctx, 9999, true), ErrNotFound)
}

func testUsers(t *testing.T, store Store) {
	defer store.Close()
	ctx := context.Background()

	u1, err := store.CreateUser(ctx, "test1", "test1@example.com", "secret123")
	require.NoError(t, err)
	assert.NotZero(t, u1.ID)

	_, err = store.CreateUser(ctx, "test1", "elsewhere@example.com", "secret123")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = store.CreateUser(ctx, "test2", "test2@example.com", "secret123")
	require.NoError(t, err)

	got, err := store.AuthenticateUser(ctx, "test1", "secret123")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, got.ID)

	_, err = store.AuthenticateUser(ctx, "test1", "wrong")
	assert.ErrorIs(t, err, ErrPasswordMismatch)

	_, err = store.AuthenticateUser(ctx, "ghost", "secret123")
	assert.ErrorIs(t, err, ErrNotFound)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "test1", users[0].Username)
	assert.Equal(t, "test2", users[1].Username)
}
