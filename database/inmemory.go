package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xpense-app/xpense/ledger"
)

// InMemoryStore implements Store with plain slices behind a mutex. It backs
// the test suite and is handy for running the server without a database.
type InMemoryStore struct {
	mu            sync.Mutex
	users         []memUser
	expenses      []ledger.Expense
	nextUserID    int64
	nextExpenseID int64
}

type memUser struct {
	User
	password string
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextUserID: 1, nextExpenseID: 1}
}

// CreateExpense assigns a monotonic id and stores a copy of the expense.
func (s *InMemoryStore) CreateExpense(_ context.Context, e *ledger.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextExpenseID
	s.nextExpenseID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.expenses = append(s.expenses, copyExpense(*e))
	return nil
}

// GetExpense returns the expense with the given id.
func (s *InMemoryStore) GetExpense(_ context.Context, id int64) (*ledger.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.expenses {
		if s.expenses[i].ID == id {
			e := copyExpense(s.expenses[i])
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

// ListExpenses returns the participant's expenses, newest first.
func (s *InMemoryStore) ListExpenses(_ context.Context, participant string) ([]ledger.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]ledger.Expense, 0)
	for i := range s.expenses {
		if involves(&s.expenses[i], participant) {
			result = append(result, copyExpense(s.expenses[i]))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// AllExpenses returns every expense, newest first.
func (s *InMemoryStore) AllExpenses(_ context.Context) ([]ledger.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]ledger.Expense, 0, len(s.expenses))
	for i := range s.expenses {
		result = append(result, copyExpense(s.expenses[i]))
	}
	sortNewestFirst(result)
	return result, nil
}

// UpdateExpense applies a patch to an expense owned by actor.
func (s *InMemoryStore) UpdateExpense(_ context.Context, id int64, actor string, patch ExpensePatch) (*ledger.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.expenses {
		e := &s.expenses[i]
		if e.ID != id || e.Creator != actor {
			continue
		}
		if patch.Title != nil {
			e.Title = *patch.Title
		}
		if patch.Description != nil {
			e.Description = *patch.Description
		}
		if patch.Amount != nil {
			e.Amount = *patch.Amount
		}
		if patch.Category != nil {
			e.Category = *patch.Category
		}
		if patch.Participants != nil {
			e.Participants = append([]string(nil), patch.Participants...)
		}
		if patch.BillImageURL != nil {
			e.BillImageURL = *patch.BillImageURL
		}
		updated := copyExpense(*e)
		return &updated, nil
	}
	return nil, ErrNotFound
}

// DeleteExpense removes an expense owned by actor.
func (s *InMemoryStore) DeleteExpense(_ context.Context, id int64, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.expenses {
		if s.expenses[i].ID == id && s.expenses[i].Creator == actor {
			s.expenses = append(s.expenses[:i], s.expenses[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// SetSettled flips the settlement flag.
func (s *InMemoryStore) SetSettled(_ context.Context, id int64, settled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.expenses {
		if s.expenses[i].ID == id {
			s.expenses[i].IsSettled = settled
			return nil
		}
	}
	return ErrNotFound
}

// CreateUser adds a user. Passwords are stored as-is: this store never backs
// a real deployment.
func (s *InMemoryStore) CreateUser(_ context.Context, username, email, password string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username || u.Email == email {
			return User{}, ErrDuplicate
		}
	}
	user := User{ID: s.nextUserID, Username: username, Email: email}
	s.nextUserID++
	s.users = append(s.users, memUser{User: user, password: password})
	return user, nil
}

// AuthenticateUser compares the password directly.
func (s *InMemoryStore) AuthenticateUser(_ context.Context, username, password string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			if u.password != password {
				return User{}, ErrPasswordMismatch
			}
			return u.User, nil
		}
	}
	return User{}, ErrNotFound
}

// ListUsers returns all users ordered by username.
func (s *InMemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.User)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Close is a noop.
func (s *InMemoryStore) Close() error { return nil }

func involves(e *ledger.Expense, participant string) bool {
	if e.Creator == participant {
		return true
	}
	for _, p := range e.Participants {
		if p == participant {
			return true
		}
	}
	return false
}

func copyExpense(e ledger.Expense) ledger.Expense {
	e.Participants = append([]string(nil), e.Participants...)
	return e
}

func sortNewestFirst(expenses []ledger.Expense) {
	sort.Slice(expenses, func(i, j int) bool {
		if !expenses[i].CreatedAt.Equal(expenses[j].CreatedAt) {
			return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
		}
		return expenses[i].ID > expenses[j].ID
	})
}
