package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/xpense-app/xpense/ledger"
	"github.com/xpense-app/xpense/money"
)

// sqliteSchema is applied on startup so the tables always exist. Timestamps
// are stored as unix seconds; ordering ties are broken by id.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    email    TEXT NOT NULL UNIQUE,
    password TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS expenses (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    title          TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    amount_cents   INTEGER NOT NULL CHECK (amount_cents > 0),
    category       TEXT NOT NULL,
    split_type     TEXT NOT NULL DEFAULT 'equal',
    creator        TEXT NOT NULL,
    created_at     INTEGER NOT NULL,
    is_settled     INTEGER NOT NULL DEFAULT 0,
    bill_image_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS expense_participants (
    expense_id  INTEGER NOT NULL,
    participant TEXT NOT NULL,
    PRIMARY KEY (expense_id, participant),
    FOREIGN KEY (expense_id) REFERENCES expenses(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_expenses_created_at ON expenses(created_at);
CREATE INDEX IF NOT EXISTS idx_expense_participants_participant ON expense_participants(participant);
`

// SQLiteStore implements Store on a local SQLite file. It is the default
// backend for single-host deployments.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, unavailable(err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, unavailable(err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, unavailable(err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExpense inserts the expense and its participant rows in one
// transaction.
func (s *SQLiteStore) CreateExpense(ctx context.Context, e *ledger.Expense) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
        INSERT INTO expenses (title, description, amount_cents, category, split_type, creator, created_at, is_settled, bill_image_url)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, e.Title, e.Description, int64(e.Amount), string(e.Category), e.SplitType,
		e.Creator, e.CreatedAt.Unix(), e.IsSettled, e.BillImageURL)
	if err != nil {
		return unavailable(err)
	}
	e.ID, err = result.LastInsertId()
	if err != nil {
		return unavailable(err)
	}

	for _, p := range e.Participants {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO expense_participants (expense_id, participant) VALUES (?, ?)",
			e.ID, p); err != nil {
			return unavailable(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// GetExpense returns a single expense with its participant set.
func (s *SQLiteStore) GetExpense(ctx context.Context, id int64) (*ledger.Expense, error) {
	e, err := s.scanExpense(ctx, s.db.QueryRowContext(ctx, `
        SELECT id, title, description, amount_cents, category, split_type, creator, created_at, is_settled, bill_image_url
        FROM expenses WHERE id = ?
    `, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT participant FROM expense_participants WHERE expense_id = ? ORDER BY participant", id)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, unavailable(err)
		}
		e.Participants = append(e.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

// ListExpenses returns the participant's expenses, newest first.
func (s *SQLiteStore) ListExpenses(ctx context.Context, participant string) ([]ledger.Expense, error) {
	return s.queryExpenses(ctx, `
        SELECT id FROM expenses
        WHERE creator = ?1 OR id IN (
            SELECT expense_id FROM expense_participants WHERE participant = ?1
        )
        ORDER BY created_at DESC, id DESC
    `, participant)
}

// AllExpenses returns the whole shared history, newest first.
func (s *SQLiteStore) AllExpenses(ctx context.Context) ([]ledger.Expense, error) {
	return s.queryExpenses(ctx, "SELECT id FROM expenses ORDER BY created_at DESC, id DESC")
}

func (s *SQLiteStore) queryExpenses(ctx context.Context, idQuery string, args ...interface{}) ([]ledger.Expense, error) {
	rows, err := s.db.QueryContext(ctx, idQuery, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	expenses := make([]ledger.Expense, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetExpense(ctx, id)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *e)
	}
	return expenses, nil
}

// UpdateExpense applies a patch to an expense owned by actor.
func (s *SQLiteStore) UpdateExpense(ctx context.Context, id int64, actor string, patch ExpensePatch) (*ledger.Expense, error) {
	current, err := s.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Creator != actor {
		// Same answer as an unknown id: no existence leak.
		return nil, ErrNotFound
	}

	if patch.Title != nil {
		current.Title = *patch.Title
	}
	if patch.Description != nil {
		current.Description = *patch.Description
	}
	if patch.Amount != nil {
		current.Amount = *patch.Amount
	}
	if patch.Category != nil {
		current.Category = *patch.Category
	}
	if patch.BillImageURL != nil {
		current.BillImageURL = *patch.BillImageURL
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        UPDATE expenses
        SET title = ?, description = ?, amount_cents = ?, category = ?, bill_image_url = ?
        WHERE id = ? AND creator = ?
    `, current.Title, current.Description, int64(current.Amount), string(current.Category),
		current.BillImageURL, id, actor)
	if err != nil {
		return nil, unavailable(err)
	}

	if patch.Participants != nil {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM expense_participants WHERE expense_id = ?", id); err != nil {
			return nil, unavailable(err)
		}
		for _, p := range patch.Participants {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO expense_participants (expense_id, participant) VALUES (?, ?)",
				id, p); err != nil {
				return nil, unavailable(err)
			}
		}
		current.Participants = append([]string(nil), patch.Participants...)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable(err)
	}
	return current, nil
}

// DeleteExpense removes an expense owned by actor; participant rows cascade.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, id int64, actor string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM expenses WHERE id = ? AND creator = ?", id, actor)
	if err != nil {
		return unavailable(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSettled flips the settlement flag.
func (s *SQLiteStore) SetSettled(ctx context.Context, id int64, settled bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE expenses SET is_settled = ? WHERE id = ?", settled, id)
	if err != nil {
		return unavailable(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser inserts a new user with a bcrypt-hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, password string) (User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password) VALUES (?, ?, ?)",
		username, email, hashed)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return User{}, ErrDuplicate
		}
		return User{}, unavailable(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return User{}, unavailable(err)
	}
	return User{ID: id, Username: username, Email: email}, nil
}

// AuthenticateUser checks the username/password pair against the stored
// bcrypt hash.
func (s *SQLiteStore) AuthenticateUser(ctx context.Context, username, password string) (User, error) {
	user := User{Username: username}
	var hashed string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password FROM users WHERE username = ?", username).
		Scan(&user.ID, &user.Email, &hashed)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, unavailable(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return User{}, ErrPasswordMismatch
	}
	return user, nil
}

// ListUsers returns all users ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, username, email FROM users ORDER BY username")
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email); err != nil {
			return nil, unavailable(err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return users, nil
}

// scanExpense reads one expense row (without participants).
func (s *SQLiteStore) scanExpense(_ context.Context, row *sql.Row) (*ledger.Expense, error) {
	e := &ledger.Expense{}
	var amount, createdAt int64
	var category string
	err := row.Scan(&e.ID, &e.Title, &e.Description, &amount, &category, &e.SplitType,
		&e.Creator, &createdAt, &e.IsSettled, &e.BillImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	e.Amount = money.Cents(amount)
	e.Category = ledger.Category(category)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return e, nil
}
