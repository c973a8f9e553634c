package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/xpense-app/xpense/ledger"
	"github.com/xpense-app/xpense/money"
)

// Database schema, bootstrapped once with the create-schema command.
const pgSchema = `
CREATE TABLE users (
	id         SERIAL PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL UNIQUE,
	password   TEXT NOT NULL
);

CREATE TABLE expenses (
	id             BIGSERIAL PRIMARY KEY,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	amount_cents   BIGINT NOT NULL CHECK (amount_cents > 0),
	category       TEXT NOT NULL,
	split_type     TEXT NOT NULL DEFAULT 'equal',
	creator        TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	is_settled     BOOLEAN NOT NULL DEFAULT FALSE,
	bill_image_url TEXT NOT NULL DEFAULT ''
);

CREATE INDEX expenses_created_at ON expenses(created_at);
CREATE INDEX expenses_creator ON expenses(creator);

CREATE TABLE expense_participants (
	expense_id  BIGINT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
	participant TEXT NOT NULL,
	PRIMARY KEY (expense_id, participant)
);

CREATE INDEX expense_participants_participant ON expense_participants(participant);
`

// PgConfig holds the configuration for the postgresql store.
type PgConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// PgStore implements Store on postgresql via lib/pq.
type PgStore struct {
	db *sql.DB
}

var _ Store = (*PgStore)(nil)

// NewPgStore connects to postgresql and verifies the connection.
func NewPgStore(config PgConfig) (*PgStore, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s "+
		"password=%s dbname=%s sslmode=disable",
		config.Host, config.Port, config.User, config.Password, config.Name)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable(err)
	}
	return &PgStore{db: db}, nil
}

// Close closes the connection pool.
func (s *PgStore) Close() error {
	return s.db.Close()
}

// CreateSchema runs the SQL to create the schema. This is required to
// bootstrap the database.
func (s *PgStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return unavailable(err)
	}
	return nil
}

// CreateExpense inserts into expenses and expense_participants in one
// transaction so a split is never half persisted.
func (s *PgStore) CreateExpense(ctx context.Context, e *ledger.Expense) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
        INSERT INTO expenses (title, description, amount_cents, category, split_type, creator, created_at, is_settled, bill_image_url)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `, e.Title, e.Description, int64(e.Amount), string(e.Category), e.SplitType,
		e.Creator, e.CreatedAt, e.IsSettled, e.BillImageURL).Scan(&e.ID)
	if err != nil {
		return unavailable(err)
	}

	if err := insertParticipants(ctx, tx, e.ID, e.Participants); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// GetExpense returns a single expense with its participant set.
func (s *PgStore) GetExpense(ctx context.Context, id int64) (*ledger.Expense, error) {
	e := &ledger.Expense{}
	var amount int64
	var category string
	err := s.db.QueryRowContext(ctx, `
        SELECT id, title, description, amount_cents, category, split_type, creator, created_at, is_settled, bill_image_url
        FROM expenses WHERE id = $1
    `, id).Scan(&e.ID, &e.Title, &e.Description, &amount, &category, &e.SplitType,
		&e.Creator, &e.CreatedAt, &e.IsSettled, &e.BillImageURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	e.Amount = money.Cents(amount)
	e.Category = ledger.Category(category)

	rows, err := s.db.QueryContext(ctx,
		"SELECT participant FROM expense_participants WHERE expense_id = $1 ORDER BY participant", id)
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
func (s *PgStore) ListExpenses(ctx context.Context, participant string) ([]ledger.Expense, error) {
	return s.queryExpenses(ctx, `
        SELECT e.id, e.title, e.description, e.amount_cents, e.category, e.split_type,
               e.creator, e.created_at, e.is_settled, e.bill_image_url, ep.participant
        FROM expenses e JOIN expense_participants ep ON e.id = ep.expense_id
        WHERE e.creator = $1 OR e.id IN (
            SELECT expense_id FROM expense_participants WHERE participant = $1
        )
        ORDER BY e.created_at DESC, e.id DESC, ep.participant
    `, participant)
}

// AllExpenses returns the whole shared history, newest first.
func (s *PgStore) AllExpenses(ctx context.Context) ([]ledger.Expense, error) {
	return s.queryExpenses(ctx, `
        SELECT e.id, e.title, e.description, e.amount_cents, e.category, e.split_type,
               e.creator, e.created_at, e.is_settled, e.bill_image_url, ep.participant
        FROM expenses e JOIN expense_participants ep ON e.id = ep.expense_id
        ORDER BY e.created_at DESC, e.id DESC, ep.participant
    `)
}

// queryExpenses runs a join over expenses and participants and folds the rows
// back into Expense values, preserving row order.
func (s *PgStore) queryExpenses(ctx context.Context, query string, args ...interface{}) ([]ledger.Expense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	expenses := make([]ledger.Expense, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var e ledger.Expense
		var amount int64
		var category, participant string
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &amount, &category, &e.SplitType,
			&e.Creator, &e.CreatedAt, &e.IsSettled, &e.BillImageURL, &participant); err != nil {
			return nil, unavailable(err)
		}
		i, seen := index[e.ID]
		if !seen {
			e.Amount = money.Cents(amount)
			e.Category = ledger.Category(category)
			expenses = append(expenses, e)
			i = len(expenses) - 1
			index[e.ID] = i
		}
		expenses[i].Participants = append(expenses[i].Participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return expenses, nil
}

// UpdateExpense applies a patch to an expense owned by actor. The row is
// locked, patched in Go and written back, so concurrent writers serialize.
func (s *PgStore) UpdateExpense(ctx context.Context, id int64, actor string, patch ExpensePatch) (*ledger.Expense, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	defer tx.Rollback()

	e := &ledger.Expense{ID: id}
	var amount int64
	var category string
	err = tx.QueryRowContext(ctx, `
        SELECT title, description, amount_cents, category, split_type, creator, created_at, is_settled, bill_image_url
        FROM expenses WHERE id = $1 AND creator = $2
        FOR UPDATE
    `, id, actor).Scan(&e.Title, &e.Description, &amount, &category, &e.SplitType,
		&e.Creator, &e.CreatedAt, &e.IsSettled, &e.BillImageURL)
	if err == sql.ErrNoRows {
		// Unknown id and foreign expense look identical to the caller.
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	e.Amount = money.Cents(amount)
	e.Category = ledger.Category(category)

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
	if patch.BillImageURL != nil {
		e.BillImageURL = *patch.BillImageURL
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE expenses
        SET title = $1, description = $2, amount_cents = $3, category = $4, bill_image_url = $5
        WHERE id = $6
    `, e.Title, e.Description, int64(e.Amount), string(e.Category), e.BillImageURL, id)
	if err != nil {
		return nil, unavailable(err)
	}

	if patch.Participants != nil {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM expense_participants WHERE expense_id = $1", id); err != nil {
			return nil, unavailable(err)
		}
		if err := insertParticipants(ctx, tx, id, patch.Participants); err != nil {
			return nil, err
		}
		e.Participants = append([]string(nil), patch.Participants...)
	} else {
		rows, err := tx.QueryContext(ctx,
			"SELECT participant FROM expense_participants WHERE expense_id = $1 ORDER BY participant", id)
		if err != nil {
			return nil, unavailable(err)
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return nil, unavailable(err)
			}
			e.Participants = append(e.Participants, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, unavailable(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable(err)
	}
	return e, nil
}

// DeleteExpense removes an expense owned by actor; participant rows cascade.
func (s *PgStore) DeleteExpense(ctx context.Context, id int64, actor string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM expenses WHERE id = $1 AND creator = $2", id, actor)
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
func (s *PgStore) SetSettled(ctx context.Context, id int64, settled bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE expenses SET is_settled = $1 WHERE id = $2", settled, id)
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

// CreateUser inserts a new user with a bcrypt-hashed password. ErrDuplicate
// is returned if another user holds the same username or email.
func (s *PgStore) CreateUser(ctx context.Context, username, email, password string) (User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	user := User{Username: username, Email: email}
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO users (username, email, password)
        VALUES ($1, $2, $3)
        RETURNING id
    `, username, email, hashed).Scan(&user.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return User{}, ErrDuplicate
		}
		return User{}, unavailable(err)
	}
	return user, nil
}

// AuthenticateUser checks the username/password pair against the stored
// bcrypt hash.
func (s *PgStore) AuthenticateUser(ctx context.Context, username, password string) (User, error) {
	user := User{Username: username}
	var hashed string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password FROM users WHERE username = $1", username).
		Scan(&user.ID, &user.Email, &hashed)
	if err == sql.ErrNoRows {
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
func (s *PgStore) ListUsers(ctx context.Context) ([]User, error) {
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

func insertParticipants(ctx context.Context, tx *sql.Tx, expenseID int64, participants []string) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO expense_participants (expense_id, participant) VALUES ($1, $2)")
	if err != nil {
		return unavailable(err)
	}
	defer stmt.Close()
	for _, p := range participants {
		if _, err := stmt.ExecContext(ctx, expenseID, p); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
