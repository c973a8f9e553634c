// Package ledger is the heart of the application: it splits expenses among
// participants and folds the full expense history into per-user balances.
//
// All functions here are pure. Balances use pooled netting: every expense is
// split into signed per-participant shares, the shares are summed into global
// totals, and another participant's negative total is read as money they owe
// into the pool against the viewer's position. A true pairwise debt matrix
// would be a different data model; the pooled form matches the API contract.
// Settled expenses still count; the is_settled flag only drives UI filtering.
package ledger

import (
	"errors"
	"sort"
	"time"

	"github.com/xpense-app/xpense/money"
)

// ErrInvalidExpense is returned when an expense violates the split
// preconditions: non-positive amount, no participants, or a creator missing
// from the participant set.
var ErrInvalidExpense = errors.New("invalid expense")

// Category classifies an expense. The set is fixed.
type Category string

// The allowed expense categories.
const (
	CategoryFood           Category = "Food"
	CategoryRent           Category = "Rent"
	CategoryUtilities      Category = "Utilities"
	CategoryTransportation Category = "Transportation"
	CategoryEntertainment  Category = "Entertainment"
	CategoryShopping       Category = "Shopping"
	CategoryOther          Category = "Other"
)

// Categories lists every valid category, in display order.
var Categories = []Category{
	CategoryFood,
	CategoryRent,
	CategoryUtilities,
	CategoryTransportation,
	CategoryEntertainment,
	CategoryShopping,
	CategoryOther,
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// SplitEqual is the only split type the calculator computes. The field is
// persisted so custom splits can be added later without a schema change.
const SplitEqual = "equal"

// Expense is a single expense, paid in full by Creator and shared equally by
// Participants (Creator included).
type Expense struct {
	ID           int64       `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Amount       money.Cents `json:"amount"`
	Category     Category    `json:"category"`
	SplitType    string      `json:"split_type"`
	Creator      string      `json:"creator"`
	Participants []string    `json:"participants"`
	CreatedAt    time.Time   `json:"created_at"`
	IsSettled    bool        `json:"is_settled"`
	BillImageURL string      `json:"bill_image_url,omitempty"`
}

// Validate checks the split preconditions.
func (e *Expense) Validate() error {
	if e.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if len(e.Participants) == 0 {
		return errors.New("no participants")
	}
	creatorIncluded := false
	for _, p := range e.Participants {
		if p == e.Creator {
			creatorIncluded = true
			break
		}
	}
	if !creatorIncluded {
		return errors.New("creator is not a participant")
	}
	return nil
}

// ComputeSplit returns each participant's signed share of the expense in
// cents. The creator is credited the full amount; every participant (creator
// included) is debited amount/n. Remainder cents that don't divide evenly go
// one each to the first participants in lexicographic order, so the shares
// always sum to exactly zero.
func ComputeSplit(e Expense) (map[string]money.Cents, error) {
	if err := e.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidExpense, err)
	}

	ids := make([]string, len(e.Participants))
	copy(ids, e.Participants)
	sort.Strings(ids)

	n := money.Cents(len(ids))
	share := e.Amount / n
	remainder := e.Amount % n

	split := make(map[string]money.Cents, len(ids))
	for i, id := range ids {
		debit := share
		if money.Cents(i) < remainder {
			debit++
		}
		split[id] -= debit
	}
	split[e.Creator] += e.Amount

	return split, nil
}

// Debt is one entry in a balance view: a participant and a positive amount.
type Debt struct {
	User   string      `json:"user"`
	Amount money.Cents `json:"amount"`
}

// BalanceView is a user's aggregate position across the full expense history.
// Positive NetBalance means the pool owes the viewer.
type BalanceView struct {
	OwedToMe   []Debt      `json:"owed_to_me"`
	IOwe       []Debt      `json:"i_owe"`
	NetBalance money.Cents `json:"net_balance"`
}

// ComputeBalances folds the splits of every expense into global
// per-participant totals and derives the viewer's balance view. The fold is
// commutative, so the result does not depend on expense order. An expense
// that fails the split preconditions surfaces as ErrInvalidExpense rather
// than being silently skipped.
func ComputeBalances(expenses []Expense, viewer string) (BalanceView, error) {
	totals := make(map[string]money.Cents)
	for _, e := range expenses {
		split, err := ComputeSplit(e)
		if err != nil {
			return BalanceView{}, err
		}
		for participant, share := range split {
			totals[participant] += share
		}
	}

	others := make([]string, 0, len(totals))
	for participant := range totals {
		if participant != viewer {
			others = append(others, participant)
		}
	}
	sort.Strings(others)

	view := BalanceView{
		OwedToMe:   make([]Debt, 0),
		IOwe:       make([]Debt, 0),
		NetBalance: totals[viewer],
	}
	for _, participant := range others {
		total := totals[participant]
		switch {
		case total < 0:
			view.OwedToMe = append(view.OwedToMe, Debt{User: participant, Amount: total.Abs()})
		case total > 0 && view.NetBalance < 0:
			view.IOwe = append(view.IOwe, Debt{User: participant, Amount: total})
		}
	}

	return view, nil
}
