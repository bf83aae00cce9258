package auction

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAmount   = errors.New("amount must be a positive whole number")
	ErrInvalidRating   = errors.New("rating must be a non-negative whole number")
	ErrEmptyName       = errors.New("name is required")
	ErrUnknownCategory = errors.New("unknown category")
	ErrAlreadySold     = errors.New("item already sold")
	ErrNoActiveBid     = errors.New("no active bid")
)

// BidTooLowError rejects a bid that does not beat the current price.
type BidTooLowError struct {
	Current int
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid must beat %dM", e.Current)
}

// BelowFloorError rejects an opening bid under the category minimum.
type BelowFloorError struct {
	Category string
	Floor    int
}

func (e *BelowFloorError) Error() string {
	return fmt.Sprintf("opening bid for category %s must be at least %dM", e.Category, e.Floor)
}

// InsufficientBudgetError rejects a bid the team could not pay for right now.
type InsufficientBudgetError struct {
	Item string
	Need int
	Have int
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("you need %dM to bid on %s, you currently have %dM", e.Need, e.Item, e.Have)
}

// Violation codes reported by the rule engine.
const (
	BudgetExceeded      = "BudgetExceeded"
	CategoryCapExceeded = "CategoryCapExceeded"
)

type Violation struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// RuleViolationError blocks an award and carries every applicable reason, not
// just the first. Stale marks a finalize-time failure on a bid that was
// admissible when it was placed.
type RuleViolationError struct {
	Item       string
	Team       string
	Stale      bool
	Violations []Violation
}

func (e *RuleViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Detail
	}
	return fmt.Sprintf("%s cannot complete the purchase of %s: %s",
		e.Team, e.Item, strings.Join(parts, "; "))
}

// PersistenceError surfaces a ledger write failure. The operation's in-memory
// outcome stands until reconciled.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
