package ledger

import (
	"context"
	"errors"
	"strings"
)

type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusLeading Status = "LEADING"
	StatusSold    Status = "SOLD"
)

// Item is one catalog entry. Name is unique case-insensitively. Price and
// Leader are immutable once Status is SOLD.
type Item struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Rating   int    `json:"rating"`
	Price    int    `json:"price"`
	Leader   string `json:"leader,omitempty"`
	Status   Status `json:"status"`
}

type Team struct {
	Name        string `json:"name"`
	Budget      int    `json:"budget"`
	CappedCount int    `json:"cappedCount"`
}

var (
	ErrItemNotFound = errors.New("item not found")
	ErrTeamNotFound = errors.New("team not found")
	ErrItemExists   = errors.New("item already exists")
	ErrTeamExists   = errors.New("team already exists")
)

// Store is the durable record of items and teams. Implementations guarantee
// single-row reads and writes only; callers must not assume cross-row
// transactions.
type Store interface {
	ReadItem(ctx context.Context, name string) (Item, error)
	ReadTeam(ctx context.Context, name string) (Team, error)
	WriteItem(ctx context.Context, item Item) error
	WriteTeam(ctx context.Context, team Team) error
	AppendItem(ctx context.Context, item Item) error
	AppendTeam(ctx context.Context, team Team) error
	ListItems(ctx context.Context, category string) ([]Item, error)
	ListTeams(ctx context.Context) ([]Team, error)
	Close() error
}

// Key normalizes a name for case-insensitive lookups.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
