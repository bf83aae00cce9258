package auction

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/example/auction-house/internal/config"
	"github.com/example/auction-house/internal/ledger"
)

// Trigger identifies what initiated a finalize attempt.
type Trigger string

const (
	TriggerManual      Trigger = "manual"
	TriggerAutoTimeout Trigger = "auto"
)

// Sale is the finalized outcome of an award.
type Sale struct {
	Item    ledger.Item
	Team    ledger.Team
	Price   int
	Trigger Trigger
}

type EventType string

const (
	EventAutoSold        EventType = "autoSold"
	EventAutoSaleBlocked EventType = "autoSaleBlocked"
)

// Event reports a timer-driven outcome to whoever subscribed via OnEvent;
// there is no caller to hand the result back to when a countdown fires.
type Event struct {
	Type    EventType
	Item    string
	Team    string
	Price   int
	Reasons []Violation
}

type Notifier func(Event)

// Coordinator is the facade the command layer calls. It serializes every
// mutation of one item through a keyed critical section shared by bids,
// manual sales and timer fires, re-reads team state from the ledger inside
// that section, and runs the binding rule check immediately before each
// award write. Bid-time checks are advisory only.
type Coordinator struct {
	store     ledger.Store
	cfg       config.Config
	timers    *TimerRegistry
	countdown time.Duration
	notify    Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store ledger.Store, cfg config.Config, countdown time.Duration) *Coordinator {
	return &Coordinator{
		store:     store,
		cfg:       cfg,
		timers:    NewTimerRegistry(),
		countdown: countdown,
		notify:    func(Event) {},
		locks:     make(map[string]*sync.Mutex),
	}
}

// OnEvent registers the sink for timer-driven outcomes. Call it before any
// bid is placed.
func (c *Coordinator) OnEvent(fn Notifier) {
	if fn != nil {
		c.notify = fn
	}
}

// lockFor returns the mutex guarding all mutations of one item. Entries are
// created lazily and never removed, so the bid, manual-sale and timer-fire
// paths always serialize on the same lock. Locks for different items never
// block each other.
func (c *Coordinator) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// PlaceBid records team as the new leader of item at amount and restarts the
// item's countdown. The budget check here is item-local and advisory; the
// binding rule check runs again inside finalize.
func (c *Coordinator) PlaceBid(ctx context.Context, itemName, teamName string, amount int) (ledger.Item, error) {
	if amount <= 0 {
		return ledger.Item{}, ErrInvalidAmount
	}
	key := ledger.Key(itemName)
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	item, err := c.store.ReadItem(ctx, itemName)
	if err != nil {
		return ledger.Item{}, err
	}
	if item.Status == ledger.StatusSold {
		return ledger.Item{}, ErrAlreadySold
	}
	team, err := c.store.ReadTeam(ctx, teamName)
	if err != nil {
		return ledger.Item{}, err
	}
	cat, ok := c.cfg.Category(item.Category)
	if !ok {
		return ledger.Item{}, ErrUnknownCategory
	}

	if item.Price == 0 && amount < cat.Floor {
		return ledger.Item{}, &BelowFloorError{Category: cat.Name, Floor: cat.Floor}
	}
	if item.Price > 0 && amount <= item.Price {
		return ledger.Item{}, &BidTooLowError{Current: item.Price}
	}
	if amount > team.Budget {
		return ledger.Item{}, &InsufficientBudgetError{Item: item.Name, Need: amount, Have: team.Budget}
	}

	item.Price = amount
	item.Leader = team.Name
	item.Status = ledger.StatusLeading
	c.timers.Arm(key, c.countdown, c.autoFinalize)
	if err := c.store.WriteItem(ctx, item); err != nil {
		return ledger.Item{}, &PersistenceError{Op: "write item", Err: err}
	}
	return item, nil
}

// Sell finalizes the current leading bid on item immediately.
func (c *Coordinator) Sell(ctx context.Context, itemName string) (Sale, error) {
	key := ledger.Key(itemName)
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()
	return c.finalizeLocked(ctx, itemName, TriggerManual)
}

// finalizeLocked performs the award. The caller must hold the item's lock.
// State is re-read from the ledger so a budget or capped-count change made by
// an award on a different item since bid time is seen here.
func (c *Coordinator) finalizeLocked(ctx context.Context, itemName string, trigger Trigger) (Sale, error) {
	key := ledger.Key(itemName)
	item, err := c.store.ReadItem(ctx, itemName)
	if err != nil {
		return Sale{}, err
	}
	if item.Status == ledger.StatusSold {
		return Sale{}, ErrNoActiveBid
	}
	if item.Leader == "" {
		return Sale{}, ErrNoActiveBid
	}
	team, err := c.store.ReadTeam(ctx, item.Leader)
	if err != nil {
		return Sale{}, err
	}
	cat, ok := c.cfg.Category(item.Category)
	if !ok {
		return Sale{}, ErrUnknownCategory
	}

	if vs := Evaluate(item, team, cat); len(vs) > 0 {
		// Blocked awards leave the item LEADING with no countdown; it takes
		// a higher bid or an operator decision to move it again.
		c.timers.Cancel(key)
		return Sale{}, &RuleViolationError{
			Item:       item.Name,
			Team:       team.Name,
			Stale:      trigger == TriggerAutoTimeout,
			Violations: vs,
		}
	}

	item.Status = ledger.StatusSold
	if err := c.store.WriteItem(ctx, item); err != nil {
		return Sale{}, &PersistenceError{Op: "write item", Err: err}
	}
	team.Budget -= item.Price
	if cat.Cap > 0 {
		team.CappedCount++
	}
	if err := c.store.WriteTeam(ctx, team); err != nil {
		return Sale{}, &PersistenceError{Op: "write team", Err: err}
	}
	c.timers.Cancel(key)
	return Sale{Item: item, Team: team, Price: item.Price, Trigger: trigger}, nil
}

// autoFinalize runs on the timer goroutine when an item's countdown elapses
// with no new bid. The countdown is already consumed; a blocked sale is not
// rearmed.
func (c *Coordinator) autoFinalize(key string) {
	ctx := context.Background()
	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	sale, err := c.finalizeLocked(ctx, key, TriggerAutoTimeout)
	if err != nil {
		var rv *RuleViolationError
		if errors.As(err, &rv) {
			log.Printf("auto-sale of %s to %s blocked: %v", rv.Item, rv.Team, err)
			c.notify(Event{Type: EventAutoSaleBlocked, Item: rv.Item, Team: rv.Team, Reasons: rv.Violations})
			return
		}
		if errors.Is(err, ErrNoActiveBid) || errors.Is(err, ledger.ErrItemNotFound) {
			// Sold or removed while the fire was in flight; nothing to do.
			return
		}
		log.Printf("auto-sale of %s failed: %v", key, err)
		return
	}
	log.Printf("auto-sold %s to %s for %dM", sale.Item.Name, sale.Team.Name, sale.Price)
	c.notify(Event{Type: EventAutoSold, Item: sale.Item.Name, Team: sale.Team.Name, Price: sale.Price})
}

// GetLeader returns the item's current bid state.
func (c *Coordinator) GetLeader(ctx context.Context, itemName string) (ledger.Item, error) {
	return c.store.ReadItem(ctx, itemName)
}

// GetBudget returns the team's remaining budget and capped-category usage.
func (c *Coordinator) GetBudget(ctx context.Context, teamName string) (ledger.Team, error) {
	return c.store.ReadTeam(ctx, teamName)
}

// ListItems returns the catalog, optionally restricted to one category.
func (c *Coordinator) ListItems(ctx context.Context, category string) ([]ledger.Item, error) {
	if category != "" {
		cat, ok := c.cfg.Category(category)
		if !ok {
			return nil, ErrUnknownCategory
		}
		category = cat.Name
	}
	return c.store.ListItems(ctx, category)
}

func (c *Coordinator) ListTeams(ctx context.Context) ([]ledger.Team, error) {
	return c.store.ListTeams(ctx)
}

// AddItem grows the catalog. Callers must not race a bid against an item that
// is not yet visible; the command layer only announces the item after this
// returns.
func (c *Coordinator) AddItem(ctx context.Context, name, category string, rating int) (ledger.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Item{}, ErrEmptyName
	}
	if rating < 0 {
		return ledger.Item{}, ErrInvalidRating
	}
	cat, ok := c.cfg.Category(category)
	if !ok {
		return ledger.Item{}, ErrUnknownCategory
	}
	item := ledger.Item{Name: name, Category: cat.Name, Rating: rating, Status: ledger.StatusOpen}
	if err := c.store.AppendItem(ctx, item); err != nil {
		return ledger.Item{}, err
	}
	return item, nil
}

// RegisterTeam seeds a team with its starting budget.
func (c *Coordinator) RegisterTeam(ctx context.Context, name string, budget int) (ledger.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Team{}, ErrEmptyName
	}
	if budget < 0 {
		return ledger.Team{}, ErrInvalidAmount
	}
	team := ledger.Team{Name: name, Budget: budget}
	if err := c.store.AppendTeam(ctx, team); err != nil {
		return ledger.Team{}, err
	}
	return team, nil
}

// CappedCategory returns the one category with a per-team acquisition cap.
func (c *Coordinator) CappedCategory() config.Category {
	for _, cat := range c.cfg.Categories {
		if cat.Cap > 0 {
			return cat
		}
	}
	return config.Category{}
}

// Reconcile re-arms a fresh countdown for every item a previous run left
// LEADING. Deadlines are not persisted, so each survivor gets the full
// countdown again instead of being parked for manual resolution.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	items, err := c.store.ListItems(ctx, "")
	if err != nil {
		return err
	}
	n := 0
	for _, it := range items {
		if it.Status == ledger.StatusLeading {
			c.timers.Arm(ledger.Key(it.Name), c.countdown, c.autoFinalize)
			n++
		}
	}
	if n > 0 {
		log.Printf("re-armed countdowns for %d leading item(s)", n)
	}
	return nil
}

// Close cancels every outstanding countdown.
func (c *Coordinator) Close() {
	c.timers.Drain()
}
