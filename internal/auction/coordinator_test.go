package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/auction-house/internal/config"
	"github.com/example/auction-house/internal/ledger"
)

func newTestCoordinator(t *testing.T, countdown time.Duration) (*Coordinator, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	c := New(store, config.Default(), countdown)
	t.Cleanup(c.Close)
	return c, store
}

func seedItem(t *testing.T, store *ledger.Memory, item ledger.Item) {
	t.Helper()
	if item.Status == "" {
		item.Status = ledger.StatusOpen
	}
	if err := store.AppendItem(context.Background(), item); err != nil {
		t.Fatalf("seed item %s: %v", item.Name, err)
	}
}

func seedTeam(t *testing.T, store *ledger.Memory, team ledger.Team) {
	t.Helper()
	if err := store.AppendTeam(context.Background(), team); err != nil {
		t.Fatalf("seed team %s: %v", team.Name, err)
	}
}

func TestPlaceBidStrictlyIncreasingPrice(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 100})

	item, err := c.PlaceBid(ctx, "Nova", "Hawks", 15)
	if err != nil {
		t.Fatalf("opening bid: %v", err)
	}
	if item.Price != 15 || item.Leader != "Hawks" || item.Status != ledger.StatusLeading {
		t.Fatalf("leading state = %+v", item)
	}

	var tooLow *BidTooLowError
	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 15); !errors.As(err, &tooLow) {
		t.Fatalf("equal bid err = %v, want BidTooLowError", err)
	}
	if tooLow.Current != 15 {
		t.Fatalf("tooLow.Current = %d", tooLow.Current)
	}
	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 14); !errors.As(err, &tooLow) {
		t.Fatalf("lower bid err = %v", err)
	}
	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 20); err != nil {
		t.Fatalf("raise: %v", err)
	}
	got, _ := store.ReadItem(ctx, "Nova")
	if got.Price != 20 {
		t.Fatalf("price = %d, want 20", got.Price)
	}
}

func TestOpeningFloorPerCategory(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 100})

	for _, tc := range []struct {
		item  string
		cat   string
		floor int
	}{
		{"Orion", "A", 30},
		{"Nova", "B", 15},
		{"Comet", "C", 5},
	} {
		seedItem(t, store, ledger.Item{Name: tc.item, Category: tc.cat})

		var floorErr *BelowFloorError
		_, err := c.PlaceBid(ctx, tc.item, "Hawks", tc.floor-1)
		if !errors.As(err, &floorErr) {
			t.Fatalf("%s: below-floor bid err = %v", tc.item, err)
		}
		if floorErr.Floor != tc.floor {
			t.Fatalf("%s: reported floor = %d, want %d", tc.item, floorErr.Floor, tc.floor)
		}
		if _, err := c.PlaceBid(ctx, tc.item, "Hawks", tc.floor); err != nil {
			t.Fatalf("%s: floor bid rejected: %v", tc.item, err)
		}
	}
}

func TestBidTimeBudgetCheck(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 20})

	var budget *InsufficientBudgetError
	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 25); !errors.As(err, &budget) {
		t.Fatalf("err = %v, want InsufficientBudgetError", err)
	}
	if budget.Need != 25 || budget.Have != 20 {
		t.Fatalf("budget error = %+v", budget)
	}
}

func TestUnknownItemAndTeam(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})

	if _, err := c.PlaceBid(ctx, "ghost", "Hawks", 15); !errors.Is(err, ledger.ErrItemNotFound) {
		t.Fatalf("unknown item err = %v", err)
	}
	if _, err := c.PlaceBid(ctx, "Nova", "Ghosts", 15); !errors.Is(err, ledger.ErrTeamNotFound) {
		t.Fatalf("unknown team err = %v", err)
	}
	if _, err := c.Sell(ctx, "ghost"); !errors.Is(err, ledger.ErrItemNotFound) {
		t.Fatalf("sell unknown item err = %v", err)
	}
}

func TestSoldIsTerminal(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 100})

	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 15); err != nil {
		t.Fatalf("bid: %v", err)
	}
	sale, err := c.Sell(ctx, "Nova")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sale.Price != 15 || sale.Team.Name != "Hawks" || sale.Trigger != TriggerManual {
		t.Fatalf("sale = %+v", sale)
	}
	tm, _ := store.ReadTeam(ctx, "Hawks")
	if tm.Budget != 85 {
		t.Fatalf("budget after sale = %d, want 85", tm.Budget)
	}

	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 50); !errors.Is(err, ErrAlreadySold) {
		t.Fatalf("bid on sold item err = %v", err)
	}
	if _, err := c.Sell(ctx, "Nova"); !errors.Is(err, ErrNoActiveBid) {
		t.Fatalf("re-sell err = %v", err)
	}
	got, _ := store.ReadItem(ctx, "Nova")
	if got.Price != 15 || got.Leader != "Hawks" || got.Status != ledger.StatusSold {
		t.Fatalf("terminal state mutated: %+v", got)
	}
}

func TestSellWithoutBid(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})
	if _, err := c.Sell(context.Background(), "Nova"); !errors.Is(err, ErrNoActiveBid) {
		t.Fatalf("err = %v, want ErrNoActiveBid", err)
	}
}

func TestAutoSellAfterCountdown(t *testing.T) {
	c, store := newTestCoordinator(t, 50*time.Millisecond)
	events := make(chan Event, 4)
	c.OnEvent(func(ev Event) { events <- ev })
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 100})

	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 15); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if !c.timers.Armed("nova") {
		t.Fatal("countdown should be armed after bid")
	}

	select {
	case ev := <-events:
		if ev.Type != EventAutoSold || ev.Item != "Nova" || ev.Team != "Hawks" || ev.Price != 15 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auto-sale never fired")
	}

	item, _ := store.ReadItem(ctx, "Nova")
	if item.Status != ledger.StatusSold {
		t.Fatalf("status = %s, want SOLD", item.Status)
	}
	tm, _ := store.ReadTeam(ctx, "Hawks")
	if tm.Budget != 85 {
		t.Fatalf("budget = %d, want 85", tm.Budget)
	}
	if c.timers.Armed("nova") {
		t.Fatal("countdown should be consumed")
	}
}

func TestManualSellCancelsCountdown(t *testing.T) {
	c, store := newTestCoordinator(t, 80*time.Millisecond)
	events := make(chan Event, 4)
	c.OnEvent(func(ev Event) { events <- ev })
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 100})

	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 15); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := c.Sell(ctx, "Nova"); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if c.timers.Armed("nova") {
		t.Fatal("countdown should be cancelled by manual sale")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected timer event after manual sale: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCategoryCapBlocksFinalize(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Orion", Category: "A"})
	seedTeam(t, store, ledger.Team{Name: "Wolves", Budget: 500, CappedCount: 2})

	// bid-time checks are budget-only, so the bid goes through
	if _, err := c.PlaceBid(ctx, "Orion", "Wolves", 30); err != nil {
		t.Fatalf("bid: %v", err)
	}

	var rv *RuleViolationError
	_, err := c.Sell(ctx, "Orion")
	if !errors.As(err, &rv) {
		t.Fatalf("sell err = %v, want RuleViolationError", err)
	}
	if len(rv.Violations) != 1 || rv.Violations[0].Code != CategoryCapExceeded {
		t.Fatalf("violations = %v", rv.Violations)
	}
	if rv.Stale {
		t.Fatal("manual finalize failure should not be marked stale")
	}

	item, _ := store.ReadItem(ctx, "Orion")
	if item.Status != ledger.StatusLeading || item.Leader != "Wolves" {
		t.Fatalf("blocked award mutated item: %+v", item)
	}
	tm, _ := store.ReadTeam(ctx, "Wolves")
	if tm.Budget != 500 || tm.CappedCount != 2 {
		t.Fatalf("blocked award mutated team: %+v", tm)
	}
	if c.timers.Armed("orion") {
		t.Fatal("blocked award should leave the countdown disarmed")
	}
}

func TestFinalizeReportsAllReasons(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	// an item already leading at a price the team can no longer afford
	seedItem(t, store, ledger.Item{
		Name: "Orion", Category: "A", Price: 50, Leader: "Wolves", Status: ledger.StatusLeading,
	})
	seedTeam(t, store, ledger.Team{Name: "Wolves", Budget: 10, CappedCount: 2})

	var rv *RuleViolationError
	if _, err := c.Sell(ctx, "Orion"); !errors.As(err, &rv) {
		t.Fatalf("err = %v", err)
	}
	if len(rv.Violations) != 2 {
		t.Fatalf("violations = %v, want both reasons", rv.Violations)
	}
}

func TestConcurrentBidsSerialize(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 100})
	seedTeam(t, store, ledger.Team{Name: "Wolves", Budget: 100})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.PlaceBid(ctx, "Nova", "Hawks", 20)
	}()
	go func() {
		defer wg.Done()
		c.PlaceBid(ctx, "Nova", "Wolves", 25)
	}()
	wg.Wait()

	// whichever interleaving won, the 25 from Wolves is the final word
	item, _ := store.ReadItem(ctx, "Nova")
	if item.Price != 25 || item.Leader != "Wolves" {
		t.Fatalf("final state = %+v, want Wolves at 25", item)
	}
}

func TestStaleBudgetBlocksAutoSale(t *testing.T) {
	c, store := newTestCoordinator(t, 150*time.Millisecond)
	events := make(chan Event, 4)
	c.OnEvent(func(ev Event) { events <- ev })
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})
	seedItem(t, store, ledger.Item{Name: "Star", Category: "B"})
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 100})

	// Both bids pass the advisory budget check individually.
	if _, err := c.PlaceBid(ctx, "Nova", "Hawks", 60); err != nil {
		t.Fatalf("bid nova: %v", err)
	}
	if _, err := c.PlaceBid(ctx, "Star", "Hawks", 60); err != nil {
		t.Fatalf("bid star: %v", err)
	}
	// Selling Star drains the shared budget before Nova's countdown fires.
	if _, err := c.Sell(ctx, "Star"); err != nil {
		t.Fatalf("sell star: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventAutoSaleBlocked || ev.Item != "Nova" {
			t.Fatalf("event = %+v, want autoSaleBlocked for Nova", ev)
		}
		if len(ev.Reasons) != 1 || ev.Reasons[0].Code != BudgetExceeded {
			t.Fatalf("reasons = %v", ev.Reasons)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event from the blocked auto-sale")
	}

	item, _ := store.ReadItem(ctx, "Nova")
	if item.Status != ledger.StatusLeading || item.Leader != "Hawks" {
		t.Fatalf("blocked auto-sale mutated item: %+v", item)
	}
	tm, _ := store.ReadTeam(ctx, "Hawks")
	if tm.Budget != 40 {
		t.Fatalf("budget = %d, want 40 (only Star sold)", tm.Budget)
	}
}

func TestReconcileRearmsLeadingItems(t *testing.T) {
	c, store := newTestCoordinator(t, 50*time.Millisecond)
	events := make(chan Event, 4)
	c.OnEvent(func(ev Event) { events <- ev })
	ctx := context.Background()
	seedItem(t, store, ledger.Item{
		Name: "Nova", Category: "B", Price: 15, Leader: "Hawks", Status: ledger.StatusLeading,
	})
	seedItem(t, store, ledger.Item{Name: "Comet", Category: "C"})
	seedTeam(t, store, ledger.Team{Name: "Hawks", Budget: 100})

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !c.timers.Armed("nova") {
		t.Fatal("leading item should be re-armed")
	}
	if c.timers.Armed("comet") {
		t.Fatal("open item should not be armed")
	}

	select {
	case ev := <-events:
		if ev.Type != EventAutoSold || ev.Item != "Nova" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("re-armed countdown never fired")
	}
}

func TestAddItemAndRegisterTeam(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()

	item, err := c.AddItem(ctx, "Nova", "b", 2400)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if item.Category != "B" || item.Status != ledger.StatusOpen {
		t.Fatalf("item = %+v", item)
	}
	if _, err := c.AddItem(ctx, "nova", "B", 1); !errors.Is(err, ledger.ErrItemExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	if _, err := c.AddItem(ctx, "Comet", "D", 1); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("bad category err = %v", err)
	}
	if _, err := c.AddItem(ctx, "  ", "B", 1); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("empty name err = %v", err)
	}

	if _, err := c.RegisterTeam(ctx, "Hawks", 100); err != nil {
		t.Fatalf("register team: %v", err)
	}
	if _, err := c.RegisterTeam(ctx, "Hawks", 100); !errors.Is(err, ledger.ErrTeamExists) {
		t.Fatalf("duplicate team err = %v", err)
	}
	tm, err := store.ReadTeam(ctx, "hawks")
	if err != nil || tm.Budget != 100 {
		t.Fatalf("team = %+v, err %v", tm, err)
	}
}

func TestListItemsValidatesCategory(t *testing.T) {
	c, store := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	seedItem(t, store, ledger.Item{Name: "Nova", Category: "B"})

	if _, err := c.ListItems(ctx, "D"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("err = %v, want ErrUnknownCategory", err)
	}
	items, err := c.ListItems(ctx, "b")
	if err != nil || len(items) != 1 {
		t.Fatalf("items = %v, err %v", items, err)
	}
}
