package auction

import (
	"testing"

	"github.com/example/auction-house/internal/config"
	"github.com/example/auction-house/internal/ledger"
)

func TestEvaluateAdmissible(t *testing.T) {
	item := ledger.Item{Name: "Nova", Category: "B", Price: 15}
	team := ledger.Team{Name: "Hawks", Budget: 100}
	if vs := Evaluate(item, team, config.Category{Name: "B", Floor: 15}); len(vs) != 0 {
		t.Fatalf("expected no violations, got %v", vs)
	}
}

func TestEvaluateBudgetExceeded(t *testing.T) {
	item := ledger.Item{Name: "Nova", Category: "B", Price: 50}
	team := ledger.Team{Name: "Hawks", Budget: 40}
	vs := Evaluate(item, team, config.Category{Name: "B", Floor: 15})
	if len(vs) != 1 || vs[0].Code != BudgetExceeded {
		t.Fatalf("violations = %v, want one BudgetExceeded", vs)
	}
}

func TestEvaluateCategoryCapExceeded(t *testing.T) {
	item := ledger.Item{Name: "Orion", Category: "A", Price: 30}
	team := ledger.Team{Name: "Wolves", Budget: 500, CappedCount: 2}
	vs := Evaluate(item, team, config.Category{Name: "A", Floor: 30, Cap: 2})
	if len(vs) != 1 || vs[0].Code != CategoryCapExceeded {
		t.Fatalf("violations = %v, want one CategoryCapExceeded", vs)
	}
}

func TestEvaluateReportsAllReasons(t *testing.T) {
	item := ledger.Item{Name: "Orion", Category: "A", Price: 50}
	team := ledger.Team{Name: "Wolves", Budget: 10, CappedCount: 2}
	vs := Evaluate(item, team, config.Category{Name: "A", Floor: 30, Cap: 2})
	if len(vs) != 2 {
		t.Fatalf("violations = %v, want both reasons", vs)
	}
	codes := map[string]bool{}
	for _, v := range vs {
		codes[v.Code] = true
	}
	if !codes[BudgetExceeded] || !codes[CategoryCapExceeded] {
		t.Fatalf("codes = %v", codes)
	}
}

func TestEvaluateUncappedCategoryIgnoresCount(t *testing.T) {
	item := ledger.Item{Name: "Nova", Category: "B", Price: 15}
	team := ledger.Team{Name: "Hawks", Budget: 100, CappedCount: 5}
	if vs := Evaluate(item, team, config.Category{Name: "B", Floor: 15}); len(vs) != 0 {
		t.Fatalf("uncapped category should ignore count, got %v", vs)
	}
}
