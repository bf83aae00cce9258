package auction

import (
	"fmt"

	"github.com/example/auction-house/internal/config"
	"github.com/example/auction-house/internal/ledger"
)

// Evaluate decides whether awarding item to team is admissible against the
// team's current budget and capped-category count. Checks are independent and
// every failing one is reported, so callers can show all blocking reasons at
// once. Pure: no state is touched.
func Evaluate(item ledger.Item, team ledger.Team, cat config.Category) []Violation {
	var out []Violation
	if item.Price > team.Budget {
		out = append(out, Violation{
			Code: BudgetExceeded,
			Detail: fmt.Sprintf("%s needs %dM to buy %s but has %dM left",
				team.Name, item.Price, item.Name, team.Budget),
		})
	}
	if cat.Cap > 0 && team.CappedCount >= cat.Cap {
		out = append(out, Violation{
			Code: CategoryCapExceeded,
			Detail: fmt.Sprintf("%s already owns %d category-%s item(s)",
				team.Name, team.CappedCount, cat.Name),
		})
	}
	return out
}
