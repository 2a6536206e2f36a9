package game

import (
	"testing"
	"time"

	"shipsbot/internal/config"

	"github.com/shopspring/decimal"
)

func testCurves(t *testing.T) (*Curves, config.Content) {
	t.Helper()
	content, err := config.DefaultContent()
	if err != nil {
		t.Fatalf("default content: %v", err)
	}
	curves, err := NewCurves(content)
	if err != nil {
		t.Fatalf("curves: %v", err)
	}
	return curves, content
}

func TestIncomeRateLevelOne(t *testing.T) {
	c, _ := testCurves(t)
	rate, err := c.IncomeRate(Tier1, 1)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rate.String() != "0.4" {
		t.Fatalf("tier1 level 1 rate = %s, want 0.4", rate)
	}
	got, err := c.Income(Tier1, 1, 5*time.Second)
	if err != nil {
		t.Fatalf("income: %v", err)
	}
	if got.Int64() != 2 {
		t.Fatalf("5s of tier1 = %s, want 2", got)
	}
	whole, carry, err := c.Accrue(Tier1, 1, 1250*time.Millisecond, decimal.Zero)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if whole.Int64() != 0 || carry.String() != "0.5" {
		t.Fatalf("1.25s of tier1 = %s + %s, want 0 + 0.5", whole, carry)
	}
	whole, carry, _ = c.Accrue(Tier1, 1, 1250*time.Millisecond, carry)
	if whole.Int64() != 1 || !carry.IsZero() {
		t.Fatalf("second 1.25s of tier1 = %s + %s, want 1 + 0", whole, carry)
	}
	if _, err := c.IncomeRate(Special1, 1); err == nil {
		t.Fatalf("expected special1 to have no mine")
	}
}

func TestUpgradeCurves(t *testing.T) {
	c, _ := testCurves(t)
	tests := []struct {
		level        int
		tier1, tier2 int64
	}{
		{level: 1, tier1: 922, tier2: 461},
		{level: 2, tier1: 1062, tier2: 531},
		{level: 3, tier1: 1224, tier2: 612},
	}
	for _, tc := range tests {
		cost, err := c.UpgradeCost(Tier1, tc.level)
		if err != nil {
			t.Fatalf("cost level %d: %v", tc.level, err)
		}
		if cost.Get(Tier1).Int64() != tc.tier1 || cost.Get(Tier2).Int64() != tc.tier2 || cost.Get(Tier3).Sign() != 0 {
			t.Fatalf("level %d cost = %s, want tier1=%d tier2=%d", tc.level, cost, tc.tier1, tc.tier2)
		}
	}

	d, err := c.UpgradeDuration(Tier1, 1)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if d != 64946*time.Millisecond {
		t.Fatalf("tier1 level 1 duration = %s", d)
	}
	d3, err := c.UpgradeDuration(Tier3, 1)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if d3 <= d {
		t.Fatalf("tier3 duration factor not applied: %s <= %s", d3, d)
	}
}

func TestCurvesAreDeterministic(t *testing.T) {
	a, _ := testCurves(t)
	b, _ := testCurves(t)
	for _, r := range Mines {
		for level := 1; level <= 40; level++ {
			ca, err := a.UpgradeCost(r, level)
			if err != nil {
				t.Fatalf("cost: %v", err)
			}
			cb, _ := b.UpgradeCost(r, level)
			if !ca.Equal(cb) {
				t.Fatalf("%s level %d: %s != %s", r.Key(), level, ca, cb)
			}
			da, _ := a.UpgradeDuration(r, level)
			db, _ := b.UpgradeDuration(r, level)
			if da != db {
				t.Fatalf("%s level %d duration: %s != %s", r.Key(), level, da, db)
			}
		}
	}
}

func TestStartingState(t *testing.T) {
	c, _ := testCurves(t)
	s := c.Starting()
	if !s.Balances.Equal(BalancesOf(2000, 1000, 200, 0)) {
		t.Fatalf("starting balances = %s", s.Balances)
	}
	if s.Production != (Production{1, 1, 1}) {
		t.Fatalf("starting levels = %v", s.Production)
	}
	s.Balances[Tier1].SetInt64(0)
	if c.Starting().Balances.Get(Tier1).Int64() != 2000 {
		t.Fatalf("Starting leaked shared state")
	}
}

func TestShipCost(t *testing.T) {
	c, _ := testCurves(t)
	cost, perUnit, ok := c.ShipCost(Ship1)
	if !ok || perUnit != 2*time.Minute || !cost.Equal(BalancesOf(2500, 1000, 0, 0)) {
		t.Fatalf("ship1 = %s %s %v", cost, perUnit, ok)
	}
	if _, _, ok := c.ShipCost(Ship4); ok {
		t.Fatalf("ship4 has no cost entry and should not be buildable")
	}
	if got := len(c.Buildable()); got != 4 {
		t.Fatalf("buildable = %d, want 4", got)
	}
}
