package game

import (
	mathrand "math/rand"
	"testing"
	"time"

	"shipsbot/internal/config"
)

func TestRaidMultiplier(t *testing.T) {
	_, content := testCurves(t)
	tests := []struct {
		d    RaidDuration
		want float64
	}{
		{d: RaidShort, want: 1},
		{d: RaidMedium, want: 0.7 * 4},
		{d: RaidLong, want: 0.5 * 16},
	}
	for _, tc := range tests {
		got := RaidMultiplier(content, tc.d)
		if got < tc.want-1e-9 || got > tc.want+1e-9 {
			t.Fatalf("%s multiplier = %f, want %f", tc.d, got, tc.want)
		}
	}
}

func TestRollLootGroupsStacks(t *testing.T) {
	_, content := testCurves(t)
	table := config.LootTable{
		Rolls: 50,
		Slots: []config.LootSlot{
			{Weight: 1, ItemID: 6000, MinCount: 1, MaxCount: 1},
		},
	}
	items := RollLoot(mathrand.New(mathrand.NewSource(1)), content, table, 1)
	if len(items) != 1 || items[0].ItemID != 6000 || items[0].Count.Int64() != 50 || items[0].Tier != 0 {
		t.Fatalf("items = %+v", items)
	}
}

func TestRollLootEmptyWeightOnly(t *testing.T) {
	_, content := testCurves(t)
	table := config.LootTable{Rolls: 100, EmptyWeight: 10}
	if items := RollLoot(mathrand.New(mathrand.NewSource(7)), content, table, 3); len(items) != 0 {
		t.Fatalf("expected no loot, got %+v", items)
	}
}

func TestRollLootTiers(t *testing.T) {
	_, content := testCurves(t)
	table := config.LootTable{
		Rolls: 10,
		Slots: []config.LootSlot{
			{Weight: 1, ItemID: 5000, MinCount: 5, MaxCount: 5, TierWeights: []int{0, 0, 1}},
		},
	}
	items := RollLoot(mathrand.New(mathrand.NewSource(3)), content, table, 1)
	if len(items) != 1 || items[0].Tier != 3 || items[0].Count.Int64() != 50 {
		t.Fatalf("items = %+v", items)
	}

	// Tiered item without weights lands in tier 1.
	table.Slots[0].TierWeights = nil
	items = RollLoot(mathrand.New(mathrand.NewSource(3)), content, table, 1)
	if len(items) != 1 || items[0].Tier != 1 {
		t.Fatalf("items = %+v", items)
	}
}

func TestRollLootReproducible(t *testing.T) {
	_, content := testCurves(t)
	loc, _ := content.RaidLocation(1)
	a := RollLoot(mathrand.New(mathrand.NewSource(42)), content, loc.Loot, RaidMultiplier(content, RaidLong))
	b := RollLoot(mathrand.New(mathrand.NewSource(42)), content, loc.Loot, RaidMultiplier(content, RaidLong))
	if len(a) != len(b) {
		t.Fatalf("different stack counts %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].key() != b[i].key() || a[i].Count.Cmp(b[i].Count) != 0 {
			t.Fatalf("stack %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRaidRemaining(t *testing.T) {
	r := Raid{Return: epoch.Add(time.Minute)}
	if RaidRemaining(r, epoch) != time.Minute || RaidRemaining(r, epoch.Add(time.Hour)) != 0 {
		t.Fatalf("remaining wrong")
	}
}
