package game

import (
	"math"
	"math/big"
	mathrand "math/rand"

	"shipsbot/internal/config"
)

// RaidMultiplier scales loot rolls by raid length. Longer raids roll more in
// total but less per unit of time.
func RaidMultiplier(content config.Content, d RaidDuration) float64 {
	short, ok := content.Raids.Durations[string(RaidShort)]
	if !ok || short.Length <= 0 {
		return 1
	}
	cfg, ok := content.Raids.Durations[string(d)]
	if !ok {
		return 1
	}
	return cfg.Efficiency * float64(cfg.Length) / float64(short.Length)
}

// RollLoot samples table ceil(rolls*multiplier) times with replacement. A
// roll below the empty weight yields nothing. Results are grouped by item,
// tier and metadata.
func RollLoot(rng *mathrand.Rand, content config.Content, table config.LootTable, multiplier float64) []Item {
	total := table.EmptyWeight
	for _, slot := range table.Slots {
		total += slot.Weight
	}
	rolls := int(math.Ceil(float64(table.Rolls) * multiplier))
	if total <= 0 || rolls <= 0 {
		return nil
	}

	stacks := make(map[itemKey]*big.Int)
	add := func(k itemKey, n int64) {
		if n <= 0 {
			return
		}
		cur, ok := stacks[k]
		if !ok {
			cur = new(big.Int)
			stacks[k] = cur
		}
		cur.Add(cur, big.NewInt(n))
	}

	for i := 0; i < rolls; i++ {
		roll := rng.Intn(total)
		if roll < table.EmptyWeight {
			continue
		}
		roll -= table.EmptyWeight
		var slot config.LootSlot
		for _, candidate := range table.Slots {
			if roll < candidate.Weight {
				slot = candidate
				break
			}
			roll -= candidate.Weight
		}

		count := slot.MinCount
		if span := slot.MaxCount - slot.MinCount; span > 0 {
			count += rng.Int63n(span + 1)
		}
		def, _ := content.Item(slot.ItemID)
		switch {
		case len(slot.TierWeights) > 0:
			for u := int64(0); u < count; u++ {
				tier := rollTier(rng, slot.TierWeights)
				add(itemKey{id: slot.ItemID, tier: tier, metadata: slot.Metadata}, 1)
			}
		case def.Tiered:
			add(itemKey{id: slot.ItemID, tier: 1, metadata: slot.Metadata}, count)
		default:
			add(itemKey{id: slot.ItemID, metadata: slot.Metadata}, count)
		}
	}

	items := make([]Item, 0, len(stacks))
	for k, n := range stacks {
		items = append(items, Item{ItemID: k.id, Tier: k.tier, MetadataKey: k.metadata, Count: n})
	}
	sortItems(items)
	return items
}

// rollTier picks a 1-based tier from weights where index 0 is tier 1.
func rollTier(rng *mathrand.Rand, weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 1
	}
	roll := rng.Intn(total)
	for i, w := range weights {
		if roll < w {
			return i + 1
		}
		roll -= w
	}
	return len(weights)
}
