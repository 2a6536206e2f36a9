package game

import (
	"math/big"
	"sort"
	"time"
)

// ProjectProduction replays finished upgrade jobs on top of a checkpoint and
// returns the balances and levels as of now. Income is accrued piecewise: each
// segment between fold points earns at the levels active during it. Only whole
// units reach Balances; the rest stays in Carry.
//
// jobs must all end after the checkpoint. Anything that would produce a
// negative segment is reported as ErrInvariant.
func ProjectProduction(curves *Curves, now time.Time, cp ProductionCheckpoint, jobs []ProductionJob) (ProductionState, error) {
	state := ProductionState{Balances: cp.Balances.Clone(), Production: cp.Production, Carry: cp.Carry}
	if now.Before(cp.Time) {
		return state, invariantf("projection time %s is before checkpoint %s", now.Format(time.RFC3339Nano), cp.Time.Format(time.RFC3339Nano))
	}

	sorted := sortedProductionJobs(jobs)
	cursor := cp.Time
	for _, job := range sorted {
		if !job.End.After(cp.Time) {
			return state, invariantf("production job %d ended at %s, not after checkpoint %s", job.ID, job.End.Format(time.RFC3339Nano), cp.Time.Format(time.RFC3339Nano))
		}
		if job.End.After(now) {
			break
		}
		income, carry, err := curves.IncomeFor(state.Production, job.End.Sub(cursor), state.Carry)
		if err != nil {
			return state, err
		}
		state.Balances = state.Balances.Add(income)
		state.Carry = carry
		state.Production[job.Resource]++
		cursor = job.End
	}

	income, carry, err := curves.IncomeFor(state.Production, now.Sub(cursor), state.Carry)
	if err != nil {
		return state, err
	}
	state.Balances = state.Balances.Add(income)
	state.Carry = carry
	return state, nil
}

func sortedProductionJobs(jobs []ProductionJob) []ProductionJob {
	out := make([]ProductionJob, len(jobs))
	copy(out, jobs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].End.Equal(out[j].End) {
			return out[i].ID < out[j].ID
		}
		return out[i].End.Before(out[j].End)
	})
	return out
}

// PendingUpgrades counts the jobs for r that have not finished at now.
func PendingUpgrades(now time.Time, jobs []ProductionJob, r Resource) int {
	n := 0
	for _, j := range jobs {
		if j.Resource == r && j.End.After(now) {
			n++
		}
	}
	return n
}

// ShipsCompleted is how many ships of job are done at t. Ships finish
// linearly, so a job of 10 ships over 10s has 4 done after 4.5s.
func ShipsCompleted(job FleetJob, t time.Time) *big.Int {
	count := job.Count
	if count == nil {
		count = new(big.Int)
	}
	if !t.Before(job.End) {
		return new(big.Int).Set(count)
	}
	if !t.After(job.Start) {
		return new(big.Int)
	}
	elapsed := big.NewInt(int64(t.Sub(job.Start)))
	total := big.NewInt(int64(job.End.Sub(job.Start)))
	done := new(big.Int).Mul(elapsed, count)
	done.Quo(done, total)
	if done.Cmp(count) > 0 {
		done.Set(count)
	}
	return done
}

// ProjectFleet returns the fleet as of now. Construction progress between the
// checkpoint and now is added, then fleet transactions with
// checkpoint < ApplyAt <= now. Negative counts are clamped to zero and the
// affected ships returned so the caller can report them.
func ProjectFleet(now time.Time, cp FleetCheckpoint, jobs []FleetJob, txs []FleetTransaction) (Fleet, []Ship, error) {
	fleet := cp.Fleet.Clone()
	if now.Before(cp.Time) {
		return fleet, nil, invariantf("fleet projection time %s is before checkpoint %s", now.Format(time.RFC3339Nano), cp.Time.Format(time.RFC3339Nano))
	}
	for _, job := range jobs {
		if job.End.Before(job.Start) {
			return fleet, nil, invariantf("fleet job %d ends before it starts", job.ID)
		}
		gained := new(big.Int).Sub(ShipsCompleted(job, now), ShipsCompleted(job, cp.Time))
		fleet[job.Ship].Add(fleet[job.Ship], gained)
	}
	for _, tx := range sortedFleetTransactions(txs) {
		if !tx.ApplyAt.After(cp.Time) || tx.ApplyAt.After(now) {
			continue
		}
		fleet = fleet.Add(tx.Delta)
	}
	fleet, clamped := fleet.ClampNegative()
	return fleet, clamped, nil
}

func sortedFleetTransactions(txs []FleetTransaction) []FleetTransaction {
	out := make([]FleetTransaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ApplyAt.Before(out[j].ApplyAt) })
	return out
}

// ProjectInventory merges applied inventory transactions into the
// checkpointed items. Stacks are keyed by (item, tier, metadata); empty
// stacks are dropped and negative ones are clamped and returned.
func ProjectInventory(now time.Time, cp InventoryCheckpoint, txs []InventoryTransaction) ([]Item, []Item, error) {
	if now.Before(cp.Time) {
		return nil, nil, invariantf("inventory projection time %s is before checkpoint %s", now.Format(time.RFC3339Nano), cp.Time.Format(time.RFC3339Nano))
	}
	stacks := make(map[itemKey]*big.Int, len(cp.Items))
	add := func(it Item) {
		if it.Count == nil {
			return
		}
		k := it.key()
		cur, ok := stacks[k]
		if !ok {
			cur = new(big.Int)
			stacks[k] = cur
		}
		cur.Add(cur, it.Count)
	}
	for _, it := range cp.Items {
		add(it)
	}
	for _, tx := range txs {
		if !tx.ApplyAt.After(cp.Time) || tx.ApplyAt.After(now) {
			continue
		}
		add(tx.Item)
	}

	var items, clamped []Item
	for k, count := range stacks {
		switch count.Sign() {
		case 0:
			continue
		case -1:
			clamped = append(clamped, Item{ItemID: k.id, Tier: k.tier, MetadataKey: k.metadata, Count: count})
			continue
		}
		items = append(items, Item{ItemID: k.id, Tier: k.tier, MetadataKey: k.metadata, Count: count})
	}
	sortItems(items)
	sortItems(clamped)
	return items, clamped, nil
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.MetadataKey < b.MetadataKey
	})
}

// HasItem reports whether items contains at least one unit of id, any tier.
func HasItem(items []Item, id int) bool {
	for _, it := range items {
		if it.ItemID == id && it.Count != nil && it.Count.Sign() > 0 {
			return true
		}
	}
	return false
}
