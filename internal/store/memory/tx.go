package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"shipsbot/internal/game"
)

type tx struct {
	store    *Store
	locked   map[string]func()
	order    []string
	players  map[string]*playerData
	notes    map[int64]game.Notification
	added    map[int64]game.PeriodicReminder
	deleted  map[int64]bool
	raids    map[int64]game.Raid
	hooks    []func()
	finished bool
}

func (t *tx) lock(ctx context.Context, playerID string) error {
	if _, ok := t.locked[playerID]; ok {
		return nil
	}
	release, err := t.store.acquire(ctx, playerID)
	if err != nil {
		return err
	}
	t.locked[playerID] = release
	t.order = append(t.order, playerID)

	t.store.mu.Lock()
	t.players[playerID] = t.store.players[playerID].clone()
	t.store.mu.Unlock()
	return nil
}

func (t *tx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		if release := t.locked[t.order[i]]; release != nil {
			release()
		}
	}
	t.locked = map[string]func(){}
	t.order = nil
	t.finished = true
}

func (t *tx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range t.players {
		if p != nil {
			s.players[id] = p
		}
	}
	for id, n := range t.notes {
		s.notifications[id] = n
	}
	for id, r := range t.added {
		s.periodic[id] = r
	}
	for id := range t.deleted {
		delete(s.periodic, id)
	}
	for id, r := range t.raids {
		s.raids[id] = r
	}
	t.finished = true
}

// player returns the working copy of a locked player's rows. It fails for
// players this transaction does not hold.
func (t *tx) player(playerID string) (*playerData, error) {
	if _, ok := t.locked[playerID]; !ok {
		return nil, fmt.Errorf("player %s is not locked in this transaction", playerID)
	}
	p := t.players[playerID]
	if p == nil {
		return nil, fmt.Errorf("player %s: %w", playerID, game.ErrNotFound)
	}
	return p, nil
}

func (t *tx) Now(ctx context.Context) (time.Time, error) {
	return t.store.nowFn(), nil
}

func (t *tx) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *tx) EnsurePlayer(ctx context.Context, playerID string, start game.ProductionState, at time.Time) error {
	if _, ok := t.locked[playerID]; !ok {
		return fmt.Errorf("player %s is not locked in this transaction", playerID)
	}
	if t.players[playerID] != nil {
		return nil
	}
	t.players[playerID] = &playerData{
		production: game.ProductionCheckpoint{
			ProductionState: game.ProductionState{Balances: start.Balances.Clone(), Production: start.Production, Carry: start.Carry},
			Time:            at,
		},
		fleet:     game.FleetCheckpoint{Fleet: game.NewFleet(), Time: at},
		inventory: game.InventoryCheckpoint{Time: at},
	}
	return nil
}

func (t *tx) ProductionCheckpoint(ctx context.Context, playerID string) (game.ProductionCheckpoint, error) {
	p, err := t.player(playerID)
	if err != nil {
		return game.ProductionCheckpoint{}, err
	}
	cp := p.production
	cp.Balances = cp.Balances.Clone()
	return cp, nil
}

func (t *tx) AdvanceProductionCheckpoint(ctx context.Context, playerID string, prev time.Time, next game.ProductionCheckpoint) (bool, error) {
	p, err := t.player(playerID)
	if err != nil {
		return false, err
	}
	if !p.production.Time.Equal(prev) {
		return false, nil
	}
	next.Balances = next.Balances.Clone()
	p.production = next
	return true, nil
}

func (t *tx) ProductionJobs(ctx context.Context, playerID string, after time.Time) ([]game.ProductionJob, error) {
	p, err := t.player(playerID)
	if err != nil {
		return nil, err
	}
	var out []game.ProductionJob
	for _, j := range p.upgradeJobs {
		if j.End.After(after) {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].End.Before(out[j].End) })
	return out, nil
}

func (t *tx) LastProductionJobEnd(ctx context.Context, playerID string, r game.Resource) (time.Time, bool, error) {
	p, err := t.player(playerID)
	if err != nil {
		return time.Time{}, false, err
	}
	var last time.Time
	found := false
	for _, j := range p.upgradeJobs {
		if j.Resource == r && (!found || j.End.After(last)) {
			last, found = j.End, true
		}
	}
	return last, found, nil
}

func (t *tx) InsertProductionJob(ctx context.Context, playerID string, job game.ProductionJob) (int64, error) {
	p, err := t.player(playerID)
	if err != nil {
		return 0, err
	}
	job.ID = t.store.newID()
	p.upgradeJobs = append(p.upgradeJobs, job)
	return job.ID, nil
}

func (t *tx) FleetCheckpoint(ctx context.Context, playerID string) (game.FleetCheckpoint, error) {
	p, err := t.player(playerID)
	if err != nil {
		return game.FleetCheckpoint{}, err
	}
	return game.FleetCheckpoint{Fleet: p.fleet.Fleet.Clone(), Time: p.fleet.Time}, nil
}

func (t *tx) AdvanceFleetCheckpoint(ctx context.Context, playerID string, prev time.Time, next game.FleetCheckpoint) (bool, error) {
	p, err := t.player(playerID)
	if err != nil {
		return false, err
	}
	if !p.fleet.Time.Equal(prev) {
		return false, nil
	}
	p.fleet = game.FleetCheckpoint{Fleet: next.Fleet.Clone(), Time: next.Time}
	return true, nil
}

func (t *tx) FleetJobs(ctx context.Context, playerID string, after time.Time) ([]game.FleetJob, error) {
	p, err := t.player(playerID)
	if err != nil {
		return nil, err
	}
	var out []game.FleetJob
	for _, j := range p.fleetJobs {
		if j.End.After(after) {
			j.Count = new(big.Int).Set(j.Count)
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].End.Before(out[j].End) })
	return out, nil
}

func (t *tx) LastFleetJobEnd(ctx context.Context, playerID string) (time.Time, bool, error) {
	p, err := t.player(playerID)
	if err != nil {
		return time.Time{}, false, err
	}
	var last time.Time
	found := false
	for _, j := range p.fleetJobs {
		if !found || j.End.After(last) {
			last, found = j.End, true
		}
	}
	return last, found, nil
}

func (t *tx) InsertFleetJob(ctx context.Context, playerID string, job game.FleetJob) (int64, error) {
	p, err := t.player(playerID)
	if err != nil {
		return 0, err
	}
	job.ID = t.store.newID()
	job.Count = new(big.Int).Set(job.Count)
	p.fleetJobs = append(p.fleetJobs, job)
	return job.ID, nil
}

func (t *tx) FleetTransactions(ctx context.Context, playerID string, after time.Time) ([]game.FleetTransaction, error) {
	p, err := t.player(playerID)
	if err != nil {
		return nil, err
	}
	var out []game.FleetTransaction
	for _, ft := range p.fleetTxs {
		if ft.ApplyAt.After(after) {
			ft.Delta = ft.Delta.Clone()
			out = append(out, ft)
		}
	}
	return out, nil
}

func (t *tx) InsertFleetTransaction(ctx context.Context, playerID string, ft game.FleetTransaction) (int64, error) {
	p, err := t.player(playerID)
	if err != nil {
		return 0, err
	}
	ft.ID = t.store.newID()
	ft.Delta = ft.Delta.Clone()
	p.fleetTxs = append(p.fleetTxs, ft)
	return ft.ID, nil
}

func (t *tx) InventoryCheckpoint(ctx context.Context, playerID string) (game.InventoryCheckpoint, error) {
	p, err := t.player(playerID)
	if err != nil {
		return game.InventoryCheckpoint{}, err
	}
	return game.InventoryCheckpoint{Items: cloneItems(p.inventory.Items), Time: p.inventory.Time}, nil
}

func (t *tx) AdvanceInventoryCheckpoint(ctx context.Context, playerID string, prev time.Time, next game.InventoryCheckpoint) (bool, error) {
	p, err := t.player(playerID)
	if err != nil {
		return false, err
	}
	if !p.inventory.Time.Equal(prev) {
		return false, nil
	}
	p.inventory = game.InventoryCheckpoint{Items: cloneItems(next.Items), Time: next.Time}
	return true, nil
}

func (t *tx) InventoryTransactions(ctx context.Context, playerID string, after time.Time) ([]game.InventoryTransaction, error) {
	p, err := t.player(playerID)
	if err != nil {
		return nil, err
	}
	var out []game.InventoryTransaction
	for _, it := range p.inventoryTxs {
		if it.ApplyAt.After(after) {
			it.Item = cloneItem(it.Item)
			out = append(out, it)
		}
	}
	return out, nil
}

func (t *tx) InsertInventoryTransaction(ctx context.Context, playerID string, it game.InventoryTransaction) (int64, error) {
	p, err := t.player(playerID)
	if err != nil {
		return 0, err
	}
	it.ID = t.store.newID()
	it.Item = cloneItem(it.Item)
	p.inventoryTxs = append(p.inventoryTxs, it)
	return it.ID, nil
}

func (t *tx) ActiveRaid(ctx context.Context, playerID string, now time.Time) (game.Raid, bool, error) {
	p, err := t.player(playerID)
	if err != nil {
		return game.Raid{}, false, err
	}
	for i := len(p.raids) - 1; i >= 0; i-- {
		if p.raids[i].Return.After(now) {
			return cloneRaid(p.raids[i]), true, nil
		}
	}
	return game.Raid{}, false, nil
}

func (t *tx) LastRaid(ctx context.Context, playerID string) (game.Raid, bool, error) {
	p, err := t.player(playerID)
	if err != nil {
		return game.Raid{}, false, err
	}
	if len(p.raids) == 0 {
		return game.Raid{}, false, nil
	}
	return cloneRaid(p.raids[len(p.raids)-1]), true, nil
}

func (t *tx) InsertRaid(ctx context.Context, raid game.Raid) (int64, error) {
	p, err := t.player(raid.PlayerID)
	if err != nil {
		return 0, err
	}
	raid.ID = t.store.newID()
	raid = cloneRaid(raid)
	p.raids = append(p.raids, raid)
	t.raids[raid.ID] = raid
	return raid.ID, nil
}

func (t *tx) InsertNotification(ctx context.Context, n game.Notification) (int64, error) {
	if _, err := t.player(n.PlayerID); err != nil {
		return 0, err
	}
	n.ID = t.store.newID()
	if n.Status == "" {
		n.Status = game.StatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = t.store.nowFn()
	}
	t.notes[n.ID] = n
	return n.ID, nil
}

// notification reads a notification as this transaction sees it.
func (t *tx) notification(id int64) (game.Notification, bool) {
	if n, ok := t.notes[id]; ok {
		return n, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	n, ok := t.store.notifications[id]
	return n, ok
}

func (t *tx) PendingNotifications(ctx context.Context, playerID string) ([]game.Notification, error) {
	if _, ok := t.locked[playerID]; !ok {
		return nil, fmt.Errorf("player %s is not locked in this transaction", playerID)
	}
	seen := make(map[int64]bool)
	var out []game.Notification
	for id, n := range t.notes {
		seen[id] = true
		if n.PlayerID == playerID && n.Status == game.StatusPending {
			out = append(out, n)
		}
	}
	t.store.mu.Lock()
	for id, n := range t.store.notifications {
		if !seen[id] && n.PlayerID == playerID && n.Status == game.StatusPending {
			out = append(out, n)
		}
	}
	t.store.mu.Unlock()
	sortNotifications(out)
	return out, nil
}

func (t *tx) CancelNotification(ctx context.Context, playerID string, id int64) (bool, error) {
	if _, ok := t.locked[playerID]; !ok {
		return false, fmt.Errorf("player %s is not locked in this transaction", playerID)
	}
	n, ok := t.notification(id)
	if !ok || n.PlayerID != playerID || n.Status != game.StatusPending {
		return false, nil
	}
	n.Status = game.StatusCancelled
	t.notes[id] = n
	return true, nil
}

func (t *tx) InsertPeriodicReminder(ctx context.Context, r game.PeriodicReminder) (int64, error) {
	if _, ok := t.locked[r.PlayerID]; !ok {
		return 0, fmt.Errorf("player %s is not locked in this transaction", r.PlayerID)
	}
	r.ID = t.store.newID()
	t.added[r.ID] = r
	return r.ID, nil
}

func (t *tx) PeriodicReminders(ctx context.Context, playerID string) ([]game.PeriodicReminder, error) {
	if _, ok := t.locked[playerID]; !ok {
		return nil, fmt.Errorf("player %s is not locked in this transaction", playerID)
	}
	var out []game.PeriodicReminder
	t.store.mu.Lock()
	for id, r := range t.store.periodic {
		if r.PlayerID == playerID && !t.deleted[id] {
			out = append(out, r)
		}
	}
	t.store.mu.Unlock()
	for id, r := range t.added {
		if r.PlayerID == playerID && !t.deleted[id] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeletePeriodicReminder(ctx context.Context, playerID string, id int64) error {
	if _, ok := t.locked[playerID]; !ok {
		return fmt.Errorf("player %s is not locked in this transaction", playerID)
	}
	if t.deleted[id] {
		return fmt.Errorf("periodic reminder %d: %w", id, game.ErrNotFound)
	}
	r, ok := t.added[id]
	if !ok {
		t.store.mu.Lock()
		r, ok = t.store.periodic[id]
		t.store.mu.Unlock()
	}
	if !ok {
		return fmt.Errorf("periodic reminder %d: %w", id, game.ErrNotFound)
	}
	if r.PlayerID != playerID {
		return fmt.Errorf("periodic reminder %d: %w", id, game.ErrUnauthorized)
	}
	t.deleted[id] = true
	delete(t.added, id)
	return nil
}
