// Package memory is an in-process implementation of the game store. Player
// locks are per-player semaphores with a bounded wait; a transaction works on
// deep copies of the locked players' rows and swaps them in on commit.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"shipsbot/internal/game"
	"shipsbot/internal/metrics"
)

const DefaultLockTimeout = 10 * time.Second

type playerData struct {
	production   game.ProductionCheckpoint
	fleet        game.FleetCheckpoint
	inventory    game.InventoryCheckpoint
	upgradeJobs  []game.ProductionJob
	fleetJobs    []game.FleetJob
	fleetTxs     []game.FleetTransaction
	inventoryTxs []game.InventoryTransaction
	raids        []game.Raid
}

type Store struct {
	mu            sync.Mutex
	players       map[string]*playerData
	notifications map[int64]game.Notification
	periodic      map[int64]game.PeriodicReminder
	raids         map[int64]game.Raid
	lastID        int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	lockTimeout time.Duration
	nowFn       func() time.Time
	metrics     *metrics.Metrics
	log         *slog.Logger
}

type Option func(*Store)

// WithClock replaces the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		players:       make(map[string]*playerData),
		notifications: make(map[int64]game.Notification),
		periodic:      make(map[int64]game.PeriodicReminder),
		raids:         make(map[int64]game.Raid),
		locks:         make(map[string]chan struct{}),
		lockTimeout:   DefaultLockTimeout,
		nowFn:         func() time.Time { return time.Now().UTC() },
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	return s.lastID
}

func (s *Store) semaphore(playerID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.locks[playerID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[playerID] = sem
	}
	return sem
}

func (s *Store) acquire(ctx context.Context, playerID string) (func(), error) {
	started := time.Now()
	sem := s.semaphore(playerID)
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		s.metrics.LockWait("acquired", time.Since(started))
		return func() { <-sem }, nil
	case <-timer.C:
		s.metrics.LockWait("timeout", time.Since(started))
		return nil, fmt.Errorf("%w: player %s after %s", game.ErrLockTimeout, playerID, s.lockTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type txKey struct{}

// WithPlayerLock implements game.Store.
func (s *Store) WithPlayerLock(ctx context.Context, playerID string, fn func(ctx context.Context, tx game.Tx) error) error {
	if outer, ok := ctx.Value(txKey{}).(*tx); ok && outer.store == s && !outer.finished {
		if err := outer.lock(ctx, playerID); err != nil {
			return err
		}
		return fn(ctx, outer)
	}

	t := &tx{
		store:   s,
		locked:  make(map[string]func()),
		players: make(map[string]*playerData),
		notes:   make(map[int64]game.Notification),
		added:   make(map[int64]game.PeriodicReminder),
		deleted: make(map[int64]bool),
		raids:   make(map[int64]game.Raid),
	}
	defer t.release()
	if err := t.lock(ctx, playerID); err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, t), t); err != nil {
		t.finished = true
		return err
	}
	t.commit()
	t.release()
	for _, hook := range t.hooks {
		hook()
	}
	return nil
}

// Now implements notify.Store.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	return s.nowFn(), nil
}

// PendingNotifications returns every pending notification, soonest first.
func (s *Store) PendingNotifications(ctx context.Context) ([]game.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []game.Notification
	for _, n := range s.notifications {
		if n.Status == game.StatusPending {
			out = append(out, n)
		}
	}
	sortNotifications(out)
	return out, nil
}

// MarkNotification moves a pending notification to status.
func (s *Store) MarkNotification(ctx context.Context, id int64, status game.NotificationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.Status != game.StatusPending {
		return false, nil
	}
	n.Status = status
	s.notifications[id] = n
	return true, nil
}

func (s *Store) PeriodicReminders(ctx context.Context) ([]game.PeriodicReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.PeriodicReminder, 0, len(s.periodic))
	for _, r := range s.periodic {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Raid(ctx context.Context, id int64) (game.Raid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.raids[id]
	if !ok {
		return game.Raid{}, fmt.Errorf("raid %d: %w", id, game.ErrNotFound)
	}
	return cloneRaid(r), nil
}

func (p *playerData) clone() *playerData {
	if p == nil {
		return nil
	}
	out := &playerData{
		production: game.ProductionCheckpoint{
			ProductionState: game.ProductionState{Balances: p.production.Balances.Clone(), Production: p.production.Production, Carry: p.production.Carry},
			Time:            p.production.Time,
		},
		fleet:        game.FleetCheckpoint{Fleet: p.fleet.Fleet.Clone(), Time: p.fleet.Time},
		inventory:    game.InventoryCheckpoint{Items: cloneItems(p.inventory.Items), Time: p.inventory.Time},
		upgradeJobs:  append([]game.ProductionJob(nil), p.upgradeJobs...),
		fleetJobs:    make([]game.FleetJob, len(p.fleetJobs)),
		fleetTxs:     make([]game.FleetTransaction, len(p.fleetTxs)),
		inventoryTxs: make([]game.InventoryTransaction, len(p.inventoryTxs)),
		raids:        make([]game.Raid, len(p.raids)),
	}
	for i, j := range p.fleetJobs {
		j.Count = new(big.Int).Set(j.Count)
		out.fleetJobs[i] = j
	}
	for i, t := range p.fleetTxs {
		t.Delta = t.Delta.Clone()
		out.fleetTxs[i] = t
	}
	for i, t := range p.inventoryTxs {
		t.Item = cloneItem(t.Item)
		out.inventoryTxs[i] = t
	}
	for i, r := range p.raids {
		out.raids[i] = cloneRaid(r)
	}
	return out
}

func cloneItem(it game.Item) game.Item {
	if it.Count != nil {
		it.Count = new(big.Int).Set(it.Count)
	}
	return it
}

func cloneItems(items []game.Item) []game.Item {
	if items == nil {
		return nil
	}
	out := make([]game.Item, len(items))
	for i, it := range items {
		out[i] = cloneItem(it)
	}
	return out
}

func cloneRaid(r game.Raid) game.Raid {
	r.Fleet = r.Fleet.Clone()
	r.Result.Loot = cloneItems(r.Result.Loot)
	if r.Result.FleetDelta != nil {
		r.Result.FleetDelta = &game.FleetDelta{Change: r.Result.FleetDelta.Change.Clone()}
	}
	return r
}

func sortNotifications(ns []game.Notification) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].FireAt.Equal(ns[j].FireAt) {
			return ns[i].ID < ns[j].ID
		}
		return ns[i].FireAt.Before(ns[j].FireAt)
	})
}
