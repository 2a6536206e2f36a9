package game_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	mathrand "math/rand"
	"sync"
	"testing"
	"time"

	"shipsbot/internal/config"
	"shipsbot/internal/game"
	"shipsbot/internal/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []game.Notification
	cancelled []game.Handle
}

func (r *recordingScheduler) Schedule(n game.Notification) game.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, n)
	return game.NotificationHandle(n.ID)
}

func (r *recordingScheduler) SchedulePeriodic(p game.PeriodicReminder) (game.Handle, error) {
	return game.PeriodicHandle(p.ID), nil
}

func (r *recordingScheduler) Cancel(h game.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, h)
	return true
}

func (r *recordingScheduler) ValidateSchedule(spec string) error {
	if spec == "" {
		return errors.New("empty schedule")
	}
	return nil
}

type fixture struct {
	svc   *game.Service
	store *memory.Store
	clock *clock
	sched *recordingScheduler
}

func newFixture(t *testing.T, opts ...game.Option) fixture {
	t.Helper()
	content, err := config.DefaultContent()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clk.Now))
	sched := &recordingScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]game.Option{game.WithScheduler(sched), game.WithRandSource(mathrand.NewSource(1))}, opts...)
	svc, err := game.NewService(store, content, logger, opts...)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return fixture{svc: svc, store: store, clock: clk, sched: sched}
}

var alice = game.Origin{PlayerID: "alice", GuildID: "g1", ChannelID: "c1"}

func TestNewPlayerStartsWithDefaults(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.State(context.Background(), "alice")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !st.Balances.Equal(game.BalancesOf(2000, 1000, 200, 0)) {
		t.Fatalf("balances = %s", st.Balances)
	}
	if !st.Fleet.IsZero() || len(st.Inventory) != 0 || st.ActiveRaid != nil {
		t.Fatalf("unexpected starting state %+v", st)
	}
}

func TestQueueUpgradeSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.QueueProductionUpgrade(ctx, alice, game.Tier1)
	if err != nil {
		t.Fatalf("first upgrade: %v", err)
	}
	second, err := f.svc.QueueProductionUpgrade(ctx, alice, game.Tier1)
	if err != nil {
		t.Fatalf("second upgrade: %v", err)
	}
	if !second.StartTime.Equal(first.CompletionTime) {
		t.Fatalf("second starts %s, first ends %s", second.StartTime, first.CompletionTime)
	}
	if first.NewLevel != 2 || second.NewLevel != 3 {
		t.Fatalf("levels = %d, %d", first.NewLevel, second.NewLevel)
	}
	if second.Cost.Get(game.Tier1).Int64() != 1062 {
		t.Fatalf("second cost = %s", second.Cost)
	}
	if len(f.sched.scheduled) != 2 || f.sched.scheduled[0].Payload != "tier1-2" {
		t.Fatalf("scheduled = %+v", f.sched.scheduled)
	}

	st, _ := f.svc.State(ctx, "alice")
	if st.Balances.Get(game.Tier1).Int64() != 2000-922-1062 {
		t.Fatalf("tier1 balance = %s", st.Balances.Get(game.Tier1))
	}
	if len(st.Upgrades) != 2 {
		t.Fatalf("upgrades = %+v", st.Upgrades)
	}

	f.clock.Advance(first.CompletionTime.Sub(f.clock.Now()))
	st, _ = f.svc.State(ctx, "alice")
	if st.Production.Level(game.Tier1) != 2 {
		t.Fatalf("level after first completion = %d", st.Production.Level(game.Tier1))
	}
}

func TestInsufficientFundsLeavesBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before, _ := f.svc.State(ctx, "alice")

	_, err := f.svc.QueueFleetProduction(ctx, alice, game.ShipSpecial1, big.NewInt(1))
	var insufficient *game.InsufficientFundsError
	if !errors.As(err, &insufficient) || !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if len(insufficient.Missing) == 0 {
		t.Fatalf("missing resources not reported")
	}

	after, _ := f.svc.State(ctx, "alice")
	if !after.Balances.Equal(before.Balances) {
		t.Fatalf("balances changed: %s -> %s", before.Balances, after.Balances)
	}
	if len(f.sched.scheduled) != 0 {
		t.Fatalf("notification scheduled for failed build")
	}
}

func TestBuildValidatesCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []int64{0, -3, 1_000_001} {
		if _, err := f.svc.QueueFleetProduction(ctx, alice, game.Ship1, big.NewInt(n)); !errors.Is(err, game.ErrInvalidInput) {
			t.Fatalf("count %d: expected invalid input, got %v", n, err)
		}
	}
	if _, err := f.svc.QueueFleetProduction(ctx, alice, game.Ship4, big.NewInt(1)); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("ship4: expected invalid input, got %v", err)
	}
}

// richFixture gives alice enough resources to build ships.
func richFixture(t *testing.T) fixture {
	t.Helper()
	f := newFixture(t)
	content := f.svc.Content()
	content.Starting.Balances = map[string]int64{"tier1": 1_000_000, "tier2": 1_000_000, "tier3": 1_000_000, "special1": 10_000}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := game.NewService(f.store, content, logger, game.WithScheduler(f.sched), game.WithRandSource(mathrand.NewSource(1)))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	f.svc = svc
	return f
}

func TestFleetBuildsLinearlyAndQueues(t *testing.T) {
	f := richFixture(t)
	ctx := context.Background()

	first, err := f.svc.QueueFleetProduction(ctx, alice, game.Ship1, big.NewInt(10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if first.CompletionTime.Sub(first.StartTime) != 20*time.Minute {
		t.Fatalf("duration = %s", first.CompletionTime.Sub(first.StartTime))
	}
	second, err := f.svc.QueueFleetProduction(ctx, alice, game.Ship2, big.NewInt(1))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !second.StartTime.Equal(first.CompletionTime) {
		t.Fatalf("yards not shared: %s vs %s", second.StartTime, first.CompletionTime)
	}

	f.clock.Advance(9 * time.Minute)
	st, _ := f.svc.State(ctx, "alice")
	if st.Fleet.Get(game.Ship1).Int64() != 4 {
		t.Fatalf("ship1 after 9m = %s", st.Fleet.Get(game.Ship1))
	}
	f.clock.Advance(13 * time.Minute)
	st, _ = f.svc.State(ctx, "alice")
	if st.Fleet.Get(game.Ship1).Int64() != 10 || st.Fleet.Get(game.Ship2).Int64() != 1 {
		t.Fatalf("fleet after 22m = %s", st.Fleet)
	}
}

func TestRaidRequiresFleet(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.DispatchRaid(context.Background(), alice, 1, game.RaidShort); !errors.Is(err, game.ErrEmptyFleet) {
		t.Fatalf("expected empty fleet, got %v", err)
	}
}

func TestRaidLockedLocation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.DispatchRaid(context.Background(), alice, 2, game.RaidShort); !errors.Is(err, game.ErrLocationLocked) {
		t.Fatalf("expected locked location, got %v", err)
	}
	if _, err := f.svc.DispatchRaid(context.Background(), alice, 99, game.RaidShort); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("expected invalid location, got %v", err)
	}
}

func TestRaidLifecycle(t *testing.T) {
	f := richFixture(t)
	ctx := context.Background()

	if _, err := f.svc.QueueFleetProduction(ctx, alice, game.Ship1, big.NewInt(3)); err != nil {
		t.Fatalf("build: %v", err)
	}
	f.clock.Advance(6 * time.Minute)

	res, err := f.svc.DispatchRaid(ctx, alice, 1, game.RaidShort)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Raid.Fleet.Get(game.Ship1).Int64() != 3 {
		t.Fatalf("raid fleet = %s", res.Raid.Fleet)
	}

	st, _ := f.svc.State(ctx, "alice")
	if !st.Fleet.IsZero() {
		t.Fatalf("fleet at home during raid = %s", st.Fleet)
	}
	if st.ActiveRaid == nil || st.ActiveRaid.ID != res.Raid.ID {
		t.Fatalf("active raid = %+v", st.ActiveRaid)
	}

	_, err = f.svc.DispatchRaid(ctx, alice, 1, game.RaidShort)
	var busy *game.RaidInProgressError
	if !errors.As(err, &busy) || busy.RaidID != res.Raid.ID {
		t.Fatalf("expected raid in progress, got %v", err)
	}
	status, _ := f.svc.RaidStatus(ctx, "alice")
	if status.Active == nil || status.Last == nil || status.Last.ID != res.Raid.ID {
		t.Fatalf("status = %+v", status)
	}

	f.clock.Advance(30 * time.Minute)
	st, _ = f.svc.State(ctx, "alice")
	if st.Fleet.Get(game.Ship1).Int64() != 3 || st.ActiveRaid != nil {
		t.Fatalf("after return fleet = %s active = %+v", st.Fleet, st.ActiveRaid)
	}
	if len(st.Inventory) != len(res.Raid.Result.Loot) {
		t.Fatalf("inventory %+v, loot %+v", st.Inventory, res.Raid.Result.Loot)
	}

	var raidNote *game.Notification
	for i := range f.sched.scheduled {
		if f.sched.scheduled[i].Kind == game.NotifyRaidReturn {
			raidNote = &f.sched.scheduled[i]
		}
	}
	if raidNote == nil || !raidNote.FireAt.Equal(res.Raid.Return) {
		t.Fatalf("raid notification = %+v", raidNote)
	}
}

func TestConcurrentRaidsOnlyOneWins(t *testing.T) {
	f := richFixture(t)
	ctx := context.Background()
	if _, err := f.svc.QueueFleetProduction(ctx, alice, game.Ship1, big.NewInt(1)); err != nil {
		t.Fatalf("build: %v", err)
	}
	f.clock.Advance(3 * time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.DispatchRaid(ctx, alice, 1, game.RaidShort)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, game.ErrRaidInProgress):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d raids dispatched, want 1", wins)
	}
}

type stuckStore struct {
	game.Store
	attempts int
}

type stuckTx struct{ game.Tx }

func (stuckTx) AdvanceProductionCheckpoint(context.Context, string, time.Time, game.ProductionCheckpoint) (bool, error) {
	return false, nil
}

func (s *stuckStore) WithPlayerLock(ctx context.Context, playerID string, fn func(ctx context.Context, tx game.Tx) error) error {
	s.attempts++
	return s.Store.WithPlayerLock(ctx, playerID, func(ctx context.Context, tx game.Tx) error {
		return fn(ctx, stuckTx{tx})
	})
}

func TestCheckpointRaceGivesUp(t *testing.T) {
	content, _ := config.DefaultContent()
	store := &stuckStore{Store: memory.NewStore()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := game.NewService(store, content, logger, game.WithMaxRaceRetries(5))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	_, err = svc.QueueProductionUpgrade(context.Background(), alice, game.Tier1)
	if !errors.Is(err, game.ErrContention) {
		t.Fatalf("expected contention, got %v", err)
	}
	if store.attempts != 5 {
		t.Fatalf("attempts = %d, want 5", store.attempts)
	}
}

func TestReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.SetReminder(ctx, alice, 10*time.Minute, "  check the yards  ")
	if err != nil {
		t.Fatalf("set reminder: %v", err)
	}
	if n.Payload != "check the yards" || !n.FireAt.Equal(f.clock.Now().Add(10*time.Minute)) {
		t.Fatalf("reminder = %+v", n)
	}
	if _, err := f.svc.SetReminder(ctx, alice, time.Minute, "   "); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank text, got %v", err)
	}

	list, _ := f.svc.PendingNotifications(ctx, "alice")
	pending := list.Notifications
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	if !list.Now.Equal(f.clock.Now()) {
		t.Fatalf("list read at %s, store clock %s", list.Now, f.clock.Now())
	}
	if err := f.svc.CancelReminder(ctx, "bob", n.ID); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("bob cancelled alice's reminder: %v", err)
	}
	if err := f.svc.CancelReminder(ctx, "alice", n.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.sched.cancelled) != 1 || f.sched.cancelled[0] != game.NotificationHandle(n.ID) {
		t.Fatalf("cancelled handles = %+v", f.sched.cancelled)
	}
	if list, _ := f.svc.PendingNotifications(ctx, "alice"); len(list.Notifications) != 0 {
		t.Fatalf("still pending: %+v", pending)
	}
}

func TestPeriodicReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreatePeriodicReminder(ctx, alice, "stand up", ""); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
	r, err := f.svc.CreatePeriodicReminder(ctx, alice, "stand up", "@hourly")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	list, _ := f.svc.PeriodicReminders(ctx, "alice")
	if len(list) != 1 || list[0].ID != r.ID {
		t.Fatalf("list = %+v", list)
	}
	if err := f.svc.DeletePeriodicReminder(ctx, "bob", r.ID); !errors.Is(err, game.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.svc.DeletePeriodicReminder(ctx, "alice", r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if list, _ := f.svc.PeriodicReminders(ctx, "alice"); len(list) != 0 {
		t.Fatalf("list after delete = %+v", list)
	}
}
