package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"shipsbot/internal/config"
	"shipsbot/internal/metrics"
)

// errCheckpointMoved is returned from inside a locked operation when a
// compare-and-set checkpoint update matched no row. The operation is
// restarted from its first read.
var errCheckpointMoved = errors.New("checkpoint moved")

const (
	DefaultMaxRaceRetries = 5
	defaultRetryDelay     = 25 * time.Millisecond
	maxRetryDelay         = 400 * time.Millisecond
)

type Service struct {
	store   Store
	content config.Content
	curves  *Curves
	sched   Scheduler
	combat  CombatResolver
	metrics *metrics.Metrics
	log     *slog.Logger

	maxRaceRetries int
	retryDelay     time.Duration

	mu   sync.Mutex
	rand *mathrand.Rand
}

type Option func(*Service)

// WithScheduler arms timers for notifications after each commit. Without it
// notifications are only persisted.
func WithScheduler(sched Scheduler) Option {
	return func(s *Service) {
		if sched != nil {
			s.sched = sched
		}
	}
}

func WithCombat(c CombatResolver) Option {
	return func(s *Service) {
		if c != nil {
			s.combat = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithMaxRaceRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRaceRetries = n
		}
	}
}

// WithRandSource makes loot rolls reproducible.
func WithRandSource(src mathrand.Source) Option {
	return func(s *Service) { s.rand = mathrand.New(src) }
}

func NewService(store Store, content config.Content, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	curves, err := NewCurves(content)
	if err != nil {
		return nil, fmt.Errorf("build curves: %w", err)
	}
	s := &Service{
		store:          store,
		content:        content,
		curves:         curves,
		sched:          nopScheduler{},
		combat:         NoCombat{},
		log:            logger,
		maxRaceRetries: DefaultMaxRaceRetries,
		retryDelay:     defaultRetryDelay,
		rand:           mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Content() config.Content { return s.content }

func (s *Service) Curves() *Curves { return s.curves }

// mutate runs fn under the player's lock and restarts it when a checkpoint
// moved underneath it, up to maxRaceRetries attempts.
func (s *Service) mutate(ctx context.Context, op, playerID string, fn func(ctx context.Context, tx Tx) error) error {
	retryDelay := s.retryDelay
	for attempt := 1; attempt <= s.maxRaceRetries; attempt++ {
		err := s.store.WithPlayerLock(ctx, playerID, fn)
		if !errors.Is(err, errCheckpointMoved) {
			return err
		}
		s.metrics.RaceRetry(op)
		s.log.Warn("checkpoint moved, retrying", "op", op, "player_id", playerID, "attempt", attempt, "max_attempts", s.maxRaceRetries)
		if attempt == s.maxRaceRetries {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	s.log.Error("giving up after repeated checkpoint races", "op", op, "player_id", playerID)
	return ErrContention
}

// read runs fn under the player's lock without race retries.
func (s *Service) read(ctx context.Context, playerID string, fn func(ctx context.Context, tx Tx) error) error {
	return s.store.WithPlayerLock(ctx, playerID, fn)
}

// nowTx reads the store clock and makes sure the player has checkpoints.
func (s *Service) nowTx(ctx context.Context, tx Tx, playerID string) (time.Time, error) {
	now, err := tx.Now(ctx)
	if err != nil {
		return now, fmt.Errorf("read store clock: %w", err)
	}
	if err := tx.EnsurePlayer(ctx, playerID, s.curves.Starting(), now); err != nil {
		return now, fmt.Errorf("ensure player: %w", err)
	}
	return now, nil
}

type productionView struct {
	cp   ProductionCheckpoint
	jobs []ProductionJob
	live ProductionState
}

func (s *Service) productionTx(ctx context.Context, tx Tx, playerID string, now time.Time) (productionView, error) {
	var pv productionView
	cp, err := tx.ProductionCheckpoint(ctx, playerID)
	if err != nil {
		return pv, fmt.Errorf("load production checkpoint: %w", err)
	}
	jobs, err := tx.ProductionJobs(ctx, playerID, cp.Time)
	if err != nil {
		return pv, fmt.Errorf("load production jobs: %w", err)
	}
	live, err := ProjectProduction(s.curves, now, cp, jobs)
	if err != nil {
		return pv, err
	}
	return productionView{cp: cp, jobs: jobs, live: live}, nil
}

// debitTx rolls the production checkpoint forward to now with cost removed.
func (s *Service) debitTx(ctx context.Context, tx Tx, playerID string, pv productionView, cost Balances, now time.Time) (Balances, error) {
	next := ProductionCheckpoint{
		ProductionState: ProductionState{Balances: pv.live.Balances.Sub(cost), Production: pv.live.Production, Carry: pv.live.Carry},
		Time:            now,
	}
	if neg := next.Balances.Negative(); len(neg) > 0 {
		return Balances{}, invariantf("balances %s negative after debit of %s", next.Balances, cost)
	}
	ok, err := tx.AdvanceProductionCheckpoint(ctx, playerID, pv.cp.Time, next)
	if err != nil {
		return Balances{}, fmt.Errorf("advance production checkpoint: %w", err)
	}
	if !ok {
		return Balances{}, errCheckpointMoved
	}
	return next.Balances, nil
}

type fleetView struct {
	cp   FleetCheckpoint
	jobs []FleetJob
	txs  []FleetTransaction
	live Fleet
}

func (s *Service) fleetTx(ctx context.Context, tx Tx, playerID string, now time.Time) (fleetView, error) {
	var fv fleetView
	cp, err := tx.FleetCheckpoint(ctx, playerID)
	if err != nil {
		return fv, fmt.Errorf("load fleet checkpoint: %w", err)
	}
	jobs, err := tx.FleetJobs(ctx, playerID, cp.Time)
	if err != nil {
		return fv, fmt.Errorf("load fleet jobs: %w", err)
	}
	txs, err := tx.FleetTransactions(ctx, playerID, cp.Time)
	if err != nil {
		return fv, fmt.Errorf("load fleet transactions: %w", err)
	}
	live, clamped, err := ProjectFleet(now, cp, jobs, txs)
	if err != nil {
		return fv, err
	}
	if len(clamped) > 0 {
		s.log.Warn("fleet projection went negative, clamped to zero", "player_id", playerID, "ships", clampedShipKeys(clamped))
	}
	return fleetView{cp: cp, jobs: jobs, txs: txs, live: live}, nil
}

type inventoryView struct {
	cp   InventoryCheckpoint
	live []Item
}

func (s *Service) inventoryTx(ctx context.Context, tx Tx, playerID string, now time.Time) (inventoryView, error) {
	var iv inventoryView
	cp, err := tx.InventoryCheckpoint(ctx, playerID)
	if err != nil {
		return iv, fmt.Errorf("load inventory checkpoint: %w", err)
	}
	txs, err := tx.InventoryTransactions(ctx, playerID, cp.Time)
	if err != nil {
		return iv, fmt.Errorf("load inventory transactions: %w", err)
	}
	live, clamped, err := ProjectInventory(now, cp, txs)
	if err != nil {
		return iv, err
	}
	if len(clamped) > 0 {
		s.log.Warn("inventory stacks went negative, clamped to zero", "player_id", playerID, "stacks", len(clamped))
	}
	return inventoryView{cp: cp, live: live}, nil
}

// notifyTx persists n and arms its timer once the transaction commits.
func (s *Service) notifyTx(ctx context.Context, tx Tx, n Notification) (Notification, error) {
	n.Status = StatusPending
	id, err := tx.InsertNotification(ctx, n)
	if err != nil {
		return n, fmt.Errorf("insert notification: %w", err)
	}
	n.ID = id
	tx.OnCommit(func() { s.sched.Schedule(n) })
	return n, nil
}

// State computes the live state of a player.
func (s *Service) State(ctx context.Context, playerID string) (PlayerState, error) {
	out := PlayerState{PlayerID: playerID}
	err := s.read(ctx, playerID, func(ctx context.Context, tx Tx) error {
		now, err := s.nowTx(ctx, tx, playerID)
		if err != nil {
			return err
		}
		pv, err := s.productionTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		fv, err := s.fleetTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		iv, err := s.inventoryTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		raid, active, err := tx.ActiveRaid(ctx, playerID, now)
		if err != nil {
			return fmt.Errorf("load active raid: %w", err)
		}

		out.Now = now
		out.Balances = pv.live.Balances
		out.Production = pv.live.Production
		out.Fleet = fv.live
		out.Inventory = iv.live
		for _, j := range sortedProductionJobs(pv.jobs) {
			if j.End.After(now) {
				out.Upgrades = append(out.Upgrades, j)
			}
		}
		for _, j := range fv.jobs {
			if j.End.After(now) {
				out.Builds = append(out.Builds, j)
			}
		}
		if active {
			out.ActiveRaid = &raid
		}
		for _, r := range Mines {
			rate, err := s.curves.IncomeRate(r, pv.live.Production.Level(r))
			if err != nil {
				return err
			}
			out.IncomePerSec[r] = rate.String()
		}
		return nil
	})
	return out, err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clampedShipKeys(ships []Ship) []string {
	out := make([]string, 0, len(ships))
	for _, s := range ships {
		out = append(out, s.Key())
	}
	return out
}
