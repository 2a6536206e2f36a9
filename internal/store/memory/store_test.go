package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shipsbot/internal/game"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func start() game.ProductionState {
	return game.ProductionState{Balances: game.BalancesOf(100, 0, 0, 0), Production: game.Production{1, 1, 1}}
}

func TestLockSerializesReadThenWrite(t *testing.T) {
	s := NewStore(WithClock(func() time.Time { return t0 }))
	ctx := context.Background()

	entered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	var seenByB bool
	go func() {
		defer wg.Done()
		err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
			if err := tx.EnsurePlayer(ctx, "p1", start(), t0); err != nil {
				return err
			}
			if _, ok, err := tx.ActiveRaid(ctx, "p1", t0); err != nil || ok {
				t.Errorf("A: unexpected raid ok=%v err=%v", ok, err)
			}
			close(entered)
			time.Sleep(50 * time.Millisecond)
			_, err := tx.InsertRaid(ctx, game.Raid{PlayerID: "p1", Duration: game.RaidShort, LocationID: 1, Departure: t0, Return: t0.Add(time.Hour), Fleet: game.NewFleet()})
			return err
		})
		if err != nil {
			t.Errorf("A: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-entered
		err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
			_, ok, err := tx.ActiveRaid(ctx, "p1", t0)
			seenByB = ok
			return err
		})
		if err != nil {
			t.Errorf("B: %v", err)
		}
	}()
	wg.Wait()
	if !seenByB {
		t.Fatalf("second transaction did not observe the first one's raid")
	}
}

func TestNestedLockReusesTransaction(t *testing.T) {
	s := NewStore(WithClock(func() time.Time { return t0 }), WithLockTimeout(100*time.Millisecond))
	ctx := context.Background()

	var inner int64
	err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		if err := tx.EnsurePlayer(ctx, "p1", start(), t0); err != nil {
			return err
		}
		return s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
			id, err := tx.InsertNotification(ctx, game.Notification{PlayerID: "p1", Kind: game.NotifyReminder, Payload: "hi", FireAt: t0})
			inner = id
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested lock: %v", err)
	}
	pending, _ := s.PendingNotifications(ctx)
	if len(pending) != 1 || pending[0].ID != inner {
		t.Fatalf("expected inner notification %d committed, got %+v", inner, pending)
	}
}

func TestNestedLockCoversSecondPlayer(t *testing.T) {
	s := NewStore(WithClock(func() time.Time { return t0 }))
	ctx := context.Background()
	err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		return s.WithPlayerLock(ctx, "p2", func(ctx context.Context, tx game.Tx) error {
			if err := tx.EnsurePlayer(ctx, "p1", start(), t0); err != nil {
				return err
			}
			return tx.EnsurePlayer(ctx, "p2", start(), t0)
		})
	})
	if err != nil {
		t.Fatalf("multi-player lock: %v", err)
	}
}

func TestLockTimeout(t *testing.T) {
	s := NewStore(WithLockTimeout(30 * time.Millisecond))
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error { return nil })
	close(done)
	if !errors.Is(err, game.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestUnlockedPlayerIsRejected(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		_, err := tx.ProductionCheckpoint(ctx, "p2")
		return err
	})
	if err == nil {
		t.Fatalf("expected an error reading an unlocked player")
	}
}

func TestErrorRollsBack(t *testing.T) {
	s := NewStore(WithClock(func() time.Time { return t0 }))
	ctx := context.Background()
	boom := errors.New("boom")

	if err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		return tx.EnsurePlayer(ctx, "p1", start(), t0)
	}); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	hookRan := false
	err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		tx.OnCommit(func() { hookRan = true })
		next := game.ProductionCheckpoint{ProductionState: game.ProductionState{Balances: game.BalancesOf(1, 0, 0, 0), Production: game.Production{1, 1, 1}}, Time: t0.Add(time.Second)}
		if ok, err := tx.AdvanceProductionCheckpoint(ctx, "p1", t0, next); err != nil || !ok {
			t.Fatalf("advance ok=%v err=%v", ok, err)
		}
		if _, err := tx.InsertNotification(ctx, game.Notification{PlayerID: "p1", Kind: game.NotifyReminder, Payload: "x", FireAt: t0}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if hookRan {
		t.Fatalf("commit hook ran after rollback")
	}

	_ = s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		cp, err := tx.ProductionCheckpoint(ctx, "p1")
		if err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		if !cp.Time.Equal(t0) || cp.Balances.Get(game.Tier1).Int64() != 100 {
			t.Fatalf("rolled back checkpoint leaked: %+v", cp)
		}
		return nil
	})
	if pending, _ := s.PendingNotifications(ctx); len(pending) != 0 {
		t.Fatalf("rolled back notification leaked: %+v", pending)
	}
}

func TestAdvanceCheckpointComparesTime(t *testing.T) {
	s := NewStore(WithClock(func() time.Time { return t0 }))
	ctx := context.Background()
	err := s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		if err := tx.EnsurePlayer(ctx, "p1", start(), t0); err != nil {
			return err
		}
		next := game.FleetCheckpoint{Fleet: game.NewFleet(), Time: t0.Add(time.Minute)}
		ok, err := tx.AdvanceFleetCheckpoint(ctx, "p1", t0.Add(-time.Second), next)
		if err != nil || ok {
			t.Fatalf("stale advance ok=%v err=%v", ok, err)
		}
		ok, err = tx.AdvanceFleetCheckpoint(ctx, "p1", t0, next)
		if err != nil || !ok {
			t.Fatalf("advance ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestPeriodicReminderOwnership(t *testing.T) {
	s := NewStore(WithClock(func() time.Time { return t0 }))
	ctx := context.Background()
	var id int64
	_ = s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		var err error
		id, err = tx.InsertPeriodicReminder(ctx, game.PeriodicReminder{PlayerID: "p1", Payload: "drink water", Schedule: "@hourly"})
		return err
	})

	err := s.WithPlayerLock(ctx, "p2", func(ctx context.Context, tx game.Tx) error {
		return tx.DeletePeriodicReminder(ctx, "p2", id)
	})
	if !errors.Is(err, game.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	err = s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		return tx.DeletePeriodicReminder(ctx, "p1", id+100)
	})
	if !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	err = s.WithPlayerLock(ctx, "p1", func(ctx context.Context, tx game.Tx) error {
		return tx.DeletePeriodicReminder(ctx, "p1", id)
	})
	if err != nil {
		t.Fatalf("delete own reminder: %v", err)
	}
	if all, _ := s.PeriodicReminders(ctx); len(all) != 0 {
		t.Fatalf("reminder not deleted: %+v", all)
	}
}
