package notify

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"shipsbot/internal/config"
	"shipsbot/internal/game"
)

type fakeStore struct {
	mu       sync.Mutex
	now      time.Time
	notes    map[int64]game.Notification
	periodic []game.PeriodicReminder
	raids    map[int64]game.Raid
}

func (f *fakeStore) Now(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now, nil
}

func (f *fakeStore) PendingNotifications(context.Context) ([]game.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []game.Notification
	for _, n := range f.notes {
		if n.Status == game.StatusPending {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotification(_ context.Context, id int64, status game.NotificationStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok || n.Status != game.StatusPending {
		return false, nil
	}
	n.Status = status
	f.notes[id] = n
	return true, nil
}

func (f *fakeStore) PeriodicReminders(context.Context) ([]game.PeriodicReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]game.PeriodicReminder(nil), f.periodic...), nil
}

func (f *fakeStore) Raid(_ context.Context, id int64) (game.Raid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.raids[id]
	if !ok {
		return r, game.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) status(id int64) game.NotificationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes[id].Status
}

type sent struct {
	channel string
	content string
}

type fakeSender struct {
	gone map[string]bool
	out  chan sent
}

func (f *fakeSender) Reachable(_, channelID string) bool { return !f.gone[channelID] }

func (f *fakeSender) Send(_ context.Context, channelID, content string) error {
	f.out <- sent{channel: channelID, content: content}
	return nil
}

func newTestScheduler(t *testing.T, store *fakeStore, sender *fakeSender, local time.Time) *Scheduler {
	t.Helper()
	content, err := config.DefaultContent()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	start := time.Now()
	clock := func() time.Time { return local.Add(time.Since(start)) }
	s := New(store, sender, content, logger, WithClock(clock))
	t.Cleanup(s.Stop)
	return s
}

func waitSent(t *testing.T, ch <-chan sent) sent {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a message")
		return sent{}
	}
}

func TestStartFiresOverdueAndRendersUpgrade(t *testing.T) {
	storeNow := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{now: storeNow, notes: map[int64]game.Notification{
		1: {ID: 1, PlayerID: "u1", Kind: game.NotifyProductionUpgrade, Payload: "tier1-3", ChannelID: "c1", FireAt: storeNow.Add(-time.Hour), Status: game.StatusPending},
	}}
	sender := &fakeSender{out: make(chan sent, 4)}
	s := newTestScheduler(t, store, sender, storeNow)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m := waitSent(t, sender.out)
	if m.channel != "c1" || m.content != "<@u1>: Your Iron mine upgrade to level 3 is complete!" {
		t.Fatalf("sent %+v", m)
	}
	if got := store.status(1); got != game.StatusFired {
		t.Fatalf("status = %s", got)
	}
}

func TestScheduleAppliesClockOffset(t *testing.T) {
	storeNow := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{now: storeNow, notes: map[int64]game.Notification{}}
	sender := &fakeSender{out: make(chan sent, 4)}
	// The local clock runs an hour ahead of the store.
	s := newTestScheduler(t, store, sender, storeNow.Add(time.Hour))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	n := game.Notification{ID: 7, PlayerID: "u1", Kind: game.NotifyReminder, Payload: "stretch", ChannelID: "c1", FireAt: storeNow.Add(150 * time.Millisecond), Status: game.StatusPending}
	store.mu.Lock()
	store.notes[7] = n
	store.mu.Unlock()

	started := time.Now()
	s.Schedule(n)
	m := waitSent(t, sender.out)
	if elapsed := time.Since(started); elapsed < 100*time.Millisecond {
		t.Fatalf("fired after %s, offset ignored", elapsed)
	}
	if m.content != "<@u1>: Reminder: stretch" {
		t.Fatalf("content = %q", m.content)
	}
}

func TestCancelStopsTimer(t *testing.T) {
	storeNow := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	n := game.Notification{ID: 3, PlayerID: "u1", Kind: game.NotifyReminder, Payload: "x", ChannelID: "c1", FireAt: storeNow.Add(100 * time.Millisecond), Status: game.StatusPending}
	store := &fakeStore{now: storeNow, notes: map[int64]game.Notification{3: n}}
	sender := &fakeSender{out: make(chan sent, 4)}
	s := newTestScheduler(t, store, sender, storeNow)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.Cancel(game.NotificationHandle(3)) {
		t.Fatalf("cancel reported no timer")
	}
	select {
	case m := <-sender.out:
		t.Fatalf("cancelled notification sent: %+v", m)
	case <-time.After(300 * time.Millisecond):
	}
	if s.Cancel(game.NotificationHandle(3)) {
		t.Fatalf("second cancel reported a timer")
	}
}

func TestUnreachableChannelDrops(t *testing.T) {
	storeNow := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{now: storeNow, notes: map[int64]game.Notification{
		5: {ID: 5, PlayerID: "u1", Kind: game.NotifyReminder, Payload: "x", ChannelID: "gone", FireAt: storeNow, Status: game.StatusPending},
	}}
	sender := &fakeSender{gone: map[string]bool{"gone": true}, out: make(chan sent, 4)}
	s := newTestScheduler(t, store, sender, storeNow)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for store.status(5) == game.StatusPending {
		if time.Now().After(deadline) {
			t.Fatalf("notification never resolved")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := store.status(5); got != game.StatusDropped {
		t.Fatalf("status = %s", got)
	}
}

func TestRaidReturnRendersLoot(t *testing.T) {
	content, _ := config.DefaultContent()
	raid := game.Raid{
		ID: 11, Duration: game.RaidShort, LocationID: 1,
		Result: game.RaidResult{Loot: []game.Item{
			{ItemID: 5000, Tier: 3, Count: big.NewInt(1200)},
			{ItemID: 6000, Count: big.NewInt(1)},
		}},
	}
	got := RenderRaidReturn(content, "u1", raid)
	for _, want := range []string{"Asteroid Belt", "1,200x Salvage (Rare)", "1x Ancient Relic"} {
		if !strings.Contains(got, want) {
			t.Fatalf("%q missing %q", got, want)
		}
	}
	empty := RenderRaidReturn(content, "u1", game.Raid{Duration: game.RaidLong, LocationID: 1})
	if !strings.Contains(empty, "nothing") {
		t.Fatalf("empty raid = %q", empty)
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, spec := range []string{"0 9 * * 1-5", "*/30 * * * * *", "@daily"} {
		if err := ValidateSchedule(spec); err != nil {
			t.Fatalf("%q: %v", spec, err)
		}
	}
	for _, spec := range []string{"", "every day", "61 * * * *"} {
		if err := ValidateSchedule(spec); err == nil {
			t.Fatalf("%q accepted", spec)
		}
	}
}

func TestSyncRemovesDeletedPeriodic(t *testing.T) {
	storeNow := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{now: storeNow, notes: map[int64]game.Notification{}, periodic: []game.PeriodicReminder{
		{ID: 1, PlayerID: "u1", ChannelID: "c1", Payload: "water", Schedule: "@hourly"},
	}}
	sender := &fakeSender{out: make(chan sent, 4)}
	s := newTestScheduler(t, store, sender, storeNow)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.hasPeriodic(1) {
		t.Fatalf("periodic reminder not scheduled")
	}
	store.mu.Lock()
	store.periodic = nil
	store.mu.Unlock()
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if s.hasPeriodic(1) {
		t.Fatalf("deleted reminder still scheduled")
	}
}

func TestDeferredValidatesOnly(t *testing.T) {
	var d Deferred
	if err := d.ValidateSchedule("nonsense"); err == nil {
		t.Fatalf("bad schedule accepted")
	}
	if h, err := d.SchedulePeriodic(game.PeriodicReminder{ID: 4, Schedule: "@hourly"}); err != nil || h != game.PeriodicHandle(4) {
		t.Fatalf("SchedulePeriodic = %+v, %v", h, err)
	}
	if d.Cancel(game.NotificationHandle(1)) {
		t.Fatalf("cancel reported a timer")
	}
}
