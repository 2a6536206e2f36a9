// Package notify arms in-process timers for persisted notifications and
// delivers them through a Sender once due. Rows are the source of truth: the
// scheduler can be rebuilt from the store at any time.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shipsbot/internal/config"
	"shipsbot/internal/game"
	"shipsbot/internal/metrics"

	"github.com/robfig/cron/v3"
)

// Store is the slice of the game store the scheduler reads and updates.
type Store interface {
	Now(ctx context.Context) (time.Time, error)
	PendingNotifications(ctx context.Context) ([]game.Notification, error)
	MarkNotification(ctx context.Context, id int64, status game.NotificationStatus) (bool, error)
	PeriodicReminders(ctx context.Context) ([]game.PeriodicReminder, error)
	Raid(ctx context.Context, id int64) (game.Raid, error)
}

// Sender delivers rendered messages to a chat channel.
type Sender interface {
	// Reachable reports whether the bot can still post in the channel.
	Reachable(guildID, channelID string) bool
	Send(ctx context.Context, channelID, content string) error
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a cron expression without scheduling anything.
// Five or six fields are accepted, as are descriptors like @hourly.
func ValidateSchedule(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

type Scheduler struct {
	store   Store
	sender  Sender
	content config.Content
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	baseCtx  context.Context
	offset   time.Duration
	timers   map[int64]*time.Timer
	periodic map[int64]cron.EntryID
	cron     *cron.Cron
}

type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces the local clock used to compute timer delays.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(store Store, sender Sender, content config.Content, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:    store,
		sender:   sender,
		content:  content,
		log:      logger,
		now:      time.Now,
		baseCtx:  context.Background(),
		timers:   make(map[int64]*time.Timer),
		periodic: make(map[int64]cron.EntryID),
		cron:     cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DiscardLogger))),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start measures the offset between the local and store clocks, arms a timer
// for every pending notification (overdue ones fire right away) and every
// periodic reminder, then starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("notification scheduler started", "timers", s.armed(), "offset", s.clockOffset().String())
	return nil
}

// Stop disarms every timer and waits for running periodic jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.metrics.TimersArmed(0)
}

// Sync re-reads the store and arms anything not armed yet. Periodic reminders
// deleted elsewhere are unscheduled. Rows written by other processes become
// live here.
func (s *Scheduler) Sync(ctx context.Context) error {
	storeNow, err := s.store.Now(ctx)
	if err != nil {
		return fmt.Errorf("read store clock: %w", err)
	}
	s.mu.Lock()
	s.offset = s.now().Sub(storeNow)
	s.mu.Unlock()

	pending, err := s.store.PendingNotifications(ctx)
	if err != nil {
		return fmt.Errorf("load pending notifications: %w", err)
	}
	for _, n := range pending {
		if !s.isArmed(n.ID) {
			s.Schedule(n)
		}
	}

	reminders, err := s.store.PeriodicReminders(ctx)
	if err != nil {
		return fmt.Errorf("load periodic reminders: %w", err)
	}
	live := make(map[int64]bool, len(reminders))
	for _, r := range reminders {
		live[r.ID] = true
		if s.hasPeriodic(r.ID) {
			continue
		}
		if _, err := s.SchedulePeriodic(r); err != nil {
			s.log.Warn("skipping periodic reminder with bad schedule", "reminder_id", r.ID, "schedule", r.Schedule, "err", err)
		}
	}
	s.mu.Lock()
	for id, entry := range s.periodic {
		if !live[id] {
			s.cron.Remove(entry)
			delete(s.periodic, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// Schedule implements game.Scheduler. The timer fires at FireAt shifted by
// the clock offset; a notification already due fires immediately.
func (s *Scheduler) Schedule(n game.Notification) game.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := n.FireAt.Add(s.offset).Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	if old, ok := s.timers[n.ID]; ok {
		old.Stop()
	}
	s.timers[n.ID] = time.AfterFunc(delay, func() { s.fire(n) })
	s.metrics.TimersArmed(len(s.timers))
	s.log.Debug("notification armed", "notification_id", n.ID, "kind", string(n.Kind), "delay", delay.String())
	return game.NotificationHandle(n.ID)
}

func (s *Scheduler) SchedulePeriodic(r game.PeriodicReminder) (game.Handle, error) {
	schedule, err := cronParser.Parse(r.Schedule)
	if err != nil {
		return game.Handle{}, fmt.Errorf("parse schedule %q: %w", r.Schedule, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.periodic[r.ID]; ok {
		s.cron.Remove(old)
	}
	s.periodic[r.ID] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.firePeriodic(r) }))
	return game.PeriodicHandle(r.ID), nil
}

// Cancel implements game.Scheduler. It reports whether a live timer or job
// was removed.
func (s *Scheduler) Cancel(h game.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.Periodic {
		entry, ok := s.periodic[h.ID]
		if ok {
			s.cron.Remove(entry)
			delete(s.periodic, h.ID)
		}
		return ok
	}
	t, ok := s.timers[h.ID]
	if !ok {
		return false
	}
	delete(s.timers, h.ID)
	s.metrics.TimersArmed(len(s.timers))
	return t.Stop()
}

func (s *Scheduler) ValidateSchedule(spec string) error {
	return ValidateSchedule(spec)
}

func (s *Scheduler) fire(n game.Notification) {
	ctx := s.context()
	defer s.disarm(n.ID)

	if !s.sender.Reachable(n.GuildID, n.ChannelID) {
		s.log.Warn("notification channel unreachable, dropping", "notification_id", n.ID, "guild_id", n.GuildID, "channel_id", n.ChannelID)
		s.mark(ctx, n, game.StatusDropped)
		return
	}
	msg, err := s.render(ctx, n)
	if err != nil {
		s.log.Error("render notification", "notification_id", n.ID, "kind", string(n.Kind), "err", err)
		s.mark(ctx, n, game.StatusDropped)
		return
	}
	// Claim the row first so a cancelled or already fired row is not sent.
	if !s.mark(ctx, n, game.StatusFired) {
		return
	}
	if err := s.sender.Send(ctx, n.ChannelID, msg); err != nil {
		s.log.Error("send notification", "notification_id", n.ID, "channel_id", n.ChannelID, "err", err)
		s.metrics.NotificationDone(string(n.Kind), "send_failed")
	}
}

func (s *Scheduler) mark(ctx context.Context, n game.Notification, status game.NotificationStatus) bool {
	ok, err := s.store.MarkNotification(ctx, n.ID, status)
	if err != nil {
		s.log.Error("mark notification", "notification_id", n.ID, "status", string(status), "err", err)
		return false
	}
	if !ok {
		s.log.Debug("notification no longer pending", "notification_id", n.ID)
		return false
	}
	s.metrics.NotificationDone(string(n.Kind), string(status))
	return true
}

func (s *Scheduler) firePeriodic(r game.PeriodicReminder) {
	ctx := s.context()
	if !s.sender.Reachable(r.GuildID, r.ChannelID) {
		s.log.Warn("periodic reminder channel unreachable", "reminder_id", r.ID, "channel_id", r.ChannelID)
		s.metrics.NotificationDone(string(game.NotifyReminder), "dropped")
		return
	}
	if err := s.sender.Send(ctx, r.ChannelID, renderPeriodic(r)); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error("send periodic reminder", "reminder_id", r.ID, "err", err)
		}
		s.metrics.NotificationDone(string(game.NotifyReminder), "send_failed")
		return
	}
	s.metrics.NotificationDone(string(game.NotifyReminder), "periodic")
}

func (s *Scheduler) disarm(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, id)
	s.metrics.TimersArmed(len(s.timers))
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Scheduler) clockOffset() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *Scheduler) isArmed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Scheduler) hasPeriodic(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.periodic[id]
	return ok
}

func (s *Scheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Deferred validates schedules but arms nothing. Processes that cannot
// deliver messages use it; the bot arms the persisted rows on its next Sync.
type Deferred struct{}

func (Deferred) Schedule(n game.Notification) game.Handle { return game.NotificationHandle(n.ID) }

func (Deferred) SchedulePeriodic(r game.PeriodicReminder) (game.Handle, error) {
	if err := ValidateSchedule(r.Schedule); err != nil {
		return game.Handle{}, err
	}
	return game.PeriodicHandle(r.ID), nil
}

func (Deferred) Cancel(game.Handle) bool { return false }

func (Deferred) ValidateSchedule(spec string) error { return ValidateSchedule(spec) }
