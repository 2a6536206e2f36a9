package game

import (
	"context"
	"time"
)

// Store persists player state. Every read and write of a player's rows goes
// through WithPlayerLock.
type Store interface {
	// WithPlayerLock runs fn inside a transaction holding playerID's lock.
	// fn's error rolls the transaction back and is returned unchanged. When
	// ctx already carries a transaction of this store, fn runs on it (taking
	// playerID's lock too if it is not held yet) and the outermost call
	// commits.
	WithPlayerLock(ctx context.Context, playerID string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a transaction holding one or more player locks. Methods touching a
// player that is not locked in this transaction fail.
type Tx interface {
	// Now reads the store clock.
	Now(ctx context.Context) (time.Time, error)
	// OnCommit registers fn to run after a successful commit of the
	// outermost transaction.
	OnCommit(fn func())

	// EnsurePlayer creates the checkpoints of a new player at the given time.
	// It is a no-op for existing players.
	EnsurePlayer(ctx context.Context, playerID string, start ProductionState, at time.Time) error

	ProductionCheckpoint(ctx context.Context, playerID string) (ProductionCheckpoint, error)
	// AdvanceProductionCheckpoint replaces the checkpoint only if its time is
	// still prev. It reports whether a row was updated.
	AdvanceProductionCheckpoint(ctx context.Context, playerID string, prev time.Time, next ProductionCheckpoint) (bool, error)
	// ProductionJobs lists jobs ending after the given time, by end time.
	ProductionJobs(ctx context.Context, playerID string, after time.Time) ([]ProductionJob, error)
	LastProductionJobEnd(ctx context.Context, playerID string, r Resource) (time.Time, bool, error)
	InsertProductionJob(ctx context.Context, playerID string, job ProductionJob) (int64, error)

	FleetCheckpoint(ctx context.Context, playerID string) (FleetCheckpoint, error)
	AdvanceFleetCheckpoint(ctx context.Context, playerID string, prev time.Time, next FleetCheckpoint) (bool, error)
	FleetJobs(ctx context.Context, playerID string, after time.Time) ([]FleetJob, error)
	LastFleetJobEnd(ctx context.Context, playerID string) (time.Time, bool, error)
	InsertFleetJob(ctx context.Context, playerID string, job FleetJob) (int64, error)
	// FleetTransactions lists transactions applying after the given time.
	FleetTransactions(ctx context.Context, playerID string, after time.Time) ([]FleetTransaction, error)
	InsertFleetTransaction(ctx context.Context, playerID string, t FleetTransaction) (int64, error)

	InventoryCheckpoint(ctx context.Context, playerID string) (InventoryCheckpoint, error)
	AdvanceInventoryCheckpoint(ctx context.Context, playerID string, prev time.Time, next InventoryCheckpoint) (bool, error)
	InventoryTransactions(ctx context.Context, playerID string, after time.Time) ([]InventoryTransaction, error)
	InsertInventoryTransaction(ctx context.Context, playerID string, t InventoryTransaction) (int64, error)

	// ActiveRaid returns the raid of playerID returning after now, if any.
	ActiveRaid(ctx context.Context, playerID string, now time.Time) (Raid, bool, error)
	LastRaid(ctx context.Context, playerID string) (Raid, bool, error)
	InsertRaid(ctx context.Context, raid Raid) (int64, error)

	InsertNotification(ctx context.Context, n Notification) (int64, error)
	PendingNotifications(ctx context.Context, playerID string) ([]Notification, error)
	// CancelNotification moves a pending notification of playerID to
	// cancelled. It reports false when no such pending row exists.
	CancelNotification(ctx context.Context, playerID string, id int64) (bool, error)

	InsertPeriodicReminder(ctx context.Context, r PeriodicReminder) (int64, error)
	PeriodicReminders(ctx context.Context, playerID string) ([]PeriodicReminder, error)
	// DeletePeriodicReminder removes the reminder if it belongs to playerID.
	// It returns ErrNotFound for unknown ids and ErrUnauthorized for
	// reminders owned by someone else.
	DeletePeriodicReminder(ctx context.Context, playerID string, id int64) error
}

// Scheduler arms in-memory timers for persisted notifications.
type Scheduler interface {
	Schedule(n Notification) Handle
	SchedulePeriodic(r PeriodicReminder) (Handle, error)
	Cancel(h Handle) bool
	ValidateSchedule(spec string) error
}

type nopScheduler struct{}

func (nopScheduler) Schedule(n Notification) Handle { return NotificationHandle(n.ID) }

func (nopScheduler) SchedulePeriodic(r PeriodicReminder) (Handle, error) {
	return PeriodicHandle(r.ID), nil
}

func (nopScheduler) Cancel(Handle) bool { return false }

func (nopScheduler) ValidateSchedule(string) error { return nil }
