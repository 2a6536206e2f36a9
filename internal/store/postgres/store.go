// Package postgres implements the game store on PostgreSQL. Player locks are
// rows in player_locks, upserted and held until the transaction ends.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shipsbot/internal/game"
	"shipsbot/internal/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const lockNotAvailable = "55P03"

type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func NewStore(db *pgxpool.Pool, lockTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	return &Store{db: db, lockTimeout: lockTimeout, metrics: m, log: logger}
}

type txKey struct{}

// WithPlayerLock implements game.Store.
func (s *Store) WithPlayerLock(ctx context.Context, playerID string, fn func(ctx context.Context, tx game.Tx) error) error {
	if outer, ok := ctx.Value(txKey{}).(*tx); ok && outer.store == s && !outer.done {
		if err := outer.lock(ctx, playerID); err != nil {
			return err
		}
		return fn(ctx, outer)
	}

	pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if _, err := pgTx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	t := &tx{store: s, db: pgTx, holder: uuid.New(), locked: make(map[string]bool)}
	// A ctx that outlives this call must not reach the closed pgx.Tx.
	defer func() { t.done = true }()
	if err := t.lock(ctx, playerID); err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, t), t); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	t.done = true
	for _, hook := range t.hooks {
		hook()
	}
	return nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable
}

// Now implements notify.Store.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := s.db.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now)
	return now, err
}

func (s *Store) PendingNotifications(ctx context.Context) ([]game.Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE status = 'pending'
		ORDER BY fire_time, id
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanNotification)
}

func (s *Store) MarkNotification(ctx context.Context, id int64, status game.NotificationStatus) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET status = $2
		WHERE id = $1 AND status = 'pending'
	`, id, string(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) PeriodicReminders(ctx context.Context) ([]game.PeriodicReminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+periodicColumns+`
		FROM periodic_reminders
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPeriodic)
}

func (s *Store) Raid(ctx context.Context, id int64) (game.Raid, error) {
	raid, err := scanRaid(s.db.QueryRow(ctx, `SELECT `+raidColumns+` FROM raids WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return raid, fmt.Errorf("raid %d: %w", id, game.ErrNotFound)
	}
	return raid, err
}

const notificationColumns = `id, player_id, kind, payload, guild_id, channel_id, fire_time, status, created_at`

func scanNotification(row pgx.CollectableRow) (game.Notification, error) {
	var n game.Notification
	var kind, status string
	err := row.Scan(&n.ID, &n.PlayerID, &kind, &n.Payload, &n.GuildID, &n.ChannelID, &n.FireAt, &status, &n.CreatedAt)
	n.Kind = game.NotificationKind(kind)
	n.Status = game.NotificationStatus(status)
	return n, err
}

const periodicColumns = `id, player_id, guild_id, channel_id, payload, schedule, created_at`

func scanPeriodic(row pgx.CollectableRow) (game.PeriodicReminder, error) {
	var r game.PeriodicReminder
	err := row.Scan(&r.ID, &r.PlayerID, &r.GuildID, &r.ChannelID, &r.Payload, &r.Schedule, &r.CreatedAt)
	return r, err
}

const raidColumns = `id, player_id, duration_tier, location_id, departure_time, return_time, fleet, result`

func scanRaid(row pgx.Row) (game.Raid, error) {
	var r game.Raid
	var duration string
	var fleet, result []byte
	if err := row.Scan(&r.ID, &r.PlayerID, &duration, &r.LocationID, &r.Departure, &r.Return, &fleet, &result); err != nil {
		return r, err
	}
	r.Duration = game.RaidDuration(duration)
	if err := json.Unmarshal(fleet, &r.Fleet); err != nil {
		return r, fmt.Errorf("decode raid %d fleet: %w", r.ID, err)
	}
	if err := json.Unmarshal(result, &r.Result); err != nil {
		return r, fmt.Errorf("decode raid %d result: %w", r.ID, err)
	}
	return r, nil
}
