package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shipsbot/internal/game"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type tx struct {
	store  *Store
	db     pgx.Tx
	holder uuid.UUID
	locked map[string]bool
	hooks  []func()
	// done is set once the transaction has committed or rolled back.
	done bool
}

// lock upserts the player's lock row, which blocks until any other holder
// commits or lock_timeout expires.
func (t *tx) lock(ctx context.Context, playerID string) error {
	if t.locked[playerID] {
		return nil
	}
	started := time.Now()
	_, err := t.db.Exec(ctx, `
		INSERT INTO player_locks (player_id, holder, locked_at)
		VALUES ($1, $2::uuid, now())
		ON CONFLICT (player_id) DO UPDATE
		SET holder = EXCLUDED.holder, locked_at = EXCLUDED.locked_at
	`, playerID, t.holder.String())
	if err != nil {
		if isLockTimeout(err) {
			t.store.metrics.LockWait("timeout", time.Since(started))
			return fmt.Errorf("%w: player %s after %s", game.ErrLockTimeout, playerID, t.store.lockTimeout)
		}
		return fmt.Errorf("lock player %s: %w", playerID, err)
	}
	t.store.metrics.LockWait("acquired", time.Since(started))
	t.locked[playerID] = true
	return nil
}

func (t *tx) check(playerID string) error {
	if !t.locked[playerID] {
		return fmt.Errorf("player %s is not locked in this transaction", playerID)
	}
	return nil
}

func (t *tx) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := t.db.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now)
	return now, err
}

func (t *tx) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *tx) EnsurePlayer(ctx context.Context, playerID string, start game.ProductionState, at time.Time) error {
	if err := t.check(playerID); err != nil {
		return err
	}
	args := []any{playerID, start.Production[game.Tier1], start.Production[game.Tier2], start.Production[game.Tier3]}
	args = append(args, balancesArgs(start.Balances)...)
	args = append(args, at)
	if _, err := t.db.Exec(ctx, `
		INSERT INTO production_checkpoint (player_id, tier1_level, tier2_level, tier3_level, tier1, tier2, tier3, special1, checkpoint_time)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9)
		ON CONFLICT (player_id) DO NOTHING
	`, args...); err != nil {
		return err
	}
	if _, err := t.db.Exec(ctx, `
		INSERT INTO fleet_checkpoint (player_id, ship1, ship2, ship3, ship4, ship_special1, checkpoint_time)
		VALUES ($1, 0, 0, 0, 0, 0, $2)
		ON CONFLICT (player_id) DO NOTHING
	`, playerID, at); err != nil {
		return err
	}
	_, err := t.db.Exec(ctx, `
		INSERT INTO inventory_checkpoint (player_id, checkpoint_time)
		VALUES ($1, $2)
		ON CONFLICT (player_id) DO NOTHING
	`, playerID, at)
	return err
}

func (t *tx) ProductionCheckpoint(ctx context.Context, playerID string) (game.ProductionCheckpoint, error) {
	var cp game.ProductionCheckpoint
	if err := t.check(playerID); err != nil {
		return cp, err
	}
	var (
		cols  [4]string
		carry [3]string
	)
	err := t.db.QueryRow(ctx, `
		SELECT tier1_level, tier2_level, tier3_level, tier1::text, tier2::text, tier3::text, special1::text,
		       tier1_carry::text, tier2_carry::text, tier3_carry::text, checkpoint_time
		FROM production_checkpoint
		WHERE player_id = $1
	`, playerID).Scan(
		&cp.Production[game.Tier1], &cp.Production[game.Tier2], &cp.Production[game.Tier3],
		&cols[0], &cols[1], &cols[2], &cols[3],
		&carry[0], &carry[1], &carry[2], &cp.Time,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return cp, fmt.Errorf("production checkpoint for %s: %w", playerID, game.ErrNotFound)
	}
	if err != nil {
		return cp, err
	}
	if cp.Balances, err = parseBalances(cols); err != nil {
		return cp, err
	}
	cp.Carry, err = parseCarry(carry)
	return cp, err
}

func (t *tx) AdvanceProductionCheckpoint(ctx context.Context, playerID string, prev time.Time, next game.ProductionCheckpoint) (bool, error) {
	if err := t.check(playerID); err != nil {
		return false, err
	}
	args := []any{playerID, prev, next.Time, next.Production[game.Tier1], next.Production[game.Tier2], next.Production[game.Tier3]}
	args = append(args, balancesArgs(next.Balances)...)
	args = append(args, carryArgs(next.Carry)...)
	tag, err := t.db.Exec(ctx, `
		UPDATE production_checkpoint
		SET checkpoint_time = $3,
		    tier1_level = $4, tier2_level = $5, tier3_level = $6,
		    tier1 = $7::numeric, tier2 = $8::numeric, tier3 = $9::numeric, special1 = $10::numeric,
		    tier1_carry = $11::numeric, tier2_carry = $12::numeric, tier3_carry = $13::numeric
		WHERE player_id = $1 AND checkpoint_time = $2
	`, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) ProductionJobs(ctx context.Context, playerID string, after time.Time) ([]game.ProductionJob, error) {
	if err := t.check(playerID); err != nil {
		return nil, err
	}
	rows, err := t.db.Query(ctx, `
		SELECT id, resource, start_time, end_time
		FROM production_jobs
		WHERE player_id = $1 AND end_time > $2
		ORDER BY end_time, id
	`, playerID, after)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.ProductionJob, error) {
		var j game.ProductionJob
		var resource string
		if err := row.Scan(&j.ID, &resource, &j.Start, &j.End); err != nil {
			return j, err
		}
		r, err := game.ParseResource(resource)
		j.Resource = r
		return j, err
	})
}

func (t *tx) LastProductionJobEnd(ctx context.Context, playerID string, r game.Resource) (time.Time, bool, error) {
	if err := t.check(playerID); err != nil {
		return time.Time{}, false, err
	}
	var end *time.Time
	err := t.db.QueryRow(ctx, `
		SELECT max(end_time) FROM production_jobs WHERE player_id = $1 AND resource = $2
	`, playerID, r.Key()).Scan(&end)
	if err != nil || end == nil {
		return time.Time{}, false, err
	}
	return *end, true, nil
}

func (t *tx) InsertProductionJob(ctx context.Context, playerID string, job game.ProductionJob) (int64, error) {
	if err := t.check(playerID); err != nil {
		return 0, err
	}
	var id int64
	err := t.db.QueryRow(ctx, `
		INSERT INTO production_jobs (player_id, resource, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, playerID, job.Resource.Key(), job.Start, job.End).Scan(&id)
	return id, err
}

func (t *tx) FleetCheckpoint(ctx context.Context, playerID string) (game.FleetCheckpoint, error) {
	var cp game.FleetCheckpoint
	if err := t.check(playerID); err != nil {
		return cp, err
	}
	var cols [5]string
	err := t.db.QueryRow(ctx, `
		SELECT ship1::text, ship2::text, ship3::text, ship4::text, ship_special1::text, checkpoint_time
		FROM fleet_checkpoint
		WHERE player_id = $1
	`, playerID).Scan(&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cp.Time)
	if errors.Is(err, pgx.ErrNoRows) {
		return cp, fmt.Errorf("fleet checkpoint for %s: %w", playerID, game.ErrNotFound)
	}
	if err != nil {
		return cp, err
	}
	cp.Fleet, err = parseFleet(cols)
	return cp, err
}

func (t *tx) AdvanceFleetCheckpoint(ctx context.Context, playerID string, prev time.Time, next game.FleetCheckpoint) (bool, error) {
	if err := t.check(playerID); err != nil {
		return false, err
	}
	args := append([]any{playerID, prev, next.Time}, fleetArgs(next.Fleet)...)
	tag, err := t.db.Exec(ctx, `
		UPDATE fleet_checkpoint
		SET checkpoint_time = $3,
		    ship1 = $4::numeric, ship2 = $5::numeric, ship3 = $6::numeric, ship4 = $7::numeric, ship_special1 = $8::numeric
		WHERE player_id = $1 AND checkpoint_time = $2
	`, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) FleetJobs(ctx context.Context, playerID string, after time.Time) ([]game.FleetJob, error) {
	if err := t.check(playerID); err != nil {
		return nil, err
	}
	rows, err := t.db.Query(ctx, `
		SELECT id, ship, ship_count::text, start_time, end_time
		FROM fleet_jobs
		WHERE player_id = $1 AND end_time > $2
		ORDER BY end_time, id
	`, playerID, after)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.FleetJob, error) {
		var j game.FleetJob
		var ship, count string
		if err := row.Scan(&j.ID, &ship, &count, &j.Start, &j.End); err != nil {
			return j, err
		}
		s, err := game.ParseShip(ship)
		if err != nil {
			return j, err
		}
		j.Ship = s
		j.Count, err = parseNumeric(count)
		return j, err
	})
}

func (t *tx) LastFleetJobEnd(ctx context.Context, playerID string) (time.Time, bool, error) {
	if err := t.check(playerID); err != nil {
		return time.Time{}, false, err
	}
	var end *time.Time
	err := t.db.QueryRow(ctx, `SELECT max(end_time) FROM fleet_jobs WHERE player_id = $1`, playerID).Scan(&end)
	if err != nil || end == nil {
		return time.Time{}, false, err
	}
	return *end, true, nil
}

func (t *tx) InsertFleetJob(ctx context.Context, playerID string, job game.FleetJob) (int64, error) {
	if err := t.check(playerID); err != nil {
		return 0, err
	}
	var id int64
	err := t.db.QueryRow(ctx, `
		INSERT INTO fleet_jobs (player_id, ship, ship_count, start_time, end_time)
		VALUES ($1, $2, $3::numeric, $4, $5)
		RETURNING id
	`, playerID, job.Ship.Key(), numericText(job.Count), job.Start, job.End).Scan(&id)
	return id, err
}

func (t *tx) FleetTransactions(ctx context.Context, playerID string, after time.Time) ([]game.FleetTransaction, error) {
	if err := t.check(playerID); err != nil {
		return nil, err
	}
	rows, err := t.db.Query(ctx, `
		SELECT id, apply_time, ship1::text, ship2::text, ship3::text, ship4::text, ship_special1::text
		FROM fleet_transactions
		WHERE player_id = $1 AND apply_time > $2
		ORDER BY apply_time, id
	`, playerID, after)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.FleetTransaction, error) {
		var ft game.FleetTransaction
		var cols [5]string
		if err := row.Scan(&ft.ID, &ft.ApplyAt, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4]); err != nil {
			return ft, err
		}
		var err error
		ft.Delta, err = parseFleet(cols)
		return ft, err
	})
}

func (t *tx) InsertFleetTransaction(ctx context.Context, playerID string, ft game.FleetTransaction) (int64, error) {
	if err := t.check(playerID); err != nil {
		return 0, err
	}
	args := append([]any{playerID, ft.ApplyAt}, fleetArgs(ft.Delta)...)
	var id int64
	err := t.db.QueryRow(ctx, `
		INSERT INTO fleet_transactions (player_id, apply_time, ship1, ship2, ship3, ship4, ship_special1)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric)
		RETURNING id
	`, args...).Scan(&id)
	return id, err
}

func (t *tx) InventoryCheckpoint(ctx context.Context, playerID string) (game.InventoryCheckpoint, error) {
	var cp game.InventoryCheckpoint
	if err := t.check(playerID); err != nil {
		return cp, err
	}
	err := t.db.QueryRow(ctx, `SELECT checkpoint_time FROM inventory_checkpoint WHERE player_id = $1`, playerID).Scan(&cp.Time)
	if errors.Is(err, pgx.ErrNoRows) {
		return cp, fmt.Errorf("inventory checkpoint for %s: %w", playerID, game.ErrNotFound)
	}
	if err != nil {
		return cp, err
	}
	rows, err := t.db.Query(ctx, `
		SELECT item_id, tier, metadata_key, count::text
		FROM inventory
		WHERE player_id = $1
		ORDER BY item_id, tier, metadata_key
	`, playerID)
	if err != nil {
		return cp, err
	}
	cp.Items, err = pgx.CollectRows(rows, scanItem)
	return cp, err
}

func scanItem(row pgx.CollectableRow) (game.Item, error) {
	var it game.Item
	var count string
	if err := row.Scan(&it.ItemID, &it.Tier, &it.MetadataKey, &count); err != nil {
		return it, err
	}
	var err error
	it.Count, err = parseNumeric(count)
	return it, err
}

func (t *tx) AdvanceInventoryCheckpoint(ctx context.Context, playerID string, prev time.Time, next game.InventoryCheckpoint) (bool, error) {
	if err := t.check(playerID); err != nil {
		return false, err
	}
	tag, err := t.db.Exec(ctx, `
		UPDATE inventory_checkpoint SET checkpoint_time = $3
		WHERE player_id = $1 AND checkpoint_time = $2
	`, playerID, prev, next.Time)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if _, err := t.db.Exec(ctx, `DELETE FROM inventory WHERE player_id = $1`, playerID); err != nil {
		return false, err
	}
	batch := &pgx.Batch{}
	for _, it := range next.Items {
		if it.Count == nil || it.Count.Sign() <= 0 {
			continue
		}
		batch.Queue(`
			INSERT INTO inventory (player_id, item_id, tier, metadata_key, count)
			VALUES ($1, $2, $3, $4, $5::numeric)
		`, playerID, it.ItemID, it.Tier, it.MetadataKey, numericText(it.Count))
	}
	if batch.Len() > 0 {
		if err := t.db.SendBatch(ctx, batch).Close(); err != nil {
			return false, fmt.Errorf("write inventory: %w", err)
		}
	}
	return true, nil
}

func (t *tx) InventoryTransactions(ctx context.Context, playerID string, after time.Time) ([]game.InventoryTransaction, error) {
	if err := t.check(playerID); err != nil {
		return nil, err
	}
	rows, err := t.db.Query(ctx, `
		SELECT id, apply_time, item_id, tier, metadata_key, count::text
		FROM inventory_transactions
		WHERE player_id = $1 AND apply_time > $2
		ORDER BY apply_time, id
	`, playerID, after)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.InventoryTransaction, error) {
		var it game.InventoryTransaction
		var count string
		if err := row.Scan(&it.ID, &it.ApplyAt, &it.Item.ItemID, &it.Item.Tier, &it.Item.MetadataKey, &count); err != nil {
			return it, err
		}
		var err error
		it.Item.Count, err = parseNumeric(count)
		return it, err
	})
}

func (t *tx) InsertInventoryTransaction(ctx context.Context, playerID string, it game.InventoryTransaction) (int64, error) {
	if err := t.check(playerID); err != nil {
		return 0, err
	}
	var id int64
	err := t.db.QueryRow(ctx, `
		INSERT INTO inventory_transactions (player_id, apply_time, item_id, tier, metadata_key, count)
		VALUES ($1, $2, $3, $4, $5, $6::numeric)
		RETURNING id
	`, playerID, it.ApplyAt, it.Item.ItemID, it.Item.Tier, it.Item.MetadataKey, numericText(it.Item.Count)).Scan(&id)
	return id, err
}

func (t *tx) ActiveRaid(ctx context.Context, playerID string, now time.Time) (game.Raid, bool, error) {
	if err := t.check(playerID); err != nil {
		return game.Raid{}, false, err
	}
	raid, err := scanRaid(t.db.QueryRow(ctx, `
		SELECT `+raidColumns+`
		FROM raids
		WHERE player_id = $1 AND return_time > $2
		ORDER BY return_time DESC
		LIMIT 1
	`, playerID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Raid{}, false, nil
	}
	return raid, err == nil, err
}

func (t *tx) LastRaid(ctx context.Context, playerID string) (game.Raid, bool, error) {
	if err := t.check(playerID); err != nil {
		return game.Raid{}, false, err
	}
	raid, err := scanRaid(t.db.QueryRow(ctx, `
		SELECT `+raidColumns+`
		FROM raids
		WHERE player_id = $1
		ORDER BY departure_time DESC, id DESC
		LIMIT 1
	`, playerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return game.Raid{}, false, nil
	}
	return raid, err == nil, err
}

func (t *tx) InsertRaid(ctx context.Context, raid game.Raid) (int64, error) {
	if err := t.check(raid.PlayerID); err != nil {
		return 0, err
	}
	fleet, err := json.Marshal(raid.Fleet)
	if err != nil {
		return 0, fmt.Errorf("encode raid fleet: %w", err)
	}
	result, err := json.Marshal(raid.Result)
	if err != nil {
		return 0, fmt.Errorf("encode raid result: %w", err)
	}
	var id int64
	err = t.db.QueryRow(ctx, `
		INSERT INTO raids (player_id, duration_tier, location_id, departure_time, return_time, fleet, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, raid.PlayerID, string(raid.Duration), raid.LocationID, raid.Departure, raid.Return, fleet, result).Scan(&id)
	return id, err
}

func (t *tx) InsertNotification(ctx context.Context, n game.Notification) (int64, error) {
	if err := t.check(n.PlayerID); err != nil {
		return 0, err
	}
	if n.Status == "" {
		n.Status = game.StatusPending
	}
	var id int64
	err := t.db.QueryRow(ctx, `
		INSERT INTO notifications (player_id, kind, payload, guild_id, channel_id, fire_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, n.PlayerID, string(n.Kind), n.Payload, n.GuildID, n.ChannelID, n.FireAt, string(n.Status)).Scan(&id)
	return id, err
}

func (t *tx) PendingNotifications(ctx context.Context, playerID string) ([]game.Notification, error) {
	if err := t.check(playerID); err != nil {
		return nil, err
	}
	rows, err := t.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE player_id = $1 AND status = 'pending'
		ORDER BY fire_time, id
	`, playerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanNotification)
}

func (t *tx) CancelNotification(ctx context.Context, playerID string, id int64) (bool, error) {
	if err := t.check(playerID); err != nil {
		return false, err
	}
	tag, err := t.db.Exec(ctx, `
		UPDATE notifications SET status = 'cancelled'
		WHERE id = $1 AND player_id = $2 AND status = 'pending'
	`, id, playerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) InsertPeriodicReminder(ctx context.Context, r game.PeriodicReminder) (int64, error) {
	if err := t.check(r.PlayerID); err != nil {
		return 0, err
	}
	var id int64
	err := t.db.QueryRow(ctx, `
		INSERT INTO periodic_reminders (player_id, guild_id, channel_id, payload, schedule)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.PlayerID, r.GuildID, r.ChannelID, r.Payload, r.Schedule).Scan(&id)
	return id, err
}

func (t *tx) PeriodicReminders(ctx context.Context, playerID string) ([]game.PeriodicReminder, error) {
	if err := t.check(playerID); err != nil {
		return nil, err
	}
	rows, err := t.db.Query(ctx, `
		SELECT `+periodicColumns+`
		FROM periodic_reminders
		WHERE player_id = $1
		ORDER BY id
	`, playerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPeriodic)
}

func (t *tx) DeletePeriodicReminder(ctx context.Context, playerID string, id int64) error {
	if err := t.check(playerID); err != nil {
		return err
	}
	var owner string
	err := t.db.QueryRow(ctx, `SELECT player_id FROM periodic_reminders WHERE id = $1 FOR UPDATE`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("periodic reminder %d: %w", id, game.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if owner != playerID {
		return fmt.Errorf("periodic reminder %d: %w", id, game.ErrUnauthorized)
	}
	_, err = t.db.Exec(ctx, `DELETE FROM periodic_reminders WHERE id = $1`, id)
	return err
}
