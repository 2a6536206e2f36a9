package game

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"shipsbot/internal/config"
)

// DispatchRaid sends the whole live fleet to a location. The outcome is
// rolled now and stored with the raid; loot and returning ships become
// visible once the raid's return time passes.
func (s *Service) DispatchRaid(ctx context.Context, origin Origin, locationID int, duration RaidDuration) (DispatchResult, error) {
	var out DispatchResult
	loc, ok := s.content.RaidLocation(locationID)
	if !ok {
		return out, invalidf("unknown raid location %d", locationID)
	}
	length, ok := s.content.Raids.Durations[string(duration)]
	if !ok {
		return out, invalidf("unknown raid duration %q", duration)
	}
	multiplier := RaidMultiplier(s.content, duration)

	playerID := origin.PlayerID
	err := s.mutate(ctx, "raid", playerID, func(ctx context.Context, tx Tx) error {
		now, err := s.nowTx(ctx, tx, playerID)
		if err != nil {
			return err
		}
		active, ok, err := tx.ActiveRaid(ctx, playerID, now)
		if err != nil {
			return fmt.Errorf("load active raid: %w", err)
		}
		if ok {
			return &RaidInProgressError{RaidID: active.ID, ReturnTime: active.Return, Remaining: active.Return.Sub(now)}
		}

		iv, err := s.inventoryTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		if !locationUnlocked(loc, iv.live) {
			return fmt.Errorf("%w: %s", ErrLocationLocked, loc.Name)
		}
		fv, err := s.fleetTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		if fv.live.IsZero() {
			return ErrEmptyFleet
		}

		delta, err := s.combat.ResolveCombat(fv.live.Clone(), loc, duration)
		if err != nil {
			return fmt.Errorf("resolve combat: %w", err)
		}
		s.mu.Lock()
		loot := RollLoot(s.rand, s.content, loc.Loot, multiplier)
		s.mu.Unlock()

		raid := Raid{
			PlayerID:   playerID,
			Duration:   duration,
			LocationID: loc.ID,
			Departure:  now,
			Return:     now.Add(length.Length),
			Fleet:      fv.live,
			Result:     RaidResult{Loot: loot, FleetDelta: delta},
		}

		// The departing fleet is folded into a new checkpoint at now, so the
		// departure transaction below is recorded but never replayed.
		ok, err = tx.AdvanceFleetCheckpoint(ctx, playerID, fv.cp.Time, FleetCheckpoint{Fleet: NewFleet(), Time: now})
		if err != nil {
			return fmt.Errorf("advance fleet checkpoint: %w", err)
		}
		if !ok {
			return errCheckpointMoved
		}
		ok, err = tx.AdvanceInventoryCheckpoint(ctx, playerID, iv.cp.Time, InventoryCheckpoint{Items: iv.live, Time: now})
		if err != nil {
			return fmt.Errorf("advance inventory checkpoint: %w", err)
		}
		if !ok {
			return errCheckpointMoved
		}

		raid.ID, err = tx.InsertRaid(ctx, raid)
		if err != nil {
			return fmt.Errorf("insert raid: %w", err)
		}
		if _, err := tx.InsertFleetTransaction(ctx, playerID, FleetTransaction{ApplyAt: now, Delta: raid.Fleet.Neg()}); err != nil {
			return fmt.Errorf("insert departure: %w", err)
		}
		returning := raid.Fleet.Clone()
		if delta != nil {
			returning = returning.Add(delta.Change)
		}
		if _, err := tx.InsertFleetTransaction(ctx, playerID, FleetTransaction{ApplyAt: raid.Return, Delta: returning}); err != nil {
			return fmt.Errorf("insert return: %w", err)
		}
		for _, it := range loot {
			if _, err := tx.InsertInventoryTransaction(ctx, playerID, InventoryTransaction{ApplyAt: raid.Return, Item: it}); err != nil {
				return fmt.Errorf("insert loot: %w", err)
			}
		}
		_, err = s.notifyTx(ctx, tx, Notification{
			PlayerID:  playerID,
			Kind:      NotifyRaidReturn,
			Payload:   strconv.FormatInt(raid.ID, 10),
			GuildID:   origin.GuildID,
			ChannelID: origin.ChannelID,
			FireAt:    raid.Return,
		})
		if err != nil {
			return err
		}

		s.log.Info("raid dispatched", "player_id", playerID, "raid_id", raid.ID, "location", loc.ID, "duration", string(duration), "return", raid.Return, "loot_stacks", len(loot))
		out = DispatchResult{Raid: raid, Location: loc.Name}
		return nil
	})
	return out, err
}

// RaidStatus reports the active raid, the most recent raid and the locations
// the player can currently reach.
func (s *Service) RaidStatus(ctx context.Context, playerID string) (RaidStatus, error) {
	var out RaidStatus
	err := s.read(ctx, playerID, func(ctx context.Context, tx Tx) error {
		now, err := s.nowTx(ctx, tx, playerID)
		if err != nil {
			return err
		}
		out.Now = now
		active, ok, err := tx.ActiveRaid(ctx, playerID, now)
		if err != nil {
			return fmt.Errorf("load active raid: %w", err)
		}
		if ok {
			out.Active = &active
		}
		last, ok, err := tx.LastRaid(ctx, playerID)
		if err != nil {
			return fmt.Errorf("load last raid: %w", err)
		}
		if ok {
			out.Last = &last
		}
		iv, err := s.inventoryTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		out.Locations = availableLocations(s.content, iv.live)
		return nil
	})
	return out, err
}

func locationUnlocked(loc config.RaidLocation, items []Item) bool {
	return loc.RequiresItem == 0 || HasItem(items, loc.RequiresItem)
}

func availableLocations(content config.Content, items []Item) []int {
	var out []int
	for _, loc := range content.Raids.Locations {
		if locationUnlocked(loc, items) {
			out = append(out, loc.ID)
		}
	}
	return out
}

// RaidRemaining is how long until r returns, never negative.
func RaidRemaining(r Raid, now time.Time) time.Duration {
	if d := r.Return.Sub(now); d > 0 {
		return d
	}
	return 0
}

// FleetSize sums all ship counts.
func FleetSize(f Fleet) *big.Int {
	total := new(big.Int)
	for _, s := range AllShips {
		total.Add(total, f.Get(s))
	}
	return total
}
