package game

import (
	"context"
	"fmt"
)

// QueueProductionUpgrade charges for and queues the next upgrade of mine r.
// The level charged for counts upgrades already queued, and the new job
// starts when the last queued one for r ends.
func (s *Service) QueueProductionUpgrade(ctx context.Context, origin Origin, r Resource) (UpgradeResult, error) {
	var out UpgradeResult
	if !r.IsMine() {
		return out, invalidf("%s cannot be upgraded", r.Key())
	}
	playerID := origin.PlayerID
	err := s.mutate(ctx, "upgrade", playerID, func(ctx context.Context, tx Tx) error {
		now, err := s.nowTx(ctx, tx, playerID)
		if err != nil {
			return err
		}
		pv, err := s.productionTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}

		level := pv.live.Production.Level(r) + PendingUpgrades(now, pv.jobs, r)
		cost, err := s.curves.UpgradeCost(r, level)
		if err != nil {
			return err
		}
		duration, err := s.curves.UpgradeDuration(r, level)
		if err != nil {
			return err
		}
		if missing := Missing(cost, pv.live.Balances); len(missing) > 0 {
			return &InsufficientFundsError{Missing: missing, Cost: cost}
		}

		start := now
		lastEnd, ok, err := tx.LastProductionJobEnd(ctx, playerID, r)
		if err != nil {
			return fmt.Errorf("load production queue tail: %w", err)
		}
		if ok && lastEnd.After(start) {
			start = lastEnd
		}
		end := start.Add(duration)

		if _, err := s.debitTx(ctx, tx, playerID, pv, cost, now); err != nil {
			return err
		}
		jobID, err := tx.InsertProductionJob(ctx, playerID, ProductionJob{Resource: r, Start: start, End: end})
		if err != nil {
			return fmt.Errorf("insert production job: %w", err)
		}
		_, err = s.notifyTx(ctx, tx, Notification{
			PlayerID:  playerID,
			Kind:      NotifyProductionUpgrade,
			Payload:   fmt.Sprintf("%s-%d", r.Key(), level+1),
			GuildID:   origin.GuildID,
			ChannelID: origin.ChannelID,
			FireAt:    end,
		})
		if err != nil {
			return err
		}

		s.log.Info("production upgrade queued", "player_id", playerID, "resource", r.Key(), "job_id", jobID, "new_level", level+1, "end", end)
		out = UpgradeResult{Now: now, Resource: r, NewLevel: level + 1, Cost: cost, StartTime: start, CompletionTime: end}
		return nil
	})
	return out, err
}

// UpgradeCosts quotes the next upgrade of every mine at its effective level.
func (s *Service) UpgradeCosts(ctx context.Context, playerID string) ([]UpgradeQuote, error) {
	var out []UpgradeQuote
	err := s.read(ctx, playerID, func(ctx context.Context, tx Tx) error {
		now, err := s.nowTx(ctx, tx, playerID)
		if err != nil {
			return err
		}
		pv, err := s.productionTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, r := range Mines {
			level := pv.live.Production.Level(r) + PendingUpgrades(now, pv.jobs, r)
			cost, err := s.curves.UpgradeCost(r, level)
			if err != nil {
				return err
			}
			d, err := s.curves.UpgradeDuration(r, level)
			if err != nil {
				return err
			}
			out = append(out, UpgradeQuote{
				Resource:   r,
				FromLevel:  level,
				Cost:       cost,
				Duration:   d,
				Affordable: len(Missing(cost, pv.live.Balances)) == 0,
			})
		}
		return nil
	})
	return out, err
}
