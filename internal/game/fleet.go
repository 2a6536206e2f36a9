package game

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// QueueFleetProduction charges for count ships and queues their construction
// after every fleet job the player already has pending. Yards are shared
// between ship types.
func (s *Service) QueueFleetProduction(ctx context.Context, origin Origin, ship Ship, count *big.Int) (BuildResult, error) {
	var out BuildResult
	if count == nil || count.Sign() <= 0 {
		return out, invalidf("ship count must be at least 1")
	}
	if count.Cmp(big.NewInt(s.content.MaxBuildCount)) > 0 {
		return out, invalidf("at most %d ships can be ordered at once", s.content.MaxBuildCount)
	}
	unitCost, perUnit, ok := s.curves.ShipCost(ship)
	if !ok {
		return out, invalidf("%s cannot be built", ship.Key())
	}
	cost := unitCost.Scale(count)
	duration := perUnit * time.Duration(count.Int64())

	playerID := origin.PlayerID
	err := s.mutate(ctx, "build", playerID, func(ctx context.Context, tx Tx) error {
		now, err := s.nowTx(ctx, tx, playerID)
		if err != nil {
			return err
		}
		pv, err := s.productionTx(ctx, tx, playerID, now)
		if err != nil {
			return err
		}
		if missing := Missing(cost, pv.live.Balances); len(missing) > 0 {
			return &InsufficientFundsError{Missing: missing, Cost: cost}
		}

		start := now
		lastEnd, ok, err := tx.LastFleetJobEnd(ctx, playerID)
		if err != nil {
			return fmt.Errorf("load fleet queue tail: %w", err)
		}
		if ok && lastEnd.After(start) {
			start = lastEnd
		}
		end := start.Add(duration)

		if _, err := s.debitTx(ctx, tx, playerID, pv, cost, now); err != nil {
			return err
		}
		jobID, err := tx.InsertFleetJob(ctx, playerID, FleetJob{Ship: ship, Count: new(big.Int).Set(count), Start: start, End: end})
		if err != nil {
			return fmt.Errorf("insert fleet job: %w", err)
		}
		_, err = s.notifyTx(ctx, tx, Notification{
			PlayerID:  playerID,
			Kind:      NotifyShipBuild,
			Payload:   fmt.Sprintf("%s-%s", ship.Key(), count),
			GuildID:   origin.GuildID,
			ChannelID: origin.ChannelID,
			FireAt:    end,
		})
		if err != nil {
			return err
		}

		s.log.Info("fleet production queued", "player_id", playerID, "ship", ship.Key(), "count", count.String(), "job_id", jobID, "end", end)
		out = BuildResult{Now: now, Ship: ship, Count: new(big.Int).Set(count), Cost: cost, StartTime: start, CompletionTime: end}
		return nil
	})
	return out, err
}
