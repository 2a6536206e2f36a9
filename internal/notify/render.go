package notify

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"shipsbot/internal/config"
	"shipsbot/internal/game"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
)

func mention(playerID string) string {
	return "<@" + playerID + ">"
}

func (s *Scheduler) render(ctx context.Context, n game.Notification) (string, error) {
	switch n.Kind {
	case game.NotifyProductionUpgrade:
		key, level, ok := strings.Cut(n.Payload, "-")
		if !ok {
			return "", fmt.Errorf("bad upgrade payload %q", n.Payload)
		}
		return fmt.Sprintf("%s: Your %s mine upgrade to level %s is complete!", mention(n.PlayerID), s.content.ResourceName(key), level), nil

	case game.NotifyShipBuild:
		key, count, ok := strings.Cut(n.Payload, "-")
		if !ok {
			return "", fmt.Errorf("bad build payload %q", n.Payload)
		}
		c, ok := new(big.Int).SetString(count, 10)
		if !ok {
			return "", fmt.Errorf("bad build count %q", count)
		}
		noun := s.content.ShipName(key)
		if !c.IsInt64() || c.Int64() != 1 {
			noun = english.PluralWord(2, noun, "")
		}
		return fmt.Sprintf("%s: %s %s finished construction!", mention(n.PlayerID), humanize.BigComma(c), noun), nil

	case game.NotifyRaidReturn:
		id, err := strconv.ParseInt(n.Payload, 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad raid payload %q", n.Payload)
		}
		raid, err := s.store.Raid(ctx, id)
		if err != nil {
			return "", err
		}
		return RenderRaidReturn(s.content, n.PlayerID, raid), nil

	case game.NotifyReminder:
		return fmt.Sprintf("%s: Reminder: %s", mention(n.PlayerID), n.Payload), nil
	}
	return "", fmt.Errorf("unhandled notification kind %q", n.Kind)
}

// RenderRaidReturn describes a finished raid and its loot.
func RenderRaidReturn(content config.Content, playerID string, raid game.Raid) string {
	where := fmt.Sprintf("location %d", raid.LocationID)
	if loc, ok := content.RaidLocation(raid.LocationID); ok {
		where = loc.Name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: Your fleet is back from a %s raid on %s.", mention(playerID), raid.Duration, where)
	if len(raid.Result.Loot) == 0 {
		b.WriteString(" It found nothing.")
		return b.String()
	}
	parts := make([]string, 0, len(raid.Result.Loot))
	for _, it := range raid.Result.Loot {
		parts = append(parts, ItemLine(content, it))
	}
	b.WriteString(" Loot: ")
	b.WriteString(english.OxfordWordSeries(parts, "and"))
	b.WriteString(".")
	return b.String()
}

// ItemLine renders one inventory stack like "3x Salvage (Rare)".
func ItemLine(content config.Content, it game.Item) string {
	name := fmt.Sprintf("item %d", it.ItemID)
	if def, ok := content.Item(it.ItemID); ok {
		name = def.Name
	}
	if it.Tier > 0 {
		name += " (" + content.TierName(it.Tier) + ")"
	}
	if it.MetadataKey != "" {
		name += " [" + it.MetadataKey + "]"
	}
	count := "0"
	if it.Count != nil {
		count = humanize.BigComma(it.Count)
	}
	return count + "x " + name
}

func renderPeriodic(r game.PeriodicReminder) string {
	return fmt.Sprintf("%s: %s", mention(r.PlayerID), r.Payload)
}
