package commands

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"shipsbot/internal/game"

	"github.com/dustin/go-humanize"
)

// compactAbove switches counts to SI notation ("12.3k") past this size.
var compactAbove = big.NewInt(10_000)

func formatCount(n *big.Int) string {
	if n == nil {
		return "0"
	}
	if n.CmpAbs(compactAbove) <= 0 {
		return humanize.BigComma(n)
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	// humanize truncates; round to one decimal ourselves.
	value, prefix := humanize.ComputeSI(f)
	rounded := math.Round(value*10) / 10
	if rounded >= 1000 {
		value, prefix = humanize.ComputeSI(f / value * rounded)
		rounded = math.Round(value*10) / 10
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + prefix
}

func (d *Dispatcher) formatBalances(b game.Balances) string {
	var sb strings.Builder
	sb.WriteString("```\n")
	for _, r := range game.AllResources {
		if r == game.Special1 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s\n", d.content.ResourceName(r.Key()), formatCount(b.Get(r)))
	}
	sb.WriteString("```")
	return sb.String()
}

func (d *Dispatcher) formatFleet(f game.Fleet) string {
	var sb strings.Builder
	sb.WriteString("```\n")
	for _, s := range game.AllShips {
		if s == game.ShipSpecial1 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s\n", d.content.ShipName(s.Key()), formatCount(f.Get(s)))
	}
	sb.WriteString("```")
	return sb.String()
}

// formatCost lists the non-zero parts of cost, like "922 Iron, 461 Copper".
func (d *Dispatcher) formatCost(cost game.Balances) string {
	parts := make([]string, 0, len(game.AllResources))
	for _, r := range game.AllResources {
		if v := cost.Get(r); v.Sign() > 0 {
			parts = append(parts, formatCount(v)+" "+d.content.ResourceName(r.Key()))
		}
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, ", ")
}

func relTime(now, t time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return d.Round(time.Second).String()
}
