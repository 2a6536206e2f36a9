package postgres

import (
	"fmt"
	"math/big"
	"strings"

	"shipsbot/internal/game"

	"github.com/shopspring/decimal"
)

// NUMERIC columns travel as text so arbitrarily large counts survive the
// round trip.

func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if strings.Trim(frac, "0") != "" {
		return nil, fmt.Errorf("numeric %q is not an integer", s)
	}
	v, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("bad numeric %q", s)
	}
	return v, nil
}

func balancesArgs(b game.Balances) []any {
	out := make([]any, 0, len(game.AllResources))
	for _, r := range game.AllResources {
		out = append(out, numericText(b.Get(r)))
	}
	return out
}

func parseBalances(cols [4]string) (game.Balances, error) {
	out := game.NewBalances()
	for i, r := range game.AllResources {
		v, err := parseNumeric(cols[i])
		if err != nil {
			return out, fmt.Errorf("%s: %w", r.Key(), err)
		}
		out[r] = v
	}
	return out, nil
}

func carryArgs(c game.Carry) []any {
	out := make([]any, 0, len(game.Mines))
	for _, r := range game.Mines {
		out = append(out, c.Get(r).String())
	}
	return out
}

func parseCarry(cols [3]string) (game.Carry, error) {
	var out game.Carry
	for i, r := range game.Mines {
		v, err := decimal.NewFromString(strings.TrimSpace(cols[i]))
		if err != nil {
			return out, fmt.Errorf("%s carry: %w", r.Key(), err)
		}
		out[r] = v
	}
	return out, nil
}

func fleetArgs(f game.Fleet) []any {
	out := make([]any, 0, len(game.AllShips))
	for _, s := range game.AllShips {
		out = append(out, numericText(f.Get(s)))
	}
	return out
}

func parseFleet(cols [5]string) (game.Fleet, error) {
	out := game.NewFleet()
	for i, s := range game.AllShips {
		v, err := parseNumeric(cols[i])
		if err != nil {
			return out, fmt.Errorf("%s: %w", s.Key(), err)
		}
		out[s] = v
	}
	return out, nil
}
