package game

import (
	"fmt"
	"math/big"
	"time"

	"shipsbot/internal/config"

	"github.com/shopspring/decimal"
)

// curvePrecision is the number of decimal places kept while evaluating
// fractional powers.
const curvePrecision = 24

var decOne = decimal.NewFromInt(1)

// expoCurve evaluates round(multiplier * base^(level*exponent)).
type expoCurve struct {
	multiplier decimal.Decimal
	base       decimal.Decimal
	exponent   decimal.Decimal
}

func newExpoCurve(p config.CurveParams) expoCurve {
	return expoCurve{
		multiplier: decimal.NewFromFloat(p.Multiplier),
		base:       decimal.NewFromFloat(p.Base),
		exponent:   decimal.NewFromFloat(p.Exponent),
	}
}

func (c expoCurve) at(level int) (decimal.Decimal, error) {
	e := decimal.NewFromInt(int64(level)).Mul(c.exponent)
	pow := decOne
	if !e.IsZero() {
		var err error
		pow, err = c.base.PowWithPrecision(e, curvePrecision)
		if err != nil {
			return decimal.Zero, fmt.Errorf("curve %s^%s: %w", c.base, e, err)
		}
	}
	return c.multiplier.Mul(pow).Round(0), nil
}

type incomeCurve struct {
	scale decimal.Decimal
	curve expoCurve
}

type upgradeCurve struct {
	duration expoCurve
	factor   decimal.Decimal
	cost     map[Resource]expoCurve
}

type shipCost struct {
	cost    Balances
	perUnit time.Duration
}

// Curves maps levels to costs, durations and income. It holds no mutable
// state; identical inputs always give identical outputs.
type Curves struct {
	income   [numMines]incomeCurve
	upgrades [numMines]upgradeCurve
	ships    map[Ship]shipCost
	starting ProductionState
}

func NewCurves(content config.Content) (*Curves, error) {
	c := &Curves{ships: make(map[Ship]shipCost)}
	for _, r := range Mines {
		inc, ok := content.Income[r.Key()]
		if !ok {
			return nil, fmt.Errorf("no income curve for %s", r.Key())
		}
		c.income[r] = incomeCurve{scale: decimal.NewFromFloat(inc.Scale), curve: newExpoCurve(inc.Curve)}

		up, ok := content.Upgrades[r.Key()]
		if !ok {
			return nil, fmt.Errorf("no upgrade curve for %s", r.Key())
		}
		uc := upgradeCurve{
			duration: newExpoCurve(up.Duration),
			factor:   decimal.NewFromFloat(up.DurationFactor),
			cost:     make(map[Resource]expoCurve, len(up.Cost)),
		}
		for key, p := range up.Cost {
			res, err := ParseResource(key)
			if err != nil {
				return nil, err
			}
			uc.cost[res] = newExpoCurve(p)
		}
		c.upgrades[r] = uc
	}
	for key, sc := range content.ShipCosts {
		ship, err := ParseShip(key)
		if err != nil {
			return nil, err
		}
		cost := NewBalances()
		for rk, v := range sc.Cost {
			res, err := ParseResource(rk)
			if err != nil {
				return nil, err
			}
			cost[res].SetInt64(v)
		}
		c.ships[ship] = shipCost{cost: cost, perUnit: sc.BuildTime}
	}

	c.starting = ProductionState{Balances: NewBalances()}
	for _, r := range Mines {
		c.starting.Production[r] = 1
		if lvl, ok := content.Starting.Levels[r.Key()]; ok {
			c.starting.Production[r] = lvl
		}
	}
	for key, v := range content.Starting.Balances {
		res, err := ParseResource(key)
		if err != nil {
			return nil, err
		}
		c.starting.Balances[res].SetInt64(v)
	}
	return c, nil
}

// Starting returns the state a new player begins with.
func (c *Curves) Starting() ProductionState {
	return ProductionState{Balances: c.starting.Balances.Clone(), Production: c.starting.Production}
}

// IncomeRate returns the per-second income of a mine at level, unrounded.
func (c *Curves) IncomeRate(r Resource, level int) (decimal.Decimal, error) {
	if !r.IsMine() {
		return decimal.Zero, fmt.Errorf("%s has no mine", r.Key())
	}
	ic := c.income[r]
	v, err := ic.curve.at(level)
	if err != nil {
		return decimal.Zero, err
	}
	return ic.scale.Mul(decimal.NewFromInt(int64(level))).Mul(v), nil
}

// Carry is the fractional part of each mine's income, always in [0, 1).
type Carry [numMines]decimal.Decimal

func (c Carry) Get(r Resource) decimal.Decimal {
	if !r.IsMine() {
		return decimal.Zero
	}
	return c[r]
}

// Income returns the whole units a mine at level produces over d, rounded
// down.
func (c *Curves) Income(r Resource, level int, d time.Duration) (*big.Int, error) {
	whole, _, err := c.Accrue(r, level, d, decimal.Zero)
	return whole, err
}

// Accrue adds the income of a mine at level over d to carry and splits the sum
// into whole units and the fraction left over. The arithmetic is exact, so
// accruing over a+b equals accruing over a then b.
func (c *Curves) Accrue(r Resource, level int, d time.Duration, carry decimal.Decimal) (*big.Int, decimal.Decimal, error) {
	rate, err := c.IncomeRate(r, level)
	if err != nil {
		return nil, decimal.Zero, err
	}
	total := carry.Add(rate.Mul(decimal.NewFromInt(d.Nanoseconds())).Shift(-9))
	whole := total.Floor()
	return whole.BigInt(), total.Sub(whole), nil
}

// IncomeFor accrues every mine over d at the given levels, starting from
// carry.
func (c *Curves) IncomeFor(p Production, d time.Duration, carry Carry) (Balances, Carry, error) {
	out := NewBalances()
	for _, r := range Mines {
		v, rest, err := c.Accrue(r, p.Level(r), d, carry[r])
		if err != nil {
			return out, carry, err
		}
		out[r] = v
		carry[r] = rest
	}
	return out, carry, nil
}

// UpgradeCost is the price of upgrading mine r from level to level+1.
func (c *Curves) UpgradeCost(r Resource, level int) (Balances, error) {
	out := NewBalances()
	if !r.IsMine() {
		return out, fmt.Errorf("%s has no mine", r.Key())
	}
	for res, curve := range c.upgrades[r].cost {
		v, err := curve.at(level)
		if err != nil {
			return out, err
		}
		out[res] = v.BigInt()
	}
	return out, nil
}

// UpgradeDuration is how long upgrading mine r from level to level+1 takes.
func (c *Curves) UpgradeDuration(r Resource, level int) (time.Duration, error) {
	if !r.IsMine() {
		return 0, fmt.Errorf("%s has no mine", r.Key())
	}
	uc := c.upgrades[r]
	base, err := uc.duration.at(level)
	if err != nil {
		return 0, err
	}
	ms := base.Mul(uc.factor).Round(0)
	if !ms.IsInteger() || ms.Sign() < 0 || ms.GreaterThan(decimal.NewFromInt(maxDurationMs)) {
		return 0, fmt.Errorf("upgrade duration for %s level %d out of range: %s ms", r.Key(), level, ms)
	}
	return time.Duration(ms.IntPart()) * time.Millisecond, nil
}

// ShipCost returns the per-unit cost and build time of a ship. ok is false for
// ships that cannot be built.
func (c *Curves) ShipCost(s Ship) (cost Balances, perUnit time.Duration, ok bool) {
	sc, ok := c.ships[s]
	if !ok {
		return NewBalances(), 0, false
	}
	return sc.cost.Clone(), sc.perUnit, true
}

// Buildable lists ships with a cost entry in AllShips order.
func (c *Curves) Buildable() []Ship {
	var out []Ship
	for _, s := range AllShips {
		if _, ok := c.ships[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// maxDurationMs keeps durations well inside time.Duration's range.
const maxDurationMs = int64(100 * 365 * 24 * time.Hour / time.Millisecond)
