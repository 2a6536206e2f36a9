package game

import (
	"fmt"
	"math/big"
	"strings"
)

type Resource int

const (
	Tier1 Resource = iota
	Tier2
	Tier3
	Special1
	numResources
)

const numMines = 3

// Mines are the resources that have a production level.
var Mines = []Resource{Tier1, Tier2, Tier3}

var AllResources = []Resource{Tier1, Tier2, Tier3, Special1}

var resourceKeys = [numResources]string{"tier1", "tier2", "tier3", "special1"}

func (r Resource) Key() string {
	if r < 0 || r >= numResources {
		return fmt.Sprintf("resource(%d)", int(r))
	}
	return resourceKeys[r]
}

func (r Resource) IsMine() bool {
	return r >= Tier1 && r <= Tier3
}

func ParseResource(key string) (Resource, error) {
	key = strings.TrimSpace(key)
	for i, k := range resourceKeys {
		if k == key {
			return Resource(i), nil
		}
	}
	return 0, fmt.Errorf("unknown resource %q", key)
}

type Ship int

const (
	Ship1 Ship = iota
	Ship2
	Ship3
	Ship4
	ShipSpecial1
	numShips
)

var AllShips = []Ship{Ship1, Ship2, Ship3, Ship4, ShipSpecial1}

var shipKeys = [numShips]string{"ship1", "ship2", "ship3", "ship4", "shipSpecial1"}

func (s Ship) Key() string {
	if s < 0 || s >= numShips {
		return fmt.Sprintf("ship(%d)", int(s))
	}
	return shipKeys[s]
}

func ParseShip(key string) (Ship, error) {
	key = strings.TrimSpace(key)
	for i, k := range shipKeys {
		if k == key {
			return Ship(i), nil
		}
	}
	return 0, fmt.Errorf("unknown ship %q", key)
}

// Balances holds one quantity per resource. Vector operations never mutate
// their operands.
type Balances [numResources]*big.Int

func NewBalances() Balances {
	var b Balances
	for i := range b {
		b[i] = new(big.Int)
	}
	return b
}

// BalancesOf builds a vector from plain integers in AllResources order.
func BalancesOf(tier1, tier2, tier3, special1 int64) Balances {
	return Balances{big.NewInt(tier1), big.NewInt(tier2), big.NewInt(tier3), big.NewInt(special1)}
}

func (b Balances) Get(r Resource) *big.Int {
	if b[r] == nil {
		return new(big.Int)
	}
	return b[r]
}

func (b Balances) Clone() Balances {
	out := NewBalances()
	for i := range b {
		if b[i] != nil {
			out[i].Set(b[i])
		}
	}
	return out
}

func (b Balances) Add(o Balances) Balances {
	out := NewBalances()
	for i := range out {
		out[i].Add(b.Get(Resource(i)), o.Get(Resource(i)))
	}
	return out
}

func (b Balances) Sub(o Balances) Balances {
	out := NewBalances()
	for i := range out {
		out[i].Sub(b.Get(Resource(i)), o.Get(Resource(i)))
	}
	return out
}

func (b Balances) Scale(n *big.Int) Balances {
	out := NewBalances()
	for i := range out {
		out[i].Mul(b.Get(Resource(i)), n)
	}
	return out
}

func (b Balances) Equal(o Balances) bool {
	for i := range b {
		if b.Get(Resource(i)).Cmp(o.Get(Resource(i))) != 0 {
			return false
		}
	}
	return true
}

// Negative returns the resources whose quantity is below zero.
func (b Balances) Negative() []Resource {
	var out []Resource
	for _, r := range AllResources {
		if b.Get(r).Sign() < 0 {
			out = append(out, r)
		}
	}
	return out
}

// Missing returns the resources for which have is smaller than cost.
func Missing(cost, have Balances) []Resource {
	var out []Resource
	for _, r := range AllResources {
		if cost.Get(r).Cmp(have.Get(r)) > 0 {
			out = append(out, r)
		}
	}
	return out
}

func (b Balances) String() string {
	parts := make([]string, 0, numResources)
	for _, r := range AllResources {
		parts = append(parts, r.Key()+"="+b.Get(r).String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Production holds the mine level of each tiered resource.
type Production [numMines]int

func (p Production) Level(r Resource) int {
	if !r.IsMine() {
		return 0
	}
	return p[r]
}

func (p Production) With(r Resource, level int) Production {
	p[r] = level
	return p
}

// Fleet holds one ship count per ship type.
type Fleet [numShips]*big.Int

func NewFleet() Fleet {
	var f Fleet
	for i := range f {
		f[i] = new(big.Int)
	}
	return f
}

func (f Fleet) Get(s Ship) *big.Int {
	if f[s] == nil {
		return new(big.Int)
	}
	return f[s]
}

func (f Fleet) Clone() Fleet {
	out := NewFleet()
	for i := range f {
		if f[i] != nil {
			out[i].Set(f[i])
		}
	}
	return out
}

func (f Fleet) Add(o Fleet) Fleet {
	out := NewFleet()
	for i := range out {
		out[i].Add(f.Get(Ship(i)), o.Get(Ship(i)))
	}
	return out
}

func (f Fleet) Sub(o Fleet) Fleet {
	out := NewFleet()
	for i := range out {
		out[i].Sub(f.Get(Ship(i)), o.Get(Ship(i)))
	}
	return out
}

func (f Fleet) Neg() Fleet {
	out := NewFleet()
	for i := range out {
		out[i].Neg(f.Get(Ship(i)))
	}
	return out
}

func (f Fleet) Equal(o Fleet) bool {
	for i := range f {
		if f.Get(Ship(i)).Cmp(o.Get(Ship(i))) != 0 {
			return false
		}
	}
	return true
}

func (f Fleet) IsZero() bool {
	for i := range f {
		if f.Get(Ship(i)).Sign() != 0 {
			return false
		}
	}
	return true
}

// ClampNegative zeroes negative components and reports which ships were clamped.
func (f Fleet) ClampNegative() (Fleet, []Ship) {
	out := f.Clone()
	var clamped []Ship
	for _, s := range AllShips {
		if out[s].Sign() < 0 {
			out[s].SetInt64(0)
			clamped = append(clamped, s)
		}
	}
	return out, clamped
}

func (f Fleet) String() string {
	parts := make([]string, 0, numShips)
	for _, s := range AllShips {
		parts = append(parts, s.Key()+"="+f.Get(s).String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}
