package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed content.yaml
var defaultContent []byte

// Keys used by the content file. The order is the display order.
var (
	ResourceKeys      = []string{"tier1", "tier2", "tier3", "special1"}
	MineKeys          = []string{"tier1", "tier2", "tier3"}
	ShipKeys          = []string{"ship1", "ship2", "ship3", "ship4", "shipSpecial1"}
	RaidDurationKeys  = []string{"short", "medium", "long"}
	maxItemTierNumber = 6
)

// Content is the static game data: display names, curve parameters, ship costs,
// the item catalog and raid loot tables.
type Content struct {
	CommandPrefix string            `yaml:"command_prefix"`
	Resources     map[string]string `yaml:"resources"`
	Ships         map[string]string `yaml:"ships"`
	ItemTiers     []string          `yaml:"item_tiers"`

	Starting StartingState `yaml:"starting"`

	Income        map[string]IncomeCurve  `yaml:"income"`
	Upgrades      map[string]UpgradeCurve `yaml:"upgrades"`
	ShipCosts     map[string]ShipCost     `yaml:"ship_costs"`
	MaxBuildCount int64                   `yaml:"max_build_count"`

	Items []ItemDefinition `yaml:"items"`
	Raids RaidContent      `yaml:"raids"`
}

type StartingState struct {
	Balances map[string]int64 `yaml:"balances"`
	Levels   map[string]int   `yaml:"levels"`
}

// CurveParams describes round(multiplier * base^(level*exponent)).
type CurveParams struct {
	Multiplier float64 `yaml:"multiplier"`
	Base       float64 `yaml:"base"`
	Exponent   float64 `yaml:"exponent"`
}

type IncomeCurve struct {
	Scale float64     `yaml:"scale"`
	Curve CurveParams `yaml:"curve"`
}

type UpgradeCurve struct {
	Duration       CurveParams            `yaml:"duration_ms"`
	DurationFactor float64                `yaml:"duration_factor"`
	Cost           map[string]CurveParams `yaml:"cost"`
}

type ShipCost struct {
	Cost      map[string]int64 `yaml:"cost"`
	BuildTime time.Duration    `yaml:"build_time"`
}

type ItemDefinition struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Tiered      bool   `yaml:"tiered"`
}

type RaidContent struct {
	Durations map[string]RaidDuration `yaml:"durations"`
	Locations []RaidLocation          `yaml:"locations"`
}

type RaidDuration struct {
	Length time.Duration `yaml:"length"`
	// Reward per unit of time relative to the short raid.
	Efficiency float64 `yaml:"efficiency"`
}

type RaidLocation struct {
	ID           int       `yaml:"id"`
	Name         string    `yaml:"name"`
	RequiresItem int       `yaml:"requires_item"`
	Loot         LootTable `yaml:"loot"`
}

type LootTable struct {
	Rolls       int        `yaml:"rolls"`
	EmptyWeight int        `yaml:"empty_weight"`
	Slots       []LootSlot `yaml:"slots"`
}

// LootSlot yields between MinCount and MaxCount units of one item. When
// TierWeights is set every unit rolls its own tier (index 0 is tier 1).
type LootSlot struct {
	Weight      int    `yaml:"weight"`
	ItemID      int    `yaml:"item_id"`
	MinCount    int64  `yaml:"min_count"`
	MaxCount    int64  `yaml:"max_count"`
	TierWeights []int  `yaml:"tier_weights"`
	Metadata    string `yaml:"metadata"`
}

// DefaultContent returns the content bundled with the binary.
func DefaultContent() (Content, error) {
	return ParseContent(defaultContent)
}

// LoadContent reads a content file, falling back to the bundled content when
// path is empty.
func LoadContent(path string) (Content, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultContent()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Content{}, err
	}
	c, err := ParseContent(raw)
	if err != nil {
		return Content{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func ParseContent(raw []byte) (Content, error) {
	var c Content
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("content.yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Content) Validate() error {
	if strings.TrimSpace(c.CommandPrefix) == "" {
		return fmt.Errorf("command_prefix is required")
	}
	for _, k := range ResourceKeys {
		if strings.TrimSpace(c.Resources[k]) == "" {
			return fmt.Errorf("resources.%s name is required", k)
		}
	}
	for _, k := range ShipKeys {
		if strings.TrimSpace(c.Ships[k]) == "" {
			return fmt.Errorf("ships.%s name is required", k)
		}
	}
	if len(c.ItemTiers) != maxItemTierNumber {
		return fmt.Errorf("item_tiers must name %d tiers, got %d", maxItemTierNumber, len(c.ItemTiers))
	}
	for _, k := range MineKeys {
		inc, ok := c.Income[k]
		if !ok {
			return fmt.Errorf("income.%s is required", k)
		}
		if err := inc.Curve.validate("income." + k); err != nil {
			return err
		}
		up, ok := c.Upgrades[k]
		if !ok {
			return fmt.Errorf("upgrades.%s is required", k)
		}
		if err := up.Duration.validate("upgrades." + k + ".duration_ms"); err != nil {
			return err
		}
		if up.DurationFactor <= 0 {
			return fmt.Errorf("upgrades.%s.duration_factor must be > 0", k)
		}
		for res, p := range up.Cost {
			if !contains(ResourceKeys, res) {
				return fmt.Errorf("upgrades.%s.cost: unknown resource %q", k, res)
			}
			if err := p.validate("upgrades." + k + ".cost." + res); err != nil {
				return err
			}
		}
		if lvl, ok := c.Starting.Levels[k]; ok && lvl < 1 {
			return fmt.Errorf("starting.levels.%s must be >= 1", k)
		}
	}
	for k, v := range c.Starting.Balances {
		if !contains(ResourceKeys, k) {
			return fmt.Errorf("starting.balances: unknown resource %q", k)
		}
		if v < 0 {
			return fmt.Errorf("starting.balances.%s must be >= 0", k)
		}
	}
	for ship, sc := range c.ShipCosts {
		if !contains(ShipKeys, ship) {
			return fmt.Errorf("ship_costs: unknown ship %q", ship)
		}
		if sc.BuildTime <= 0 {
			return fmt.Errorf("ship_costs.%s.build_time must be > 0", ship)
		}
		for res, v := range sc.Cost {
			if !contains(ResourceKeys, res) || v < 0 {
				return fmt.Errorf("ship_costs.%s.cost.%s is invalid", ship, res)
			}
		}
	}
	if c.MaxBuildCount < 1 {
		return fmt.Errorf("max_build_count must be >= 1")
	}

	items := make(map[int]ItemDefinition, len(c.Items))
	for _, it := range c.Items {
		if _, dup := items[it.ID]; dup {
			return fmt.Errorf("multiple entries for item id %d", it.ID)
		}
		items[it.ID] = it
	}
	for _, k := range RaidDurationKeys {
		d, ok := c.Raids.Durations[k]
		if !ok || d.Length <= 0 || d.Efficiency <= 0 {
			return fmt.Errorf("raids.durations.%s needs a positive length and efficiency", k)
		}
	}
	if len(c.Raids.Locations) == 0 {
		return fmt.Errorf("raids.locations must not be empty")
	}
	locs := make(map[int]bool, len(c.Raids.Locations))
	for _, loc := range c.Raids.Locations {
		if locs[loc.ID] {
			return fmt.Errorf("multiple raid locations with id %d", loc.ID)
		}
		locs[loc.ID] = true
		if loc.RequiresItem != 0 {
			if _, ok := items[loc.RequiresItem]; !ok {
				return fmt.Errorf("raid location %d requires unknown item %d", loc.ID, loc.RequiresItem)
			}
		}
		if err := loc.Loot.validate(items); err != nil {
			return fmt.Errorf("raid location %d: %w", loc.ID, err)
		}
	}
	return nil
}

func (p CurveParams) validate(path string) error {
	if p.Multiplier < 0 || p.Base <= 0 {
		return fmt.Errorf("%s: multiplier must be >= 0 and base > 0", path)
	}
	return nil
}

func (t LootTable) validate(items map[int]ItemDefinition) error {
	if t.Rolls < 0 || t.EmptyWeight < 0 {
		return fmt.Errorf("loot rolls and empty_weight must be >= 0")
	}
	total := t.EmptyWeight
	for i, s := range t.Slots {
		if s.Weight <= 0 {
			return fmt.Errorf("loot slot %d: weight must be > 0", i)
		}
		def, ok := items[s.ItemID]
		if !ok {
			return fmt.Errorf("loot slot %d: unknown item %d", i, s.ItemID)
		}
		if s.MinCount < 0 || s.MaxCount < s.MinCount {
			return fmt.Errorf("loot slot %d: bad count range [%d, %d]", i, s.MinCount, s.MaxCount)
		}
		if len(s.TierWeights) > 0 {
			if !def.Tiered {
				return fmt.Errorf("loot slot %d: item %d is not tiered", i, s.ItemID)
			}
			if len(s.TierWeights) > maxItemTierNumber {
				return fmt.Errorf("loot slot %d: too many tier weights", i)
			}
		}
		total += s.Weight
	}
	if t.Rolls > 0 && total == 0 {
		return fmt.Errorf("loot table has rolls but no weight")
	}
	return nil
}

// ResourceName returns the display name for a resource key.
func (c Content) ResourceName(key string) string {
	if n, ok := c.Resources[key]; ok {
		return n
	}
	return key
}

func (c Content) ShipName(key string) string {
	if n, ok := c.Ships[key]; ok {
		return n
	}
	return key
}

// TierName returns the display name of an item tier; tier 0 is untiered.
func (c Content) TierName(tier int) string {
	if tier < 1 || tier > len(c.ItemTiers) {
		return ""
	}
	return c.ItemTiers[tier-1]
}

func (c Content) Item(id int) (ItemDefinition, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return ItemDefinition{}, false
}

func (c Content) RaidLocation(id int) (RaidLocation, bool) {
	for _, loc := range c.Raids.Locations {
		if loc.ID == id {
			return loc, true
		}
	}
	return RaidLocation{}, false
}

func contains(keys []string, k string) bool {
	for _, v := range keys {
		if v == k {
			return true
		}
	}
	return false
}
