package game

import (
	"math/big"
	"time"
)

// Origin identifies who issued a command and where replies and
// notifications for it should go.
type Origin struct {
	PlayerID  string
	GuildID   string
	ChannelID string
}

type ProductionState struct {
	Balances   Balances
	Production Production
	// Carry holds the fractional income of each mine not yet credited to
	// Balances.
	Carry Carry
}

type ProductionCheckpoint struct {
	ProductionState
	Time time.Time
}

type FleetCheckpoint struct {
	Fleet Fleet
	Time  time.Time
}

type InventoryCheckpoint struct {
	Items []Item
	Time  time.Time
}

type ProductionJob struct {
	ID       int64
	Resource Resource
	Start    time.Time
	End      time.Time
}

// FleetJob builds Count ships of one type, completing linearly over
// [Start, End].
type FleetJob struct {
	ID    int64
	Ship  Ship
	Count *big.Int
	Start time.Time
	End   time.Time
}

type FleetTransaction struct {
	ID      int64
	ApplyAt time.Time
	Delta   Fleet
}

// Item is a stack of identical items. Tier 0 means untiered and an empty
// MetadataKey means no metadata.
type Item struct {
	ItemID      int      `json:"item_id"`
	Tier        int      `json:"tier,omitempty"`
	MetadataKey string   `json:"metadata,omitempty"`
	Count       *big.Int `json:"count"`
}

type itemKey struct {
	id       int
	tier     int
	metadata string
}

func (i Item) key() itemKey {
	return itemKey{id: i.ItemID, tier: i.Tier, metadata: i.MetadataKey}
}

// InventoryTransaction adds Item.Count (which may be negative) to the stack
// once ApplyAt has passed.
type InventoryTransaction struct {
	ID      int64
	ApplyAt time.Time
	Item    Item
}

// RaidDuration is one of the configured raid lengths.
type RaidDuration string

const (
	RaidShort  RaidDuration = "short"
	RaidMedium RaidDuration = "medium"
	RaidLong   RaidDuration = "long"
)

var RaidDurations = []RaidDuration{RaidShort, RaidMedium, RaidLong}

func ParseRaidDuration(s string) (RaidDuration, bool) {
	for _, d := range RaidDurations {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// FleetDelta is a signed change to a fleet produced by combat.
type FleetDelta struct {
	Change Fleet `json:"change"`
}

// RaidResult is rolled at dispatch and stored with the raid.
type RaidResult struct {
	Loot       []Item      `json:"loot"`
	FleetDelta *FleetDelta `json:"fleet_delta,omitempty"`
}

type Raid struct {
	ID         int64
	PlayerID   string
	Duration   RaidDuration
	LocationID int
	Departure  time.Time
	Return     time.Time
	Fleet      Fleet
	Result     RaidResult
}

type NotificationKind string

const (
	NotifyProductionUpgrade NotificationKind = "production_upgrade"
	NotifyShipBuild         NotificationKind = "ship_build"
	NotifyRaidReturn        NotificationKind = "raid_return"
	NotifyReminder          NotificationKind = "reminder"
)

type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusFired     NotificationStatus = "fired"
	StatusDropped   NotificationStatus = "dropped"
	StatusCancelled NotificationStatus = "cancelled"
)

// Notification is a one-shot message due at FireAt (store clock). Payload
// depends on Kind: "tier1-5" for upgrades, "ship1-10" for builds, the raid id
// for raid returns and free text for reminders.
type Notification struct {
	ID        int64
	PlayerID  string
	Kind      NotificationKind
	Payload   string
	GuildID   string
	ChannelID string
	FireAt    time.Time
	Status    NotificationStatus
	CreatedAt time.Time
}

// PeriodicReminder repeats Payload on a cron schedule until deleted.
type PeriodicReminder struct {
	ID        int64
	PlayerID  string
	GuildID   string
	ChannelID string
	Payload   string
	Schedule  string
	CreatedAt time.Time
}

// Handle refers to a scheduled timer.
type Handle struct {
	Periodic bool
	ID       int64
}

func NotificationHandle(id int64) Handle { return Handle{ID: id} }

func PeriodicHandle(id int64) Handle { return Handle{Periodic: true, ID: id} }

type UpgradeResult struct {
	Now            time.Time
	Resource       Resource
	NewLevel       int
	Cost           Balances
	StartTime      time.Time
	CompletionTime time.Time
}

type BuildResult struct {
	Now            time.Time
	Ship           Ship
	Count          *big.Int
	Cost           Balances
	StartTime      time.Time
	CompletionTime time.Time
}

type DispatchResult struct {
	Raid     Raid
	Location string
}

// PlayerState is the live view of a player computed at Now.
type PlayerState struct {
	PlayerID     string
	Now          time.Time
	Balances     Balances
	Production   Production
	Fleet        Fleet
	Inventory    []Item
	Upgrades     []ProductionJob
	Builds       []FleetJob
	ActiveRaid   *Raid
	IncomePerSec [numMines]string
}

type UpgradeQuote struct {
	Resource   Resource
	FromLevel  int
	Cost       Balances
	Duration   time.Duration
	Affordable bool
}

type RaidStatus struct {
	Now       time.Time
	Active    *Raid
	Last      *Raid
	Locations []int
}

// StateView is the JSON shape of PlayerState served by the admin API.
type StateView struct {
	PlayerID   string            `json:"player_id"`
	Now        time.Time         `json:"now"`
	Balances   map[string]string `json:"balances"`
	Production map[string]int    `json:"production"`
	Income     map[string]string `json:"income_per_sec"`
	Fleet      map[string]string `json:"fleet"`
	Inventory  []Item            `json:"inventory"`
	Upgrades   []JobView         `json:"upgrades"`
	Builds     []JobView         `json:"builds"`
	Raid       *RaidView         `json:"raid,omitempty"`
}

type JobView struct {
	Kind  string    `json:"kind"`
	Count string    `json:"count,omitempty"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type RaidView struct {
	ID         int64     `json:"id"`
	LocationID int       `json:"location_id"`
	Duration   string    `json:"duration"`
	Departure  time.Time `json:"departure"`
	Return     time.Time `json:"return"`
}

// View converts the state into its JSON shape.
func (p PlayerState) View() StateView {
	v := StateView{
		PlayerID:   p.PlayerID,
		Now:        p.Now,
		Balances:   make(map[string]string, numResources),
		Production: make(map[string]int, numMines),
		Income:     make(map[string]string, numMines),
		Fleet:      make(map[string]string, numShips),
		Inventory:  p.Inventory,
		Upgrades:   []JobView{},
		Builds:     []JobView{},
	}
	for _, r := range AllResources {
		v.Balances[r.Key()] = p.Balances.Get(r).String()
	}
	for _, r := range Mines {
		v.Production[r.Key()] = p.Production.Level(r)
		v.Income[r.Key()] = p.IncomePerSec[r]
	}
	for _, s := range AllShips {
		v.Fleet[s.Key()] = p.Fleet.Get(s).String()
	}
	if v.Inventory == nil {
		v.Inventory = []Item{}
	}
	for _, j := range p.Upgrades {
		v.Upgrades = append(v.Upgrades, JobView{Kind: j.Resource.Key(), Start: j.Start, End: j.End})
	}
	for _, j := range p.Builds {
		v.Builds = append(v.Builds, JobView{Kind: j.Ship.Key(), Count: j.Count.String(), Start: j.Start, End: j.End})
	}
	if p.ActiveRaid != nil {
		v.Raid = &RaidView{
			ID:         p.ActiveRaid.ID,
			LocationID: p.ActiveRaid.LocationID,
			Duration:   string(p.ActiveRaid.Duration),
			Departure:  p.ActiveRaid.Departure,
			Return:     p.ActiveRaid.Return,
		}
	}
	return v
}
