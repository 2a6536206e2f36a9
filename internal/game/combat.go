package game

import "shipsbot/internal/config"

// CombatResolver decides what a raid does to the fleet that flies it. A nil
// delta means the fleet comes back unchanged.
type CombatResolver interface {
	ResolveCombat(fleet Fleet, location config.RaidLocation, duration RaidDuration) (*FleetDelta, error)
}

// NoCombat is the resolver used until raids have real fights.
type NoCombat struct{}

func (NoCombat) ResolveCombat(Fleet, config.RaidLocation, RaidDuration) (*FleetDelta, error) {
	return nil, nil
}
