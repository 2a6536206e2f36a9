package commands

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"shipsbot/internal/game"
	"shipsbot/internal/notify"
)

func (d *Dispatcher) balances(ctx context.Context, req Request, args []string) (string, error) {
	st, err := d.game.State(ctx, req.Origin.PlayerID)
	if err != nil {
		return "", err
	}
	return d.formatBalances(st.Balances), nil
}

func (d *Dispatcher) production(ctx context.Context, req Request, args []string) (string, error) {
	st, err := d.game.State(ctx, req.Origin.PlayerID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("```\n")
	for _, r := range game.Mines {
		fmt.Fprintf(&b, "%s Mine: Level %d (%s/sec)\n", d.content.ResourceName(r.Key()), st.Production.Level(r), st.IncomePerSec[r])
	}
	if len(st.Upgrades) > 0 {
		// Levels advance as queued jobs complete, in order.
		levels := st.Production
		running := make(map[game.Resource]bool, len(game.Mines))
		b.WriteString("\nUpgrades:\n")
		for _, j := range st.Upgrades {
			// Each mine has its own queue; its first started job is the one running.
			label := "Pending"
			if !running[j.Resource] && !j.Start.After(st.Now) {
				label = "Running"
				running[j.Resource] = true
			}
			from := levels.Level(j.Resource)
			levels = levels.With(j.Resource, from+1)
			fmt.Fprintf(&b, "%s: %s Mine level %d -> %d, completes %s\n", label, d.content.ResourceName(j.Resource.Key()), from, from+1, relTime(st.Now, j.End))
		}
	}
	b.WriteString("```")
	return b.String(), nil
}

func (d *Dispatcher) upgrade(ctx context.Context, req Request, args []string) (string, error) {
	if len(args) == 0 {
		quotes, err := d.game.UpgradeCosts(ctx, req.Origin.PlayerID)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		b.WriteString("```\n")
		for _, q := range quotes {
			mark := ""
			if !q.Affordable {
				mark = " (can't afford)"
			}
			fmt.Fprintf(&b, "%s Level %d -> %d: %s, takes %s%s\n", d.content.ResourceName(q.Resource.Key()), q.FromLevel, q.FromLevel+1, d.formatCost(q.Cost), formatDuration(q.Duration), mark)
		}
		b.WriteString("```")
		return b.String(), nil
	}
	r, ok := d.parseResource(strings.Join(args, " "))
	if !ok || !r.IsMine() {
		return "", &UsageError{Usage: d.prefix + " up <mine type>"}
	}
	res, err := d.game.QueueProductionUpgrade(ctx, req.Origin, r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Upgrade to %s Mine level %d queued for %s! Will complete %s.",
		d.content.ResourceName(r.Key()), res.NewLevel, d.formatCost(res.Cost), relTime(res.Now, res.CompletionTime)), nil
}

func (d *Dispatcher) fleet(ctx context.Context, req Request, args []string) (string, error) {
	st, err := d.game.State(ctx, req.Origin.PlayerID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(d.formatFleet(st.Fleet))
	if len(st.Builds) > 0 {
		b.WriteString("\nUnder construction:\n```\n")
		for _, j := range st.Builds {
			done := game.ShipsCompleted(j, st.Now)
			fmt.Fprintf(&b, "%s: %s/%s, completes %s\n", d.content.ShipName(j.Ship.Key()), formatCount(done), formatCount(j.Count), relTime(st.Now, j.End))
		}
		b.WriteString("```")
	}
	if st.ActiveRaid != nil {
		fmt.Fprintf(&b, "\nOut raiding, back %s.", relTime(st.Now, st.ActiveRaid.Return))
	}
	return b.String(), nil
}

func (d *Dispatcher) build(ctx context.Context, req Request, args []string) (string, error) {
	usage := &UsageError{Usage: d.prefix + " build <ship type> <count>"}
	if len(args) < 2 {
		return "", usage
	}
	ship, ok := d.parseShip(strings.Join(args[:len(args)-1], " "))
	if !ok {
		return "", usage
	}
	count, ok := new(big.Int).SetString(strings.ReplaceAll(args[len(args)-1], ",", ""), 10)
	if !ok {
		return "", usage
	}
	res, err := d.game.QueueFleetProduction(ctx, req.Origin, ship, count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Queued %s %s for %s. Construction completes %s.",
		formatCount(res.Count), d.content.ShipName(ship.Key()), d.formatCost(res.Cost), relTime(res.Now, res.CompletionTime)), nil
}

func (d *Dispatcher) raid(ctx context.Context, req Request, args []string) (string, error) {
	if len(args) == 0 {
		return d.raidStatus(ctx, req)
	}
	locationID, ok := d.parseLocation(args[0])
	if !ok {
		return "", &UsageError{Usage: d.prefix + " raid <location> [short|medium|long]"}
	}
	duration := game.RaidShort
	if len(args) > 1 {
		parsed, ok := game.ParseRaidDuration(strings.ToLower(args[1]))
		if !ok {
			return "", &UsageError{Usage: d.prefix + " raid <location> [short|medium|long]"}
		}
		duration = parsed
	}
	res, err := d.game.DispatchRaid(ctx, req.Origin, locationID, duration)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s ships sent on a %s raid to %s. They return %s.",
		formatCount(game.FleetSize(res.Raid.Fleet)), res.Raid.Duration, res.Location, relTime(res.Raid.Departure, res.Raid.Return)), nil
}

func (d *Dispatcher) raidStatus(ctx context.Context, req Request) (string, error) {
	st, err := d.game.RaidStatus(ctx, req.Origin.PlayerID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	switch {
	case st.Active != nil:
		fmt.Fprintf(&b, "Your fleet is raiding %s and returns %s.\n", d.locationName(st.Active.LocationID), relTime(st.Now, st.Active.Return))
	case st.Last != nil:
		b.WriteString(notify.RenderRaidReturn(d.content, req.Origin.PlayerID, *st.Last))
		b.WriteString("\n")
	default:
		b.WriteString("You have not raided yet.\n")
	}
	b.WriteString("Locations:\n```\n")
	for _, id := range sortedLocations(st.Locations) {
		fmt.Fprintf(&b, "%d: %s\n", id, d.locationName(id))
	}
	b.WriteString("```")
	return b.String(), nil
}

func (d *Dispatcher) inventory(ctx context.Context, req Request, args []string) (string, error) {
	st, err := d.game.State(ctx, req.Origin.PlayerID)
	if err != nil {
		return "", err
	}
	if len(st.Inventory) == 0 {
		return "Your inventory is empty.", nil
	}
	lines := make([]string, 0, len(st.Inventory))
	for _, it := range st.Inventory {
		lines = append(lines, notify.ItemLine(d.content, it))
	}
	return "```\n" + strings.Join(lines, "\n") + "\n```", nil
}

func (d *Dispatcher) remind(ctx context.Context, req Request, args []string) (string, error) {
	usage := &UsageError{Usage: d.prefix + " remind <in> <message>"}
	if len(args) < 2 {
		return "", usage
	}
	after, err := parseDelay(args[0])
	if err != nil {
		return "", usage
	}
	n, err := d.game.SetReminder(ctx, req.Origin, after, strings.Join(args[1:], " "))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder #%d set for %s.", n.ID, relTime(n.CreatedAt, n.FireAt)), nil
}

func (d *Dispatcher) reminders(ctx context.Context, req Request, args []string) (string, error) {
	pending, err := d.game.PendingNotifications(ctx, req.Origin.PlayerID)
	if err != nil {
		return "", err
	}
	if len(pending.Notifications) == 0 {
		return "You have no pending notifications.", nil
	}
	var b strings.Builder
	b.WriteString("```\n")
	for _, n := range pending.Notifications {
		fmt.Fprintf(&b, "#%d %s %s: %s\n", n.ID, n.Kind, relTime(pending.Now, n.FireAt), n.Payload)
	}
	b.WriteString("```")
	return b.String(), nil
}

func (d *Dispatcher) unremind(ctx context.Context, req Request, args []string) (string, error) {
	if len(args) != 1 {
		return "", &UsageError{Usage: d.prefix + " unremind <id>"}
	}
	id, ok := parseID(args[0])
	if !ok {
		return "", &UsageError{Usage: d.prefix + " unremind <id>"}
	}
	if err := d.game.CancelReminder(ctx, req.Origin.PlayerID, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Cancelled reminder #%d.", id), nil
}

func (d *Dispatcher) alarm(ctx context.Context, req Request, args []string) (string, error) {
	message, schedule, ok := strings.Cut(strings.Join(args, " "), "|")
	message, schedule = strings.TrimSpace(message), strings.TrimSpace(schedule)
	if !ok || message == "" || schedule == "" {
		return "", &UsageError{Usage: d.prefix + " alarm <your message> | <cron string>"}
	}
	r, err := d.game.CreatePeriodicReminder(ctx, req.Origin, message, schedule)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully created periodic reminder with id: %d", r.ID), nil
}

func (d *Dispatcher) alarms(ctx context.Context, req Request, args []string) (string, error) {
	list, err := d.game.PeriodicReminders(ctx, req.Origin.PlayerID)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "You have no periodic reminders set up", nil
	}
	lines := make([]string, 0, len(list))
	for _, r := range list {
		lines = append(lines, fmt.Sprintf("%d: %s (%s)", r.ID, r.Payload, r.Schedule))
	}
	return strings.Join(lines, "\n"), nil
}

func (d *Dispatcher) deleteAlarm(ctx context.Context, req Request, args []string) (string, error) {
	if len(args) != 1 {
		return "", &UsageError{Usage: d.prefix + " deletealarm <id>"}
	}
	id, ok := parseID(args[0])
	if !ok {
		return "", &UsageError{Usage: d.prefix + " deletealarm <id>"}
	}
	if err := d.game.DeletePeriodicReminder(ctx, req.Origin.PlayerID, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully deleted reminder with id: %d", id), nil
}

func (d *Dispatcher) locationName(id int) string {
	if loc, ok := d.content.RaidLocation(id); ok {
		return loc.Name
	}
	return fmt.Sprintf("location %d", id)
}
