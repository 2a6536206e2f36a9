// Package commands parses chat messages into game operations and renders the
// replies. It is transport-agnostic: the Discord gateway and the admin API
// both feed it.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"shipsbot/internal/config"
	"shipsbot/internal/game"
	"shipsbot/internal/metrics"

	"golang.org/x/time/rate"
)

// Game is the part of game.Service the commands drive.
type Game interface {
	Content() config.Content
	State(ctx context.Context, playerID string) (game.PlayerState, error)
	UpgradeCosts(ctx context.Context, playerID string) ([]game.UpgradeQuote, error)
	QueueProductionUpgrade(ctx context.Context, origin game.Origin, r game.Resource) (game.UpgradeResult, error)
	QueueFleetProduction(ctx context.Context, origin game.Origin, ship game.Ship, count *big.Int) (game.BuildResult, error)
	DispatchRaid(ctx context.Context, origin game.Origin, locationID int, duration game.RaidDuration) (game.DispatchResult, error)
	RaidStatus(ctx context.Context, playerID string) (game.RaidStatus, error)
	SetReminder(ctx context.Context, origin game.Origin, after time.Duration, text string) (game.Notification, error)
	PendingNotifications(ctx context.Context, playerID string) (game.NotificationList, error)
	CancelReminder(ctx context.Context, playerID string, id int64) error
	CreatePeriodicReminder(ctx context.Context, origin game.Origin, text, schedule string) (game.PeriodicReminder, error)
	PeriodicReminders(ctx context.Context, playerID string) ([]game.PeriodicReminder, error)
	DeletePeriodicReminder(ctx context.Context, playerID string, id int64) error
}

// Request is one incoming chat message.
type Request struct {
	Origin  game.Origin
	Content string
}

// UsageError is returned by handlers when the arguments do not parse. The
// reply shows the usage line.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "Usage: `" + e.Usage + "`"
}

type handler func(ctx context.Context, req Request, args []string) (string, error)

type command struct {
	name  string
	usage string
	help  string
	run   handler
}

type Dispatcher struct {
	game    Game
	content config.Content
	prefix  string
	log     *slog.Logger
	metrics *metrics.Metrics

	commands map[string]*command
	ordered  []*command

	limitMu      sync.Mutex
	limiters     map[string]*rate.Limiter
	commandRate  rate.Limit
	commandBurst int
}

type Option func(*Dispatcher)

// WithRateLimit limits each player to r commands per second with the given
// burst. Zero disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(d *Dispatcher) {
		d.commandRate = rate.Limit(r)
		d.commandBurst = burst
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func New(g Game, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	content := g.Content()
	prefix := strings.TrimSpace(content.CommandPrefix)
	if prefix == "" {
		prefix = "-s"
	}
	d := &Dispatcher{
		game:     g,
		content:  content,
		prefix:   prefix,
		log:      logger,
		commands: make(map[string]*command),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.register([]string{"bal", "balance", "balances"}, "bal", "Show your resource balances.", d.balances)
	d.register([]string{"prod", "production"}, "prod", "Show your mines and running upgrades.", d.production)
	d.register([]string{"up", "upgrade"}, "up [mine]", "Upgrade a mine, or list upgrade costs.", d.upgrade)
	d.register([]string{"f", "fleet"}, "fleet", "Show your fleet and ships under construction.", d.fleet)
	d.register([]string{"build"}, "build <ship> <count>", "Queue ships for construction.", d.build)
	d.register([]string{"raid"}, "raid [location] [short|medium|long]", "Send your fleet raiding, or show raid status.", d.raid)
	d.register([]string{"inv", "inventory"}, "inv", "Show your items.", d.inventory)
	d.register([]string{"remind"}, "remind <in> <message>", "Remind you after a delay like 90m or 2d.", d.remind)
	d.register([]string{"reminders"}, "reminders", "List your pending notifications.", d.reminders)
	d.register([]string{"unremind"}, "unremind <id>", "Cancel a pending reminder.", d.unremind)
	d.register([]string{"alarm"}, "alarm <message> | <cron>", "Create a repeating reminder.", d.alarm)
	d.register([]string{"alarms"}, "alarms", "List your repeating reminders.", d.alarms)
	d.register([]string{"deletealarm"}, "deletealarm <id>", "Delete a repeating reminder.", d.deleteAlarm)
	d.register([]string{"help"}, "help", "Show this message.", d.help)
	return d
}

func (d *Dispatcher) register(names []string, usage, help string, run handler) {
	c := &command{name: names[0], usage: d.prefix + " " + usage, help: help, run: run}
	for _, n := range names {
		d.commands[n] = c
	}
	d.ordered = append(d.ordered, c)
}

func (d *Dispatcher) Prefix() string { return d.prefix }

// Handle runs the command in req. handled is false when the message is not
// addressed to the bot.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (reply string, handled bool) {
	fields := strings.Fields(req.Content)
	if len(fields) == 0 || fields[0] != d.prefix {
		return "", false
	}
	if len(fields) == 1 {
		fields = append(fields, "help")
	}
	name := strings.ToLower(fields[1])
	cmd, ok := d.commands[name]
	if !ok {
		return fmt.Sprintf("Unknown command `%s`. Try `%s help`.", name, d.prefix), true
	}
	if !d.allow(req.Origin.PlayerID) {
		d.metrics.CommandDone(cmd.name, "rate_limited", 0)
		return "Slow down! Try again in a few seconds.", true
	}

	started := time.Now()
	reply, err := cmd.run(ctx, req, fields[2:])
	outcome := "ok"
	if err != nil {
		reply, outcome = d.errorReply(cmd, req, err)
	}
	d.metrics.CommandDone(cmd.name, outcome, time.Since(started))
	return reply, true
}

func (d *Dispatcher) allow(playerID string) bool {
	if d.commandRate <= 0 {
		return true
	}
	d.limitMu.Lock()
	defer d.limitMu.Unlock()
	limiter, ok := d.limiters[playerID]
	if !ok {
		limiter = rate.NewLimiter(d.commandRate, d.commandBurst)
		d.limiters[playerID] = limiter
	}
	return limiter.Allow()
}

func (d *Dispatcher) errorReply(cmd *command, req Request, err error) (string, string) {
	var usage *UsageError
	var insufficient *game.InsufficientFundsError
	var busy *game.RaidInProgressError
	switch {
	case errors.As(err, &usage):
		return usage.Error(), "usage"
	case errors.As(err, &insufficient):
		return fmt.Sprintf("Not enough %s. That costs %s.", d.resourceList(insufficient.Missing), d.formatCost(insufficient.Cost)), "rejected"
	case errors.As(err, &busy):
		return fmt.Sprintf("Your fleet is already out raiding; it returns in %s.", formatDuration(busy.Remaining)), "rejected"
	case errors.Is(err, game.ErrEmptyFleet):
		return "You have no ships to send. Build some with `" + d.prefix + " build`.", "rejected"
	case errors.Is(err, game.ErrLocationLocked):
		return "You have not unlocked that location yet.", "rejected"
	case errors.Is(err, game.ErrUnauthorized):
		return "You do not own that alarm.", "rejected"
	case errors.Is(err, game.ErrNotFound):
		return "Nothing found with that id.", "rejected"
	case errors.Is(err, game.ErrInvalidInput):
		return capitalize(strings.TrimPrefix(err.Error(), game.ErrInvalidInput.Error()+": ")) + ".", "rejected"
	case errors.Is(err, game.ErrContention), errors.Is(err, game.ErrLockTimeout):
		d.log.Warn("command hit contention", "command", cmd.name, "player_id", req.Origin.PlayerID, "err", err)
		return "Your empire is busy with another order. Try again in a moment.", "busy"
	}
	d.log.Error("command failed", "command", cmd.name, "player_id", req.Origin.PlayerID, "err", err)
	return "Something went wrong while handling that command.", "error"
}

func (d *Dispatcher) resourceList(rs []game.Resource) string {
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, d.content.ResourceName(r.Key()))
	}
	return strings.Join(names, ", ")
}

func (d *Dispatcher) help(ctx context.Context, req Request, args []string) (string, error) {
	var b strings.Builder
	b.WriteString("```\n")
	for _, c := range d.ordered {
		fmt.Fprintf(&b, "%-40s %s\n", c.usage, c.help)
	}
	b.WriteString("```")
	return b.String(), nil
}

// parseResource accepts a resource key or its display name.
func (d *Dispatcher) parseResource(s string) (game.Resource, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range game.AllResources {
		if s == strings.ToLower(r.Key()) || s == strings.ToLower(d.content.ResourceName(r.Key())) {
			return r, true
		}
	}
	return 0, false
}

// parseShip accepts a ship key or its display name, singular or plural.
func (d *Dispatcher) parseShip(s string) (game.Ship, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, ship := range game.AllShips {
		name := strings.ToLower(d.content.ShipName(ship.Key()))
		if s == strings.ToLower(ship.Key()) || s == name || s == name+"s" {
			return ship, true
		}
	}
	return 0, false
}

func (d *Dispatcher) parseLocation(s string) (int, bool) {
	if id, err := strconv.Atoi(s); err == nil {
		return id, true
	}
	s = strings.ToLower(s)
	for _, loc := range d.content.Raids.Locations {
		if strings.ReplaceAll(strings.ToLower(loc.Name), " ", "") == s {
			return loc.ID, true
		}
	}
	return 0, false
}

// parseDelay reads Go durations plus a "d" suffix for days.
func parseDelay(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("bad day count %q", days)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	return id, err == nil && id > 0
}

func sortedLocations(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Ints(out)
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
