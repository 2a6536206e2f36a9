package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"shipsbot/internal/game"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type raidPayload struct {
	ID         int64             `json:"id"`
	LocationID int               `json:"location_id"`
	Location   string            `json:"location"`
	Duration   string            `json:"duration"`
	Departure  time.Time         `json:"departure"`
	Return     time.Time         `json:"return"`
	Fleet      map[string]string `json:"fleet"`
	Loot       []game.Item       `json:"loot"`
}

type raidStatusPayload struct {
	Now       time.Time    `json:"now"`
	Locations []int        `json:"locations"`
	Active    *raidPayload `json:"active"`
	Last      *raidPayload `json:"last"`
}

type notificationsPayload struct {
	Now           time.Time `json:"now"`
	Notifications []struct {
		ID        int64     `json:"id"`
		Kind      string    `json:"kind"`
		Payload   string    `json:"payload"`
		ChannelID string    `json:"channel_id"`
		FireAt    time.Time `json:"fire_at"`
	} `json:"notifications"`
}

type queuedPayload struct {
	Cost           map[string]string `json:"cost"`
	StartTime      time.Time         `json:"start_time"`
	CompletionTime time.Time         `json:"completion_time"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func renderState(st game.StateView) {
	accent.Printf("\n== %s (as of %s) ==\n", st.PlayerID, st.Now.Format(time.RFC3339))

	fmt.Printf("%-10s %16s %8s %12s\n", "RESOURCE", "BALANCE", "LEVEL", "INCOME/S")
	for _, r := range game.AllResources {
		level, income := "-", "-"
		if r.IsMine() {
			level = fmt.Sprint(st.Production[r.Key()])
			income = st.Income[r.Key()]
		}
		fmt.Printf("%-10s %16s %8s %12s\n", r.Key(), comma(st.Balances[r.Key()]), level, income)
	}

	fmt.Println()
	accent.Println("Fleet")
	for _, s := range game.AllShips {
		fmt.Printf("%-14s %16s\n", s.Key(), comma(st.Fleet[s.Key()]))
	}

	if len(st.Upgrades) > 0 || len(st.Builds) > 0 {
		fmt.Println()
		accent.Println("Queued jobs")
		for _, j := range st.Upgrades {
			fmt.Printf("upgrade %-14s done %s\n", j.Kind, until(st.Now, j.End))
		}
		for _, j := range st.Builds {
			fmt.Printf("build   %-14s x%-10s done %s\n", j.Kind, comma(j.Count), until(st.Now, j.End))
		}
	}

	if st.Raid != nil {
		fmt.Println()
		warn.Printf("Raiding location %d (%s), back %s\n", st.Raid.LocationID, st.Raid.Duration, until(st.Now, st.Raid.Return))
	}

	if len(st.Inventory) > 0 {
		fmt.Println()
		accent.Println("Inventory")
		for _, it := range st.Inventory {
			fmt.Printf("item %-6d tier %-2d %s\n", it.ItemID, it.Tier, comma(it.Count.String()))
		}
	}
	fmt.Println()
}

func renderQueued(raw map[string]any, message string) error {
	q, err := decodeInto[queuedPayload](raw)
	if err != nil {
		return err
	}
	printSuccess(message)
	fmt.Printf("Cost:      %s\n", costLine(q.Cost))
	fmt.Printf("Starts:    %s\n", q.StartTime.Format(time.RFC3339))
	fmt.Printf("Completes: %s (%s)\n", q.CompletionTime.Format(time.RFC3339), humanize.Time(q.CompletionTime))
	return nil
}

func renderRaidStatus(raw map[string]any) error {
	st, err := decodeInto[raidStatusPayload](raw)
	if err != nil {
		return err
	}
	switch {
	case st.Active != nil:
		warn.Printf("Raiding location %d (%s), back %s\n", st.Active.LocationID, st.Active.Duration, until(st.Now, st.Active.Return))
	case st.Last != nil:
		printInfo(fmt.Sprintf("Last raid: location %d (%s), returned %s", st.Last.LocationID, st.Last.Duration, until(st.Now, st.Last.Return)))
		renderLoot(st.Last.Loot)
	default:
		printInfo("No raids yet.")
	}
	fmt.Printf("Unlocked locations: %v\n", st.Locations)
	return nil
}

func renderRaidDispatched(raw map[string]any) error {
	r, err := decodeInto[raidPayload](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Raid #%d to %s dispatched, returns %s.", r.ID, r.Location, r.Return.Format(time.RFC3339)))
	keys := make([]string, 0, len(r.Fleet))
	for k := range r.Fleet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-14s %12s\n", k, comma(r.Fleet[k]))
	}
	renderLoot(r.Loot)
	return nil
}

func renderLoot(loot []game.Item) {
	if len(loot) == 0 {
		printInfo("Loot: nothing")
		return
	}
	accent.Println("Loot")
	for _, it := range loot {
		fmt.Printf("  item %-6d tier %-2d %s\n", it.ItemID, it.Tier, comma(it.Count.String()))
	}
}

func renderNotifications(raw map[string]any) error {
	p, err := decodeInto[notificationsPayload](raw)
	if err != nil {
		return err
	}
	if len(p.Notifications) == 0 {
		printInfo("No pending notifications.")
		return nil
	}
	fmt.Printf("%-8s %-20s %-24s %-20s %s\n", "ID", "KIND", "PAYLOAD", "CHANNEL", "FIRES")
	for _, n := range p.Notifications {
		channel := n.ChannelID
		if channel == "" {
			channel = "-"
		}
		fmt.Printf("%-8d %-20s %-24s %-20s %s\n", n.ID, n.Kind, truncate(n.Payload, 24), channel, until(p.Now, n.FireAt))
	}
	return nil
}

func costLine(cost map[string]string) string {
	parts := make([]string, 0, len(cost))
	for _, r := range game.AllResources {
		if v, ok := cost[r.Key()]; ok {
			parts = append(parts, comma(v)+" "+r.Key())
		}
	}
	if len(parts) == 0 {
		return "free"
	}
	return strings.Join(parts, ", ")
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// comma formats an integer string with thousands separators. Anything that
// does not parse is returned as is.
func comma(v string) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok {
		if v == "" {
			return "0"
		}
		return v
	}
	return humanize.BigComma(n)
}

// until renders t relative to the store clock reading now.
func until(now, t time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
