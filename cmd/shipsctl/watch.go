package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	cl "shipsbot/internal/cli"
	"shipsbot/internal/game"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	raidStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func newWatchCmd(apiBase *string) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch <player-id>",
		Short: "Live view of a player's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			if every < time.Second {
				every = time.Second
			}
			_, err = tea.NewProgram(newWatchModel(client, args[0], every), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 5*time.Second, "refresh interval")
	return cmd
}

type stateMsg struct {
	state game.StateView
	err   error
	at    time.Time
}

type refreshMsg struct{}

type watchModel struct {
	client   *cl.Client
	playerID string
	every    time.Duration

	spinner spinner.Model
	loading bool
	state   *game.StateView
	fetched time.Time
	err     error
}

func newWatchModel(client *cl.Client, playerID string, every time.Duration) watchModel {
	return watchModel{
		client:   client,
		playerID: playerID,
		every:    every,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle)),
		loading:  true,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m watchModel) fetch() tea.Cmd {
	client, playerID := m.client, m.playerID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		st, err := client.State(ctx, playerID)
		return stateMsg{state: st, err: err, at: time.Now()}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.loading {
				m.loading = true
				return m, m.fetch()
			}
		}
		return m, nil
	case stateMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			st := msg.state
			m.state = &st
			m.fetched = msg.at
		}
		return m, tea.Tick(m.every, func(time.Time) tea.Msg { return refreshMsg{} })
	case refreshMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	header := titleStyle.Render("shipsctl watch " + m.playerID)
	if m.loading {
		header += " " + m.spinner.View()
	}
	b.WriteString(header + "\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n\n")
	}
	if m.state == nil {
		b.WriteString(dimStyle.Render("loading...") + "\n")
		return b.String()
	}

	// Advance the store clock by the time since the fetch so countdowns move
	// between refreshes.
	st := *m.state
	now := st.Now.Add(time.Since(m.fetched))

	var res strings.Builder
	res.WriteString(titleStyle.Render("Resources") + "\n")
	for _, r := range game.AllResources {
		line := fmt.Sprintf("%-9s %14s", r.Key(), comma(st.Balances[r.Key()]))
		if r.IsMine() {
			line += dimStyle.Render(fmt.Sprintf("  L%-3d %s/s", st.Production[r.Key()], st.Income[r.Key()]))
		}
		res.WriteString(line + "\n")
	}

	var fleet strings.Builder
	fleet.WriteString(titleStyle.Render("Fleet") + "\n")
	for _, s := range game.AllShips {
		fleet.WriteString(fmt.Sprintf("%-13s %12s\n", s.Key(), comma(st.Fleet[s.Key()])))
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(strings.TrimRight(res.String(), "\n")),
		" ",
		boxStyle.Render(strings.TrimRight(fleet.String(), "\n")),
	))
	b.WriteString("\n")

	if len(st.Upgrades) > 0 || len(st.Builds) > 0 {
		var jobs strings.Builder
		jobs.WriteString(titleStyle.Render("Queue") + "\n")
		for _, j := range st.Upgrades {
			jobs.WriteString(fmt.Sprintf("upgrade %-12s %s\n", j.Kind, countdown(now, j.End)))
		}
		for _, j := range st.Builds {
			jobs.WriteString(fmt.Sprintf("build   %-12s x%-8s %s\n", j.Kind, comma(j.Count), countdown(now, j.End)))
		}
		b.WriteString(boxStyle.Render(strings.TrimRight(jobs.String(), "\n")) + "\n")
	}
	if st.Raid != nil {
		b.WriteString(raidStyle.Render(fmt.Sprintf("Raiding location %d (%s), back in %s", st.Raid.LocationID, st.Raid.Duration, countdown(now, st.Raid.Return))) + "\n")
	}

	b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("updated %s ago, r to refresh, q to quit", time.Since(m.fetched).Round(time.Second))) + "\n")
	return b.String()
}

func countdown(now, end time.Time) string {
	left := end.Sub(now)
	if left <= 0 {
		return "done"
	}
	return left.Round(time.Second).String()
}
