package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "shipsbot/internal/cli"
	"shipsbot/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := ""

	root := &cobra.Command{
		Use:          "shipsctl",
		Short:        "Operator CLI for the shipsbot admin API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", "", "API base URL (defaults to the saved session, then SHIPSCTL_API_BASE_URL)")

	root.AddCommand(
		newLoginCmd(&apiBase, cfg.APIBaseURL),
		newLogoutCmd(),
		newStateCmd(&apiBase),
		newWatchCmd(&apiBase),
		newUpgradeCmd(&apiBase),
		newBuildCmd(&apiBase),
		newRaidCmd(&apiBase),
		newNotificationsCmd(&apiBase),
		newRunCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newClient builds a client from the saved session. --api overrides the
// saved base URL.
func newClient(apiBase *string) (*cl.Client, cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return nil, sess, err
	}
	base := strings.TrimSpace(*apiBase)
	if base == "" {
		base = sess.APIBaseURL
	}
	return cl.NewClient(strings.TrimRight(base, "/"), sess.AdminToken), sess, nil
}

func newLoginCmd(apiBase *string, defaultBase string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save the API address and admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := strings.TrimSpace(*apiBase)
			if base == "" {
				entered, err := promptOptional(fmt.Sprintf("API base URL [%s]", defaultBase))
				if err != nil {
					return err
				}
				base = entered
			}
			if base == "" {
				base = defaultBase
			}
			token, err := promptRequired("Admin token")
			if err != nil {
				return err
			}
			channelID, err := promptOptional("Default notification channel ID (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := cl.NewClient(strings.TrimRight(base, "/"), token)
			if err := client.Health(ctx); err != nil {
				return fmt.Errorf("api not reachable at %s: %w", base, err)
			}
			if err := cl.SaveSession(cl.Session{
				APIBaseURL: strings.TrimRight(base, "/"),
				AdminToken: token,
				ChannelID:  channelID,
			}); err != nil {
				return err
			}
			printSuccess("Session saved.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newStateCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "state <player-id>",
		Short: "Show a player's live state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := client.State(ctx, args[0])
			if err != nil {
				return err
			}
			renderState(st)
			return nil
		},
	}
}

func newUpgradeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <player-id> <tier1|tier2|tier3>",
		Short: "Queue a mine upgrade for a player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Upgrade(ctx, args[0], args[1], sess.Target())
			if err != nil {
				return err
			}
			return renderQueued(out, fmt.Sprintf("Upgrade of %s to level %v queued.", args[1], out["new_level"]))
		},
	}
}

func newBuildCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "build <player-id> <ship> <count>",
		Short: "Queue ship construction for a player",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Build(ctx, args[0], args[1], args[2], sess.Target())
			if err != nil {
				return err
			}
			return renderQueued(out, fmt.Sprintf("%s x %s queued.", comma(args[2]), args[1]))
		},
	}
}

func newRaidCmd(apiBase *string) *cobra.Command {
	var duration string
	cmd := &cobra.Command{
		Use:   "raid <player-id> [location-id]",
		Short: "Show raid status, or dispatch the player's fleet",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if len(args) == 1 {
				out, err := client.RaidStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return renderRaidStatus(out)
			}
			locationID, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("location id must be a number")
			}
			out, err := client.Raid(ctx, args[0], locationID, duration, sess.Target())
			if err != nil {
				return err
			}
			return renderRaidDispatched(out)
		},
	}
	cmd.Flags().StringVar(&duration, "duration", "short", "raid duration: short, medium or long")
	return cmd
}

func newNotificationsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "notifications <player-id>",
		Short: "List a player's pending notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.Notifications(ctx, args[0])
			if err != nil {
				return err
			}
			return renderNotifications(out)
		},
	}
}

func newRunCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <player-id> <command...>",
		Short: "Run a chat command as a player and print the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := newClient(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			reply, err := client.Command(ctx, args[0], strings.Join(args[1:], " "), sess.Target())
			if err != nil {
				return err
			}
			fmt.Println(strings.ReplaceAll(reply, "```", ""))
			return nil
		},
	}
}
