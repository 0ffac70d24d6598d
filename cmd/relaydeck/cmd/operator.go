package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Relaydeck/Relaydeck/internal/config"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

// openStore loads the config and opens the relay database for the
// one-shot operator commands.
func openStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return nil, err
	}
	return store.Open(cfg.Paths.StorePath)
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage the subscription tags shown on approval cards",
}

var tagSetCmd = &cobra.Command{
	Use:   "set <chat> <free|basic|premium>",
	Short: "Tag a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		tag := strings.ToLower(args[1])
		if err := st.SetSubscriptionTag(args[0], tag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tagged %s as %s.\n", args[0], tag)
		return nil
	},
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tagged conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		subs, err := st.ListSubscriptions()
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tagged conversations.")
			return nil
		}
		for _, s := range subs {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", s.Tag, s.ChatJID)
		}
		return nil
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <chat>",
	Short: "Lift a blacklist entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		removed, err := st.Unblacklist(args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s was not blacklisted.\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unblocked %s.\n", args[0])
		return nil
	},
}

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage blocked conversations",
}

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blacklisted conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		entries, err := st.ListBlacklist()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Blacklist is empty.")
			return nil
		}
		for _, e := range entries {
			line := e.ChatJID
			if e.Reason != "" {
				line += "  (" + e.Reason + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add <chat> [reason]",
	Short: "Blacklist a conversation directly",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		reason := strings.Join(args[1:], " ")
		if err := st.Blacklist(args[0], reason); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Blacklisted %s.\n", args[0])
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List open approval cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		recs, err := st.ListPendingApprovals()
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No cards waiting.")
			return nil
		}
		for _, r := range recs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s): %s\n", r.ID, r.SenderName, r.ChatJID, firstLine(r.Inbound))
		}
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > 80 {
		return string(r[:77]) + "..."
	}
	return s
}

func init() {
	tagCmd.AddCommand(tagSetCmd)
	tagCmd.AddCommand(tagListCmd)
	blacklistCmd.AddCommand(blacklistListCmd)
	blacklistCmd.AddCommand(blacklistAddCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(blacklistCmd)
	rootCmd.AddCommand(pendingCmd)
}
