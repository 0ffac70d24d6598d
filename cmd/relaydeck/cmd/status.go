package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Relaydeck/Relaydeck/internal/config"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ Relaydeck Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 Relaydeck Status")
		fmt.Printf("Version: %s\n", version)

		if path, err := config.ConfigPath(); err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + path + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (run 'relaydeck setup' first)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:  ? Unable to load: %v\n", err)
			return
		}
		if cfg.Draft.APIKey != "" {
			fmt.Println("API Key: ✓ Found")
		} else {
			fmt.Println("API Key: ✗ Not found")
		}

		if cfg.Channels.WhatsApp.Enabled {
			fmt.Println("WhatsApp: ✓ Enabled")
		} else {
			fmt.Println("WhatsApp: ✗ Disabled")
		}
		if _, err := os.Stat(cfg.Paths.WASessionPath); err == nil {
			fmt.Println("WhatsApp Link: ✓ Session found (no QR needed)")
		} else {
			fmt.Println("WhatsApp Link: ✗ No session (run 'relaydeck setup')")
			fmt.Println("WhatsApp QR:   " + cfg.Paths.QRPath)
		}

		if cfg.Channels.Slack.Enabled {
			fmt.Println("Slack:   ✓ Enabled (channel " + cfg.Channels.Slack.OperatorChannel + ")")
		} else {
			fmt.Println("Slack:   ✗ Disabled")
		}

		// Only peek at the store when it already exists; status should
		// never create one.
		if _, err := os.Stat(cfg.Paths.StorePath); err == nil {
			if st, err := store.Open(cfg.Paths.StorePath); err == nil {
				if pending, err := st.ListPendingApprovals(); err == nil {
					fmt.Printf("Pending: %d card(s) awaiting review\n", len(pending))
				}
				st.Close()
			}
		}

		fmt.Println("Status:  Ready")
	},
}
