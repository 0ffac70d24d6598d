package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Relaydeck/Relaydeck/internal/channels"
	"github.com/Relaydeck/Relaydeck/internal/config"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure the relay and pair WhatsApp",
	Run:   runSetup,
}

func runSetup(cmd *cobra.Command, args []string) {
	reader := bufio.NewReader(os.Stdin)

	printHeader("📲 Relaydeck Setup")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config warning: %v (using defaults)\n", err)
	}

	fmt.Print("Enable the WhatsApp transport? (y/N): ")
	cfg.Channels.WhatsApp.Enabled = readYesNo(reader)

	if cfg.Channels.WhatsApp.Enabled {
		fmt.Print("Relay group chats too? (y/N): ")
		cfg.Channels.WhatsApp.AllowGroups = readYesNo(reader)
	}

	if cfg.Draft.APIKey == "" {
		fmt.Print("Draft backend API key (blank to keep env/config): ")
		if key := readLine(reader); key != "" {
			cfg.Draft.APIKey = key
		}
	}

	if cfg.Channels.Slack.BotToken == "" {
		fmt.Print("Slack bot token (blank to skip the operator console): ")
		if token := readLine(reader); token != "" {
			cfg.Channels.Slack.BotToken = token
			fmt.Print("Slack app-level token (socket mode): ")
			cfg.Channels.Slack.AppToken = readLine(reader)
			fmt.Print("Slack operator channel ID: ")
			cfg.Channels.Slack.OperatorChannel = readLine(reader)
			cfg.Channels.Slack.Enabled = true
		}
	}

	if err := config.Save(cfg); err != nil {
		fmt.Printf("Config save error: %v\n", err)
	} else {
		fmt.Println("Config updated.")
	}

	if !cfg.Channels.WhatsApp.Enabled {
		fmt.Println("WhatsApp stays disabled. Re-run setup to pair later.")
		return
	}

	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		fmt.Printf("Data dir error: %v\n", err)
		return
	}
	st, err := store.Open(cfg.Paths.StorePath)
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		return
	}
	defer st.Close()

	// Pairing runs inside Start when no linked device exists yet; the QR
	// code lands next to the session db for headless hosts.
	wa := channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, cfg.Paths, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := wa.Start(ctx); err != nil {
		fmt.Printf("Pairing error: %v\n", err)
		return
	}
	wa.Stop()

	fmt.Println("WhatsApp linked.")
	fmt.Println("Next: run `relaydeck run` to start relaying.")
}

func readYesNo(r *bufio.Reader) bool {
	line := strings.ToLower(readLine(r))
	return strings.HasPrefix(line, "y")
}

func readLine(r *bufio.Reader) string {
	text, _ := r.ReadString('\n')
	return strings.TrimSpace(text)
}
