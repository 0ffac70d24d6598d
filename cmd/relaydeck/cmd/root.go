package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/Relaydeck/Relaydeck/cmd/relaydeck/cmd.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		" ____      _                 _           _\n" +
		"|  _ \\ ___| | __ _ _   _  __| | ___  ___| | __\n" +
		"| |_) / _ \\ |/ _` | | | |/ _` |/ _ \\/ __| |/ /\n" +
		"|  _ <  __/ | (_| | |_| | (_| |  __/ (__|   <\n" +
		"|_| \\_\\___|_|\\__,_|\\__, |\\__,_|\\___|\\___|_|\\_\\\n" +
		"                   |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "relaydeck",
	Short: "Relaydeck - human-approved WhatsApp reply relay",
	Long: color.CyanString(logo) +
		"\nWatches your WhatsApp chats, drafts replies with an AI backend and routes\nevery draft to an operator for approval before anything goes out.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
}
