package main

import (
	"os"

	"github.com/Relaydeck/Relaydeck/cmd/relaydeck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
