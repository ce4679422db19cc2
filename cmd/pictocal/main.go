package main

import (
	"os"

	"pictocal/internal/commands"
	appLog "pictocal/internal/log"
)

func main() {
	if err := commands.New().Execute(); err != nil {
		appLog.Error("command failed", err)
		os.Exit(1)
	}
}
