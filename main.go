package main

import (
	"os"

	"github.com/Ogstra/ogs-tracker-stats/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
