package main

import (
	"os"

	"github.com/pdisakar/content-assets/cmd/assetctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
