package main

import (
	"os"

	"github.com/MEKXH/letsping/cmd/letsping/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
