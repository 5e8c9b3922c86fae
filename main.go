package main

import (
	"os"

	"github.com/aquamarket/dispatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
