package main

import (
	"github.com/quincybrooks/siteslot/internal/platform/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		config.Exitf("slotctl: %v", err)
	}
}
