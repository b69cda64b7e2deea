// Package main is the dbrowse command.
package main

import (
	"os"

	"github.com/leapstack-labs/dbrowse/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
