// Package main provides the entry point for the kiln CLI.
package main

import (
	"fmt"
	"os"

	"github.com/kilnworks/kiln/cmd/kiln/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
