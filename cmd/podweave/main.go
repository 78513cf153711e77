// Package main is the entry point for the podweave CLI.
package main

import (
	"os"

	"github.com/podweave/podweave/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
