// Package main is the entry point for the FirstClaim claim engine.
package main

import (
	"fmt"
	"os"

	"github.com/firstclaim/claim-engine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
