// Package main provides the entry point for the indexd CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/indexd/cmd/indexd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
