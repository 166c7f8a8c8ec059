// Package main provides the scenariogen command-line client.
package main

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/scenariogen/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
