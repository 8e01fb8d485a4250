// Package main provides the cartonctl CLI, a thin shell over the
// carton client layer for inspecting and maintaining databases.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
