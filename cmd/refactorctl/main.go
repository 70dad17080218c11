package main

import (
	"os"

	"github.com/GTWhalley/Refactorio/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
