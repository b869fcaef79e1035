package main

import (
	"os"

	"github.com/watzon/docwebhooks/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
