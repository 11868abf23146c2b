package main

import (
	"os"

	"github.com/gamelake/igdb-pipeline/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
