package main

import (
	"os"

	"github.com/st3v3lyrious/quiznetic/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
