package main

import (
	"os"

	"github.com/burrowlabs/burrow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
