package main

import (
	"os"

	"github.com/rasyid/kantor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
