package main

import (
	"os"

	"github.com/meshrpc/meshrpc-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
