package main

import (
	"os"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "sinkholed"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
