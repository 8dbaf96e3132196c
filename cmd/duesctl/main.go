package main

import (
	"os"
)

func main() {
	if err := newRootCommand(defaultApp()).Execute(); err != nil {
		os.Exit(1)
	}
}
