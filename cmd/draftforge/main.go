package main

import (
	"os"

	"github.com/draftforge/draftforge/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
