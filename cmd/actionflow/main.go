package main

import (
	"os"

	"github.com/ZanzyTHEbar/actionflow/cmd/actionflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
