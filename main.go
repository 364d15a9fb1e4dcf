package main

import (
	"os"

	"github.com/storewatch/storewatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
