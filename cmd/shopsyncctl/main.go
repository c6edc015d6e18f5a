package main

import (
	"os"

	"github.com/calebrowe/shop_sync/cmd/shopsyncctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
