package main

import (
	"os"

	"github.com/raveheart1/specflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
