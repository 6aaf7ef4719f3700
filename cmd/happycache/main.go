package main

import (
	"os"

	"github.com/hashbrowncipher/happycache/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
