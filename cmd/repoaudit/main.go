package main

import (
	"os"

	"repoaudit/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
