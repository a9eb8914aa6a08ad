package main

import (
	"os"

	"packt/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
