package main

import (
	"os"

	"github.com/pxaudio/pxctl/internal/cli"
)

func main() {
	os.Exit(cli.New().Run(os.Args[1:]))
}
