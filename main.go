package main

import (
	"os"

	"git.unix.lgbt/diamondburned/bodewell/cli"
)

func main() {
	os.Exit(cli.Main(os.Args))
}
