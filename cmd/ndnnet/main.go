package main

import (
	"os"

	"github.com/named-data/ndnnet/cmd"
)

func main() {
	if err := cmd.CmdNDNnet.Execute(); err != nil {
		os.Exit(1)
	}
}
