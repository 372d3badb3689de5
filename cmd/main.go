package main

import (
	"log"

	"github.com/BIwashi/canseries/app/convert"
	"github.com/BIwashi/canseries/app/stats"
	syncsignals "github.com/BIwashi/canseries/app/sync"
	"github.com/BIwashi/canseries/pkg/cli"
)

func main() {
	c := cli.NewCLI(
		"canseries",
		"Decode CAN captures with a DBC file into signal time series.",
	)

	c.AddCommands(
		convert.NewCommand(),
		syncsignals.NewCommand(),
		stats.NewCommand(),
	)

	if err := c.Run(); err != nil {
		log.Fatal(err)
	}
}
