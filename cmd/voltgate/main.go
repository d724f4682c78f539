package main

import (
	"fmt"
	"os"

	_ "github.com/lib/pq" // Import postgres
	"gopkg.in/urfave/cli.v1"

	"github.com/volta-protocol/voltgate/build"
	"github.com/volta-protocol/voltgate/cmd/voltgate/actions"
	"github.com/volta-protocol/voltgate/cmd/voltgate/flags"
)

var log = build.AddSubLogger("MAIN")

func main() {
	app := cli.NewApp()
	app.Name = "voltgate"
	app.Usage = "Lightning to Starknet payment gateway for minting VUSD"
	app.Version = build.Version()
	app.EnableBashCompletion = true
	// have log levels be set for all commands/subcommands
	app.Before = func(c *cli.Context) error {
		level, err := build.ToLogLevel(c.GlobalString("logging.level"))
		if err != nil {
			return err
		}
		existingLevel := log.Level
		if existingLevel != level {
			build.SetLogLevels(level)
		}

		logDir := c.GlobalString("logging.directory")
		if err = build.SetLogDir(logDir); err != nil {
			return err
		}
		return nil
	}

	app.Flags = flags.CommonFlags
	app.Commands = []cli.Command{
		actions.Db(),
		actions.Serve(),
	}

	err := app.Run(os.Args)
	if err != nil {
		// only print error if something was supplied to voltgate, help
		// message is printed anyways
		if len(os.Args) > 1 {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
