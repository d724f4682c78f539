// Package actions provides actions that the voltgate CLI can execute
package actions

import (
	"fmt"
	"strconv"

	"gopkg.in/urfave/cli.v1"

	"github.com/volta-protocol/voltgate/build"
	"github.com/volta-protocol/voltgate/cmd/voltgate/flags"
	"github.com/volta-protocol/voltgate/db"
)

var log = build.AddSubLogger("ACTN")

// Db returns commands for handling DB access and migrations
func Db() cli.Command {
	return cli.Command{
		Name:  "db",
		Usage: "Database related commands",
		Flags: flags.Db,
		Subcommands: []cli.Command{
			{
				Name:    "up",
				Aliases: []string{"mu"},
				Usage:   "migrates the database up",
				Action: func(c *cli.Context) (err error) {
					conf := flags.ReadDbConf(c)
					database, err := db.Open(conf)
					if err != nil {
						return err
					}
					defer func() {
						if dbErr := database.Close(); dbErr != nil {
							err = dbErr
						}
					}()

					err = database.MigrateUp()

					return
				},
			},
			{
				Name:    "down",
				Aliases: []string{"md"},
				Usage:   "down x, migrates the database down x number of steps",
				Action: func(c *cli.Context) (err error) {
					if c.NArg() != 1 {
						return cli.NewExitError(
							"You need to specify a number of steps to migrate down",
							22,
						)
					}
					conf := flags.ReadDbConf(c)
					database, err := db.Open(conf)
					if err != nil {
						return err
					}
					defer func() {
						if dbErr := database.Close(); dbErr != nil {
							err = dbErr
						}
					}()
					steps, err := strconv.Atoi(c.Args().First())
					if err != nil {
						return err
					}
					err = database.MigrateDown(steps)

					return err
				},
			},
			{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "check migrations status and version number",
				Action: func(c *cli.Context) (err error) {
					conf := flags.ReadDbConf(c)
					database, err := db.Open(conf)
					if err != nil {
						return err
					}
					defer func() {
						if dbErr := database.Close(); dbErr != nil {
							err = dbErr
						}
					}()

					status, err := database.Status()
					if err != nil {
						return err
					}

					fmt.Printf("migration version: %d dirty: %t\n", status.Version, status.Dirty)
					return nil
				},
			},
		}}
}
