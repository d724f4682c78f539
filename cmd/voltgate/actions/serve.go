package actions

import (
	"fmt"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/volta-protocol/voltgate/api"
	"github.com/volta-protocol/voltgate/async"
	"github.com/volta-protocol/voltgate/atomiq"
	"github.com/volta-protocol/voltgate/build"
	"github.com/volta-protocol/voltgate/chipipay"
	"github.com/volta-protocol/voltgate/cmd/voltgate/flags"
	"github.com/volta-protocol/voltgate/db"
	"github.com/volta-protocol/voltgate/models/flows"
	"github.com/volta-protocol/voltgate/orchestrator"
)

func Serve() cli.Command {
	serve := cli.Command{
		Name:  "serve",
		Usage: "Starts the Lightning to Starknet payment gateway API",
		Action: func(c *cli.Context) error {
			level, err := build.ToLogLevel(c.GlobalString("logging.level"))
			if err != nil {
				return err
			}

			chipiTransport, chipiConf := flags.ReadChipiPayConf(c)
			atomiqTransport, atomiqConf := flags.ReadAtomiqConf(c)

			var invoices *chipipay.Client
			var bridges *atomiq.Client
			var store flows.Store

			if c.Bool("mock") {
				log.Warn("Running with mock providers, no real payments will settle")
				invoices = chipipay.NewClient(chipipay.NewMockTransport(), chipiConf)
				bridges = atomiq.NewClient(atomiq.NewMockTransport(), atomiqConf)
				store = flows.NewMemoryStore()
			} else {
				if chipiTransport.APIKey == "" {
					return cli.NewExitError("chipipay.api-key is required unless running with --mock", 1)
				}

				dbConf := flags.ReadDbConf(c)
				database, err := db.Open(dbConf)
				if err != nil {
					return err
				}
				defer func() { err = database.Close() }()

				// verify we can reach the DB before serving anything
				err = async.Retry(5, time.Second, func() error {
					_, statusErr := database.Status()
					return statusErr
				})
				if err != nil {
					return fmt.Errorf("could not query DB migration status: %w", err)
				}
				if c.Bool("db.migrateup") {
					if err := database.MigrateUp(); err != nil {
						return err
					}
				}

				invoices = chipipay.NewClient(&chipiTransport, chipiConf)
				bridges = atomiq.NewClient(&atomiqTransport, atomiqConf)
				store = flows.NewDBStore(database)
			}

			appBaseURL := c.String("app.base-url")
			orch := orchestrator.New(invoices, bridges, store, orchestrator.Config{
				WebhookBaseURL:       appBaseURL,
				MinimumConfirmations: c.Int("min-confirmations"),
			})

			config := api.Config{
				LogLevel:           level,
				Network:            c.GlobalString("network"),
				Environment:        c.GlobalString("environment"),
				WebhookBaseURL:     appBaseURL,
				ProviderConfigured: chipiTransport.APIKey != "" && chipiConf.WebhookSecret != "",
				Debug:              c.Bool("debug"),
			}

			a, err := api.NewApp(orch, config)
			if err != nil {
				return err
			}

			address := fmt.Sprintf(":%d", c.Int("port"))
			return a.Router.Run(address)
		},
	}

	baseFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "port",
			Value: 5000,
			Usage: "Port number to listen on",
		},
		cli.StringFlag{
			Name:   "app.base-url",
			Usage:  "Externally reachable base URL of this service, used for webhook callbacks",
			Value:  "http://127.0.0.1:5000",
			EnvVar: "VOLTGATE_BASE_URL",
		},
		cli.IntFlag{
			Name:  "min-confirmations",
			Usage: "Starknet confirmations required before a mint is treated as final",
			Value: orchestrator.DefaultMinimumConfirmations,
		},
		cli.BoolFlag{
			Name:  "mock",
			Usage: "Use in-process mock providers and an in-memory flow store",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "Expose diagnostic fields on the config route",
		},
	}

	serve.Flags = flags.Concat(baseFlags, flags.ChipiPay, flags.Atomiq, flags.Db)
	return serve
}
