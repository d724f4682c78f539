// Package flags provides functionality for managing flags for voltgate
package flags

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/volta-protocol/voltgate/atomiq"
	"github.com/volta-protocol/voltgate/chipipay"
	"github.com/volta-protocol/voltgate/db"
)

// Concat concatenates the given list of flags, without mutating them
func Concat(first []cli.Flag, rest ...[]cli.Flag) []cli.Flag {
	var copied = make([]cli.Flag, len(first))
	_ = copy(copied, first)
	for _, r := range rest {
		copied = append(copied, r...)
	}
	return copied
}

// CommonFlags is a set of flags that all commands take
var CommonFlags = Concat([]cli.Flag{
	cli.StringFlag{
		Name:  "network",
		Usage: "the Lightning network payments settle on, mainnet or testnet",
		Value: "testnet",
	},
	cli.StringFlag{
		Name:   "environment",
		Usage:  "deployment environment, development or production",
		Value:  "development",
		EnvVar: "VOLTGATE_ENVIRONMENT",
	},
}, logging)

// ReadDbConf reads the appropriate flags for connecting to the DB
func ReadDbConf(c *cli.Context) db.DatabaseConfig {
	conf := db.DatabaseConfig{
		User:           c.String("db.user"),
		Password:       c.String("db.password"),
		Host:           c.String("db.host"),
		Port:           c.Int("db.port"),
		Name:           c.String("db.name"),
		MigrationsPath: c.String("db.migrationspath"),
	}

	// if no scheme was supplied to migrations path, default to file:
	parsedPath, err := url.Parse(conf.MigrationsPath)
	if err != nil {
		panic(fmt.Errorf("could not parse migrations path into URL: %w", err))
	}
	if len(parsedPath.Scheme) == 0 {
		conf.MigrationsPath = path.Join("file:", conf.MigrationsPath)
	}

	// flags belong to a CLI context, and subcommands don't see their
	// parent's flag values. recurse upwards until we find the context
	// where the DB flags are defined
	if conf.User == "" {
		parent := c.Parent()
		if parent == nil {
			panic("Reached root CLI context without hitting valid DB credentials!")
		}
		return ReadDbConf(parent)
	}
	return conf
}

// ReadChipiPayConf reads the flags for constructing the Chipi Pay client
// and transport.
func ReadChipiPayConf(c *cli.Context) (chipipay.HTTPTransport, chipipay.Config) {
	transport := chipipay.HTTPTransport{
		BaseURL: c.String("chipipay.base-url"),
		APIKey:  c.String("chipipay.api-key"),
	}
	conf := chipipay.Config{
		WebhookSecret: c.String("chipipay.webhook-secret"),
	}
	return transport, conf
}

// ReadAtomiqConf reads the flags for constructing the Atomiq client and
// transport.
func ReadAtomiqConf(c *cli.Context) (atomiq.HTTPTransport, atomiq.Config) {
	transport := atomiq.HTTPTransport{
		BaseURL: c.String("atomiq.base-url"),
		APIKey:  c.String("atomiq.api-key"),
	}
	conf := atomiq.Config{
		ContractAddress: c.String("atomiq.contract-address"),
	}
	return transport, conf
}

// ChipiPay is a list of flags for talking to the Chipi Pay payment
// processor
var ChipiPay = []cli.Flag{
	cli.StringFlag{
		Name:   "chipipay.base-url",
		Usage:  "Base URL of the Chipi Pay API",
		Value:  "https://api.chipipay.com",
		EnvVar: "CHIPIPAY_BASE_URL",
	},
	cli.StringFlag{
		Name:   "chipipay.api-key",
		Usage:  "API key used to authenticate with Chipi Pay",
		EnvVar: "CHIPIPAY_API_KEY",
	},
	cli.StringFlag{
		Name:   "chipipay.webhook-secret",
		Usage:  "Shared secret webhook signatures are verified against",
		EnvVar: "CHIPIPAY_WEBHOOK_SECRET",
	},
}

// Atomiq is a list of flags for talking to the Atomiq bridge
var Atomiq = []cli.Flag{
	cli.StringFlag{
		Name:   "atomiq.base-url",
		Usage:  "Base URL of the Atomiq bridge API",
		Value:  "https://api.atomiq.exchange",
		EnvVar: "ATOMIQ_BASE_URL",
	},
	cli.StringFlag{
		Name:   "atomiq.api-key",
		Usage:  "API key used to authenticate with Atomiq",
		EnvVar: "ATOMIQ_API_KEY",
	},
	cli.StringFlag{
		Name:   "atomiq.contract-address",
		Usage:  "Starknet address of the VUSD vault contract mints go through",
		EnvVar: "ATOMIQ_CONTRACT_ADDRESS",
	},
}

// Db is a list of flags that apply to functionality that needs Db access
var Db = []cli.Flag{
	cli.StringFlag{
		Name:   "db.user",
		Usage:  "Database user",
		EnvVar: "DATABASE_USER",
	},
	cli.StringFlag{
		Name:   "db.password",
		Usage:  "Database password",
		EnvVar: "DATABASE_PASSWORD",
	},
	cli.StringFlag{
		Name:   "db.name",
		Usage:  "Database name",
		Value:  "voltgate",
		EnvVar: "DATABASE_NAME",
	},
	cli.StringFlag{
		Name:  "db.host",
		Usage: "Database host to connect to",
		Value: "localhost",
	},
	cli.IntFlag{
		Name:   "db.port",
		Usage:  "Database port",
		Value:  5432,
		EnvVar: "DATABASE_PORT",
	},
	cli.StringFlag{
		Name:      "db.migrationspath",
		Usage:     `Path to DB migrations. Needs scheme ("file", etc.) in front of path`,
		TakesFile: true,
		Value: func() string {
			dir, err := os.Getwd()
			if err != nil {
				panic(err)
			}
			return filepath.Join("file:", dir, "db", "migrations")
		}(),
	},
	cli.BoolFlag{
		Name:  "db.migrateup",
		Usage: "Apply migrations before starting the API",
	},
}

// logging is logging related CLI flags
var logging = []cli.Flag{
	cli.StringFlag{
		Name:  "logging.level",
		Value: logrus.InfoLevel.String(),
		Usage: "Logging level for all subsystems {trace, debug, info, warn, error, fatal, panic}",
	},
	cli.StringFlag{
		Name:      "logging.directory",
		TakesFile: true,
		Value: func() string {
			dir, err := os.Getwd()
			if err != nil {
				panic(err)
			}
			return filepath.Join(dir, "logs")
		}(),
		Usage: "What directory to write log files to",
	},
}
