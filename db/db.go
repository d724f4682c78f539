// Package db manages the Postgres connection and schema migrations for
// the payment flow store.
package db

import (
	"net/url"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// registers the file:// migration source
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/volta-protocol/voltgate/build"
)

var log = build.AddSubLogger("DATB")

// DatabaseConfig has all the values we need to connect to a DB
type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	// The name of the DB to connect to
	Name string

	// MigrationsPath is where our migrations are located, as a
	// golang-migrate source URL (file://...)
	MigrationsPath string
}

// DB is our local DB struct
type DB struct {
	*sqlx.DB
	MigrationsPath string
}

// Open connects to the configured Postgres database.
func Open(conf DatabaseConfig) (*DB, error) {
	q := make(url.Values)
	q.Set("sslmode", "disable")
	q.Set("timezone", "utc")

	hostWithPort := conf.Host + ":" + strconv.Itoa(conf.Port)
	databaseURL := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conf.User, conf.Password),
		Host:     hostWithPort,
		Path:     conf.Name,
		RawQuery: q.Encode(),
	}

	d, err := sqlx.Open("postgres", databaseURL.String())
	if err != nil {
		return nil, errors.Wrapf(err,
			"cannot connect to database %s with user %s at %s",
			conf.Name, conf.User, hostWithPort)
	}

	log.WithFields(logrus.Fields{
		"host":     hostWithPort,
		"user":     conf.User,
		"database": conf.Name,
	}).Info("Opened connection to DB")

	return &DB{
		DB:             d,
		MigrationsPath: conf.MigrationsPath,
	}, nil
}

func (d *DB) migrator() (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(d.DB.DB, &postgres.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "could not get Postgres migration driver")
	}
	return migrate.NewWithDatabaseInstance(d.MigrationsPath, "postgres", driver)
}

// MigrationStatus holds the migration version number and dirtiness.
type MigrationStatus struct {
	Dirty   bool
	Version uint
}

// Status returns the current migration status of the database.
func (d *DB) Status() (MigrationStatus, error) {
	m, err := d.migrator()
	if err != nil {
		return MigrationStatus{}, err
	}

	version, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		// fresh database, no migrations applied yet
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, err
	}
	return MigrationStatus{Dirty: dirty, Version: version}, nil
}

// MigrateUp migrates everything up
func (d *DB) MigrateUp() error {
	log.WithField("migrationsPath", d.MigrationsPath).Info("Migrating up")

	m, err := d.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Info("No migrations applied")
			return nil
		}
		return errors.Wrap(err, "could not migrate up")
	}

	log.Info("Succesfully migrated up")
	return nil
}

// MigrateDown migrates down the given number of steps
func (d *DB) MigrateDown(steps int) error {
	m, err := d.migrator()
	if err != nil {
		return err
	}
	return m.Steps(-steps)
}
