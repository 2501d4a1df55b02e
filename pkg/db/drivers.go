package db

import (
	// Registered database/sql drivers.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
)

// Drivers lists the driver names a PoolConfig may use.
func Drivers() []string {
	return []string{DriverSQLite, DriverPostgres, DriverPGX}
}

func knownDriver(name string) bool {
	for _, d := range Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func dialectFor(driver string) Dialect {
	switch driver {
	case DriverPostgres, DriverPGX:
		return Dialect{Name: "postgres", numberedArg: true}
	}
	return Dialect{Name: "sqlite"}
}
