// Package dexdb holds all the migrations for the bridge database
package dexdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the bridge database
var Migrations = migrate.NewMigrations()
