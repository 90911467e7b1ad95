package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds the schema migrations, registered in file-name order by the files of this package.
var Migrations = migrate.NewMigrations()
