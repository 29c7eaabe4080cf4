package historydb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log, driver string) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	// SQLite only aliases the rowid when the type is exactly INTEGER
	pk := "INTEGER PRIMARY KEY"
	if driver == dbh.DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE detection_record(
			id `+pk+`,
			timestamp BIGINT NOT NULL,
			saved_at BIGINT NOT NULL,
			detections TEXT NOT NULL
		);

		CREATE INDEX idx_detection_record_timestamp ON detection_record (timestamp);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		ALTER TABLE detection_record ADD COLUMN snapshot TEXT;
	`))

	return migs
}
