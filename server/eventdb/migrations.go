package eventdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE event(
			id INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			created_at INT NOT NULL,
			source TEXT NOT NULL,
			behavior TEXT NOT NULL,
			start_frame INT NOT NULL,
			end_frame INT NOT NULL,
			start_time_min REAL NOT NULL,
			end_time_min REAL NOT NULL,
			duration_min REAL NOT NULL,
			snapshot TEXT
		);

		CREATE INDEX idx_event_run_id ON event (run_id);
		CREATE INDEX idx_event_created_at ON event (created_at);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_event_behavior ON event (behavior, created_at);
	`))

	return migs
}
