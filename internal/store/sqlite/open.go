package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Open opens (creating if absent) the supervisor's SQLite database at path,
// sets the pragmas spec.md §6 requires (WAL mode, a 5s busy timeout,
// foreign keys on), backs it up if it already exists and is about to be
// migrated, runs migrations, and returns the ready connection.
//
// A single *sql.DB is shared by the whole process; the Store built on top
// serializes writes through it, per spec.md §5's single-writer policy.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // one connection: WAL writer serialization matches the single-writer model

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}

	if err := BackupBeforeMigrate(path, "pre-migrate"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pre-migration backup: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		if restoreErr := RestoreLatestBackup(path); restoreErr != nil {
			return nil, fmt.Errorf("migration failed (%w) and restore also failed (%v)", err, restoreErr)
		}
		return nil, fmt.Errorf("migration failed, restored pre-migration backup: %w", err)
	}

	return db, nil
}

// OpenReadOnly opens a read-only connection for auxiliary tools (status
// queries) per spec.md §4.1 ("auxiliary tools ... use read-only connections").
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening %s read-only: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
