// Package database provides SQLite connectivity for the thermolink core.
//
// This package manages:
//   - The connection (WAL mode, busy timeout, foreign keys, single writer)
//   - Schema migrations from any fs.FS (the binary embeds them)
//   - Shared helpers: the stored timestamp layout and unique-violation detection
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.NewMigrator(migrations.FS, ".").Up(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
