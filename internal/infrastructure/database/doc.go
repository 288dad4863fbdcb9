// Package database provides the SQLite connection used for the catalog
// warm-start cache.
//
// The cache only holds the latest catalog list per resource so the entity
// registry is populated before the first successful fetch. State history
// is never stored here.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
