// Package storage provides inventory.Storage backends.
//
// SQLiteStorage keeps certificates and tunnels in a SQLite database through
// database/sql. Two drivers are linked in: modernc.org/sqlite ("sqlite",
// pure Go, the default) and github.com/mattn/go-sqlite3 ("sqlite3", cgo).
// The schema is versioned in a schema_version table and WAL mode is enabled
// unless disabled in configuration.
//
// MemoryStorage keeps everything in maps and is used by tests and by the
// "memory" backend.
//
// Use New to open the backend named by an inventory configuration:
//
//	store, err := storage.New(cfg.Inventory, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package storage
