package database

import (
	"fmt"

	"github.com/Data-Corruption/lmdb-go/lmdb"
	"github.com/Data-Corruption/lmdb-go/wrap"
	"github.com/Data-Corruption/stdx/xlog"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = "1"

// Migrate brings the database schema up to SchemaVersion. A fresh database
// just gets stamped; unknown future versions are refused.
func Migrate(db *wrap.DB, logger *xlog.Logger) error {
	return db.Update(func(txn *lmdb.Txn) error {
		dbi, ok := db.GetDBis()[ConfigDBIName]
		if !ok {
			return fmt.Errorf("DBI %q not found", ConfigDBIName)
		}

		raw, err := txn.Get(dbi, []byte(ConfigVersionKey))
		if err != nil {
			if !lmdb.IsNotFound(err) {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			logger.Infof("fresh database, stamping schema version %s", SchemaVersion)
			return txn.Put(dbi, []byte(ConfigVersionKey), []byte(SchemaVersion), 0)
		}

		version := string(raw)
		switch version {
		case SchemaVersion:
			return nil
		default:
			return fmt.Errorf("unknown database schema version %q (expected %q)", version, SchemaVersion)
		}
	})
}
