package database

// migrationsSQL contains all database migrations.
// Migrations are applied in order by version number.
var migrationsSQL = map[int]string{
	1: migrationV1KeyValue,
	2: migrationV2UpdatedIndex,
}

// migrationV1KeyValue creates the key-value table the plan persists into.
//
// Keys are plan keys ("startDate", "selfPaced", "Genesis 1+0", ...) and
// values are the encoded bytes from package kvstore. The table carries no
// plan structure of its own; the reading table is compiled into the binary.
const migrationV1KeyValue = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// migrationV2UpdatedIndex supports listing recently touched entries.
const migrationV2UpdatedIndex = `
CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv(updated_at);
`
