package migrator

// migrationsDDL defines the pgquery_migrations table for tracking migration state.
const migrationsDDL = `-- pgquery migrations tracking table
-- Each row is a completed migration:
-- - schema_checksum: SHA256 of the rendered table DDL
-- - ddl_version: version of the DDL rendering logic
-- - table_names: tables created by the migration
--
-- A migration is skipped when the latest row matches both checksum and
-- ddl_version, unless --force is specified.

CREATE TABLE IF NOT EXISTS pgquery_migrations (
    id BIGSERIAL PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    schema_checksum VARCHAR(64) NOT NULL,
    ddl_version VARCHAR(32) NOT NULL,
    table_names TEXT[] NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pgquery_migrations_checksum
ON pgquery_migrations (schema_checksum, ddl_version);
`
