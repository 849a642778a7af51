// Package schema registers table descriptors and renders their DDL.
//
// A Registry is populated once during startup, either programmatically:
//
//	reg := schema.NewRegistry()
//	users, err := reg.Register("users", map[string]schema.Column{
//	    "id":    {Type: "bigserial", PrimaryKey: true},
//	    "email": {Type: "text", NotNull: true, Unique: true},
//	    "role":  {Enum: []string{"admin", "member"}},
//	})
//
// or from a YAML schema file with Load/Parse. After registration the
// descriptors are immutable and safe for concurrent readers; the registry
// itself is not designed for concurrent writers.
//
// Table descriptors are the allow-list source for the query compiler in
// pkg/query. DDL generation (CREATE TYPE for enums, CREATE TABLE) is used by
// pkg/migrator and never sits on the compile path.
package schema
