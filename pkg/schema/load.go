package schema

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// File is the on-disk schema format.
//
//	tables:
//	  - name: users
//	    columns:
//	      id: {type: bigserial, primary_key: true}
//	      email: {type: text, not_null: true}
//	  - name: posts
//	    columns:
//	      id: {type: bigserial, primary_key: true}
//	      author_id: {type: bigint, not_null: true}
//	    foreign_keys:
//	      - {column: author_id, table: users, references: id, on_delete: cascade}
type File struct {
	Tables []TableDef `json:"tables"`
}

// TableDef is one table entry of a schema file.
type TableDef struct {
	Name        string            `json:"name"`
	Columns     map[string]Column `json:"columns"`
	ForeignKeys []ForeignKey      `json:"foreign_keys,omitempty"`
}

// Load reads a YAML (or JSON) schema file and registers its tables.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted configuration
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return Parse(data)
}

// Parse registers the tables of a YAML (or JSON) schema document in the
// order they appear.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	reg := NewRegistry()
	for _, td := range f.Tables {
		if _, err := reg.Register(td.Name, td.Columns, td.ForeignKeys...); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
