// Package memory implements the repository interfaces on top of an in-memory
// database. It backs single-node development servers and tests.
package memory

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
)

const (
	tblContent  = "content"
	tblCounters = "counters"
	tblTokens   = "tokens"
	tblDesigns  = "designs"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblContent: {
			Name: tblContent,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "DesignID"},
							&memdb.IntFieldIndex{Field: "Version"},
						},
					},
				},
				"design_id": {
					Name:    "design_id",
					Indexer: &memdb.StringFieldIndex{Field: "DesignID"},
				},
			},
		},
		tblCounters: {
			Name: tblCounters,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "DesignID"},
				},
			},
		},
		tblTokens: {
			Name: tblTokens,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		tblDesigns: {
			Name: tblDesigns,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "DesignID"},
				},
			},
		},
	},
}

// DB is an in-memory database shared by the memory repositories.
type DB struct {
	db *memdb.MemDB
}

// New returns a new in-memory database.
func New() (*DB, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &DB{db: memDB}, nil
}
