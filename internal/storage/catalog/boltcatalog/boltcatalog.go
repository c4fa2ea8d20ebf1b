// Package boltcatalog is a single-file catalog backend on bbolt. Each
// namespace is a bucket; each table is one JSON document in it.
package boltcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	bolt "go.etcd.io/bbolt"

	"otapetl/internal/storage"
	"otapetl/internal/storage/catalog"
)

var rootBucket = []byte("otap_catalog")

func init() {
	open := func(_ context.Context, dsn string) (catalog.Catalog, error) { return Open(dsn) }
	catalog.RegisterBackend("bolt", open)
	catalog.RegisterBackend("bbolt", open)
}

// Catalog is a catalog.Catalog in a bbolt file.
type Catalog struct {
	db  *bolt.DB
	now func() time.Time
}

var _ catalog.Catalog = (*Catalog)(nil)

// tableMeta is the stored document of one table.
type tableMeta struct {
	Location  string             `json:"location"`
	Schema    []byte             `json:"arrow_schema"`
	Version   int64              `json:"version"`
	Records   int64              `json:"records"`
	UpdatedAt time.Time          `json:"updated_at"`
	Files     []catalog.DataFile `json:"files"`
}

// Open opens (or creates) the catalog file. dsn is a path, optionally
// prefixed with "file:".
func Open(dsn string) (*Catalog, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if path == "" {
		return nil, fmt.Errorf("boltcatalog: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("boltcatalog: mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltcatalog: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltcatalog: init: %w", err)
	}
	return &Catalog{db: db, now: time.Now}, nil
}

func namespace(tx *bolt.Tx, ns string) *bolt.Bucket {
	return tx.Bucket(rootBucket).Bucket([]byte(ns))
}

func get(tx *bolt.Tx, id catalog.Ident) (*tableMeta, error) {
	b := namespace(tx, id.Namespace)
	if b == nil {
		return nil, nil
	}
	v := b.Get([]byte(id.Name))
	if v == nil {
		return nil, nil
	}
	var m tableMeta
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("boltcatalog: %s: %w", id, err)
	}
	return &m, nil
}

func put(tx *bolt.Tx, id catalog.Ident, m *tableMeta) error {
	b, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(id.Namespace))
	if err != nil {
		return err
	}
	v, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Put([]byte(id.Name), v)
}

func toTable(id catalog.Ident, m *tableMeta) (*catalog.Table, error) {
	schema, err := catalog.DecodeSchema(m.Schema)
	if err != nil {
		return nil, err
	}
	return &catalog.Table{
		Ident:     id,
		Schema:    schema,
		Location:  m.Location,
		Version:   m.Version,
		DataFiles: int64(len(m.Files)),
		Records:   m.Records,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (c *Catalog) TableExists(_ context.Context, id catalog.Ident) (bool, error) {
	var ok bool
	err := c.db.View(func(tx *bolt.Tx) error {
		m, err := get(tx, id)
		ok = m != nil
		return err
	})
	return ok, err
}

func (c *Catalog) CreateTable(_ context.Context, id catalog.Ident, schema *arrow.Schema) (*catalog.Table, error) {
	raw, err := catalog.EncodeSchema(schema)
	if err != nil {
		return nil, err
	}
	m := &tableMeta{Location: catalog.Location(id), Schema: raw, UpdatedAt: c.now().UTC()}
	err = c.db.Update(func(tx *bolt.Tx) error {
		cur, err := get(tx, id)
		if err != nil {
			return err
		}
		if cur != nil {
			return fmt.Errorf("boltcatalog: create %s: %w", id, catalog.ErrTableExists)
		}
		return put(tx, id, m)
	})
	if err != nil {
		return nil, err
	}
	return toTable(id, m)
}

func (c *Catalog) LoadTable(_ context.Context, id catalog.Ident) (*catalog.Table, error) {
	var m *tableMeta
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		m, err = get(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("boltcatalog: %s: %w", id, catalog.ErrNoSuchTable)
	}
	return toTable(id, m)
}

// CommitSnapshot compares and bumps the version inside one bbolt write
// transaction, which bbolt serializes across the process.
func (c *Catalog) CommitSnapshot(_ context.Context, tbl *catalog.Table, files []catalog.DataFile) (*catalog.Table, error) {
	var m *tableMeta
	err := c.db.Update(func(tx *bolt.Tx) error {
		var err error
		if m, err = get(tx, tbl.Ident); err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("boltcatalog: commit %s: %w", tbl.Ident, catalog.ErrNoSuchTable)
		}
		if m.Version != tbl.Version {
			return fmt.Errorf("boltcatalog: %s at version %d, not %d: %w", tbl.Ident, m.Version, tbl.Version, storage.ErrCommitConflict)
		}
		m.Version++
		for _, f := range files {
			m.Records += f.Records
		}
		m.Files = append(m.Files, files...)
		m.UpdatedAt = c.now().UTC()
		return put(tx, tbl.Ident, m)
	})
	if err != nil {
		return nil, err
	}
	return toTable(tbl.Ident, m)
}

// Files lists the committed data files of id.
func (c *Catalog) Files(_ context.Context, id catalog.Ident) ([]catalog.DataFile, error) {
	var m *tableMeta
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		m, err = get(tx, id)
		return err
	})
	if err != nil || m == nil {
		return nil, err
	}
	return m.Files, nil
}

func (c *Catalog) Close() error { return c.db.Close() }
