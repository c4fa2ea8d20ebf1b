package catalog

import (
	"context"
	"fmt"
)

// Transaction stages changes against one loaded table version.
type Transaction struct {
	cat    Catalog
	tbl    *Table
	staged []DataFile
}

func NewTransaction(cat Catalog, tbl *Table) *Transaction {
	return &Transaction{cat: cat, tbl: tbl}
}

// FastAppend stages files to be added without rewriting existing ones.
func (tx *Transaction) FastAppend(files ...DataFile) *Transaction {
	tx.staged = append(tx.staged, files...)
	return tx
}

// Commit applies the staged files and returns the updated table. A conflict
// wraps storage.ErrCommitConflict; the transaction must then be rebuilt from
// a freshly loaded table.
func (tx *Transaction) Commit(ctx context.Context) (*Table, error) {
	if len(tx.staged) == 0 {
		return tx.tbl, nil
	}
	tbl, err := tx.cat.CommitSnapshot(ctx, tx.tbl, tx.staged)
	if err != nil {
		return nil, fmt.Errorf("catalog: commit %s@%d: %w", tx.tbl.Ident, tx.tbl.Version, err)
	}
	return tbl, nil
}
