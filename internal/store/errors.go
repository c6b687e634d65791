package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/roach88/programhealth/internal/ir"
)

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

// IsMissingTable reports whether err means the queried table does not exist
// (for example a schema that has not been migrated yet).
func IsMissingTable(err error) bool {
	if err == nil {
		return false
	}
	if ir.IsCode(err, ir.ErrCodeMissingSchemaObject) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUndefinedTable
	}
	return strings.Contains(err.Error(), "no such table")
}

// classify turns a raw driver error into a taxonomy error for op.
// Errors already in the taxonomy pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if ir.CodeOf(err) != "" {
		return err
	}
	return ir.StorageUnavailable(op, err)
}
