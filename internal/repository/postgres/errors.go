package postgres

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSKU is returned when an insert or update collides with the
	// case-insensitive SKU uniqueness constraint.
	ErrDuplicateSKU = errors.New("sku already exists")

	// ErrStatusRegression is returned when a job advance would move the
	// state machine backwards.
	ErrStatusRegression = errors.New("job status regression")

	// ErrJobTerminal is returned when mutating a job already in done/failed.
	ErrJobTerminal = errors.New("job already terminal")
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
