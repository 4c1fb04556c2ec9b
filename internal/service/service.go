// Package service holds the record-keeping operations around dispatch:
// companies, their gateway settings and monthly report totals.
package service

import "errors"

var (
	ErrNotFound  = errors.New("service: record not found")
	ErrDuplicate = errors.New("service: record already exists")
	ErrInvalid   = errors.New("service: invalid record")
)

const defaultPageSize = 50

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
