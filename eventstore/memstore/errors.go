package memstore

import "errors"

var (
	errEmptyBatch       = errors.New("append: events must not be empty")
	errConditionMatched = errors.New("append condition matched an existing event")
)
