package models

// KeyCount is one row of a grouped count query.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}
