package core

import (
	"time"
)

// ColumnKind is the declared value type of a dataset column.
type ColumnKind string

const (
	ColumnString   ColumnKind = "string"
	ColumnNumber   ColumnKind = "number"
	ColumnBool     ColumnKind = "bool"
	ColumnDatetime ColumnKind = "datetime"
)

// Column describes one column of a query result.
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// Row is one record of a query result, positionally aligned with the
// column descriptors.
type Row []any

// Dataset is the tabular payload backing a chart.
type Dataset struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Empty reports whether the dataset holds no rows.
func (d Dataset) Empty() bool {
	return len(d.Rows) == 0
}

// QueryRequest is what the core hands to the external data query service.
type QueryRequest struct {
	ChartID          string
	DatasetReference string
	Filters          map[string]any
	ForceRefresh     bool
	Timeout          time.Duration
}

// QueryResult is a successful response from the data query service.
type QueryResult struct {
	Data          Dataset
	ExecutionTime time.Duration
}

// CacheEntry is the last successful query result for one (chart,
// fingerprint) key. Entries are written only by the fetch coordinator and
// treated as read-only everywhere else.
type CacheEntry struct {
	ChartID     string        `json:"chart_id"`
	Fingerprint string        `json:"fingerprint"`
	Data        Dataset       `json:"data"`
	FetchedAt   time.Time     `json:"fetched_at"`
	TTL         time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at the given
// instant. Stale entries remain usable as last-known-good while a refresh
// is in flight.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}
