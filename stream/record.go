package stream

import (
	"fmt"
	"sort"
)

// Record is used to communicate raw source rows between the extraction component
// and the normalizer. Values are stored as scanned by the database driver, so
// null database values appear as nil interfaces.
type Record struct {
	data map[string]interface{}
}

// NewRecord creates a new Record and returns it by value as we expect these records
// to move through the pipeline by value too.
func NewRecord() Record {
	return Record{
		data: make(map[string]interface{}),
	}
}

func (sr Record) SetData(key string, value interface{}) {
	sr.data[key] = value
}

func (sr Record) GetData(key string) interface{} {
	return sr.data[key]
}

func (sr Record) GetDataLen() int {
	return len(sr.data)
}

// GetDataKeys returns the field names sorted alphabetically so callers can
// iterate deterministically regardless of map ordering.
func (sr Record) GetDataKeys() []string {
	keys := make([]string, 0, len(sr.data))
	for k := range sr.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (sr Record) String() string {
	return fmt.Sprintf("%v", sr.data)
}
