package export

import (
	"fmt"
	"reflect"

	"github.com/gocarina/gocsv"
)

// CSVExporter renders csv-tagged structs into CSV bytes with a header line.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render marshals a slice of csv-tagged structs (or pointers to them).
func (e *CSVExporter) Render(rows interface{}) ([]byte, error) {
	if kind := reflect.TypeOf(rows); kind == nil || kind.Kind() != reflect.Slice {
		return nil, fmt.Errorf("csv export requires a slice, got %T", rows)
	}
	out, err := gocsv.MarshalBytes(rows)
	if err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	return out, nil
}
