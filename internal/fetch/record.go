package fetch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is one flat row of analytics output. Numbers are kept as
// json.Number so values reach consumers exactly as the API sent them.
type Record map[string]any

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CloneRecords copies the slice and every record in it.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

func decodeRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding response body: %w", err)
	}
	if raw == nil {
		return nil, errors.New("response body is not a JSON array")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON array")
	}

	records := make([]Record, 0, len(raw))
	for i, row := range raw {
		if row == nil {
			return nil, fmt.Errorf("record %d is not an object", i)
		}
		for field, v := range row {
			switch v.(type) {
			case map[string]any, []any:
				return nil, fmt.Errorf("record %d: field %q is nested", i, field)
			}
		}
		records = append(records, Record(row))
	}
	return records, nil
}
