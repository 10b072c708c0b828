package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ChizhovVadim/ecgpretrain/internal/domain"
)

// ReadCSVRecord reads one row per time step with one column per lead.
// A first row that does not parse as numbers is treated as a header.
func ReadCSVRecord(r io.Reader, id string) (Record, error) {
	var reader = csv.NewReader(r)
	reader.ReuseRecord = true
	reader.TrimLeadingSpace = true

	var rec = Record{ID: id}
	var row int
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v: %v", ErrBadRecord, id, err)
		}
		row++
		if rec.Signal == nil {
			rec.Signal = make([][]float64, len(fields))
		}
		if len(fields) != len(rec.Signal) {
			return Record{}, fmt.Errorf("%w: %v row %v has %v leads, expected %v", ErrBadRecord, id, row, len(fields), len(rec.Signal))
		}
		var values = make([]float64, len(fields))
		var parseErr error
		for i, s := range fields {
			values[i], parseErr = strconv.ParseFloat(s, 64)
			if parseErr != nil {
				break
			}
		}
		if parseErr != nil {
			if row == 1 {
				continue
			}
			return Record{}, fmt.Errorf("%w: %v row %v: %v", ErrBadRecord, id, row, parseErr)
		}
		for i, v := range values {
			rec.Signal[i] = append(rec.Signal[i], v)
		}
	}
	if rec.NSamples() == 0 {
		return Record{}, fmt.Errorf("%w: %v has no samples", ErrBadRecord, id)
	}
	return rec, nil
}

// ReadLabels reads "record_id,labels" lines where labels are class indices
// separated by '|'. An optional header line starting with record_id is skipped.
func ReadLabels(r io.Reader) (map[string]domain.Target, error) {
	var reader = csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var result = make(map[string]domain.Target)
	var line int
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && len(fields) > 0 && fields[0] == "record_id" {
			continue
		}
		if len(fields) == 0 || fields[0] == "" {
			return nil, fmt.Errorf("labels line %v: empty record id", line)
		}
		var target domain.Target
		if len(fields) > 1 && strings.TrimSpace(fields[1]) != "" {
			for _, s := range strings.Split(fields[1], "|") {
				class, err := strconv.Atoi(strings.TrimSpace(s))
				if err != nil {
					return nil, fmt.Errorf("labels line %v: %w", line, err)
				}
				target.Classes = append(target.Classes, class)
			}
		}
		result[fields[0]] = target
	}
	return result, nil
}

func LoadLabels(path string) (map[string]domain.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLabels(f)
}

func WriteLabels(w io.Writer, labels map[string]domain.Target, order []string) error {
	var writer = csv.NewWriter(w)
	if err := writer.Write([]string{"record_id", "labels"}); err != nil {
		return err
	}
	for _, id := range order {
		var classes = labels[id].Classes
		var parts = make([]string, len(classes))
		for i, c := range classes {
			parts[i] = strconv.Itoa(c)
		}
		if err := writer.Write([]string{id, strings.Join(parts, "|")}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
