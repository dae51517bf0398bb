// Package rowio reads and writes rows as CSV and JSON files.
package rowio

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
	"github.com/KaramelBytes/veritable-cli/internal/utils"
)

// ReadCSV reads rows from a CSV file with a header line. Empty cells are
// dropped. When idCol names a header, that column becomes _id; otherwise
// rows without an _id column are numbered from 1.
func ReadCSV(path, idCol string) ([]schema.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return recordsToRows(newCSVReader(f, path).Read, idCol, false)
}

// ReadRequests reads prediction requests. Unlike Read, tabular files get no
// _id column and an empty cell becomes a nil field, marking it for
// prediction. An empty _request_id cell is left out so cleaning can assign one.
func ReadRequests(path string) ([]schema.Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open csv: %w", err)
		}
		defer f.Close()
		return recordsToRows(newCSVReader(f, path).Read, "", true)
	case ".xlsx":
		rr, err := openSheet(path, "")
		if err != nil {
			return nil, err
		}
		return recordsToRows(rr.Read, "", true)
	}
	return ReadJSON(path)
}

func newCSVReader(r io.Reader, path string) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comma = delimiter(path)
	return cr
}

// recordsToRows turns a header record and the data records after it into
// rows. read returns io.EOF after the last record. In requests mode empty
// cells are kept as nil and no _id is assigned.
func recordsToRows(read func() ([]string, error), idCol string, requests bool) ([]schema.Row, error) {
	header, err := read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if idCol == "" {
		idCol = schema.IDKey
	}
	hasID := false
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == idCol {
			h = schema.IDKey
			hasID = true
		}
		header[i] = h
	}

	var rows []schema.Row
	for line := 2; ; line++ {
		rec, err := read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		row := schema.Row{}
		for i, cell := range rec {
			col := ""
			if i < len(header) {
				col = header[i]
			}
			switch {
			case col == "":
			case cell != "":
				row[col] = cell
			case requests && col != schema.IDKey && col != schema.RequestIDKey:
				row[col] = nil
			}
		}
		if !hasID && !requests {
			row[schema.IDKey] = strconv.Itoa(len(rows) + 1)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV writes rows with a header holding the union of their fields,
// _id first and the rest sorted. Missing fields are left empty.
func WriteCSV(rows []schema.Row, path string) error {
	all := schema.HeadersFromRows(rows)
	headers := make([]string, 0, len(all))
	for _, h := range all {
		if h != schema.IDKey {
			headers = append(headers, h)
		}
	}
	if len(headers) < len(all) {
		headers = append([]string{schema.IDKey}, headers...)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter(path)
	if err := w.Write(headers); err != nil {
		return err
	}
	rec := make([]string, len(headers))
	for _, r := range rows {
		for i, h := range headers {
			rec[i] = cell(r[h])
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return utils.SafeWriteFile(path, buf.Bytes())
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	}
	return fmt.Sprint(v)
}

func delimiter(path string) rune {
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	return ','
}

// ReadJSON reads rows from a JSON array or from JSON lines.
func ReadJSON(path string) ([]schema.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open json: %w", err)
	}
	defer f.Close()
	return DecodeJSON(f)
}

// DecodeJSON decodes rows from a JSON array or from JSON lines.
func DecodeJSON(r io.Reader) ([]schema.Row, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(br)
	dec.UseNumber()
	var rows []schema.Row
	if first == '[' {
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
	} else {
		for {
			var row schema.Row
			err := dec.Decode(&row)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode row %d: %w", len(rows), err)
			}
			rows = append(rows, row)
		}
	}
	for i, row := range rows {
		if row == nil {
			return nil, fmt.Errorf("row %d is not an object", i)
		}
		rows[i] = schema.Normalize(row)
	}
	return rows, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

// WriteJSON writes rows as an indented JSON array.
func WriteJSON(rows []schema.Row, path string) error {
	if rows == nil {
		rows = []schema.Row{}
	}
	b, err := utils.PrettyJSON(rows)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(path, append(b, '\n'))
}

// Read dispatches on the file extension: .csv and .tsv are read as CSV,
// .xlsx as the first sheet of a workbook, everything else as JSON.
func Read(path, idCol string) ([]schema.Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return ReadCSV(path, idCol)
	case ".xlsx":
		return ReadXLSX(path, "", idCol)
	}
	return ReadJSON(path)
}

// Write dispatches on the file extension like Read.
func Write(rows []schema.Row, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return WriteCSV(rows, path)
	}
	return WriteJSON(rows, path)
}
