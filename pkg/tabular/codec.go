package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/json"
)

// Serialization formats for tables stored as files or objects.
const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
	FormatText   = "txt"
)

// FormatForPath guesses the serialization format from a file extension.
// Returns "" when the extension is not recognized.
func FormatForPath(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "csv":
		return FormatCSV
	case "json":
		return FormatJSON
	case "ndjson", "jsonl":
		return FormatNDJSON
	case "txt", "log":
		return FormatText
	default:
		return ""
	}
}

// Decode parses raw bytes in the given format into a table. CSV cells go
// through type inference; JSON keeps whatever types the document carries.
func Decode(data []byte, format string) (*Table, error) {
	switch format {
	case FormatCSV:
		return decodeCSV(data)
	case FormatJSON:
		return decodeJSON(data)
	case FormatNDJSON:
		return decodeNDJSON(data)
	case FormatText:
		return decodeText(data), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Encode renders a table as bytes in the given format.
func Encode(t *Table, format string) ([]byte, error) {
	if t == nil {
		t = New(nil, nil)
	}
	switch format {
	case FormatCSV:
		return encodeCSV(t)
	case FormatJSON:
		return json.Marshal(t.Rows)
	case FormatNDJSON:
		return encodeNDJSON(t)
	case FormatText:
		return encodeText(t), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func decodeCSV(data []byte) (*Table, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.ReuseRecord = true
	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	headerCopy := make([]string, len(headers))
	copy(headerCopy, headers)
	var rows []Row
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		row := make(Row, len(headerCopy))
		for i, header := range headerCopy {
			if i < len(record) {
				row[header] = InferValue(record[i])
			} else {
				row[header] = nil
			}
		}
		rows = append(rows, row)
	}
	return FromOrderedRows(headerCopy, rows), nil
}

func decodeJSON(data []byte) (*Table, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	if _, err := decoder.Token(); err != nil {
		return nil, fmt.Errorf("read json array: %w", err)
	}
	var rows []Row
	for decoder.More() {
		var obj Row
		if err := decoder.Decode(&obj); err != nil {
			return nil, fmt.Errorf("decode json record: %w", err)
		}
		rows = append(rows, obj)
	}
	return FromRows(rows), nil
}

func decodeNDJSON(data []byte) (*Table, error) {
	var rows []Row
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var obj Row
		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, fmt.Errorf("decode ndjson record: %w", err)
		}
		rows = append(rows, obj)
	}
	return FromRows(rows), nil
}

func decodeText(data []byte) *Table {
	var rows []Row
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		rows = append(rows, Row{"line": line})
	}
	return FromOrderedRows([]string{"line"}, rows)
}

func encodeCSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	columns := t.Columns()
	if err := writer.Write(columns); err != nil {
		return nil, err
	}
	record := make([]string, len(columns))
	for _, row := range t.Rows {
		for i, col := range columns {
			record[i] = cellString(row[col])
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeNDJSON(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	for _, row := range t.Rows {
		line, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func encodeText(t *Table) []byte {
	columns := t.Columns()
	col := "line"
	if len(columns) > 0 {
		if _, ok := t.Field("line"); !ok {
			col = columns[0]
		}
	}
	var buf bytes.Buffer
	for _, row := range t.Rows {
		buf.WriteString(cellString(row[col]))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := convert.ToString(v); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
