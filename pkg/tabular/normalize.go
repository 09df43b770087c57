package tabular

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/date"
)

// NormalizeRow coerces a row's values to the declared column types. Columns
// absent from the schema pass through untouched.
func NormalizeRow(row Row, schema map[string]string) (Row, error) {
	for field, targetType := range schema {
		val, ok := row[field]
		if !ok {
			continue
		}
		normalized, err := NormalizeValue(val, targetType)
		if err != nil {
			return nil, fmt.Errorf("normalize field %s: %w", field, err)
		}
		row[field] = normalized
	}
	return row, nil
}

// NormalizeValue coerces a single value to a target column type. Type names
// accept SQL spellings; a parenthesized size suffix is ignored.
func NormalizeValue(val any, targetType string) (any, error) {
	if val == nil {
		return nil, nil
	}
	if idx := strings.Index(targetType, "("); idx != -1 {
		targetType = targetType[:idx]
	}
	targetType = strings.ToLower(strings.TrimSpace(targetType))

	switch targetType {
	case "int", "integer", "int8", "int16", "int32", "int64", "bigint",
		"smallint", "mediumint", "tinyint", "serial", "bigserial",
		"smallserial", "year", "uint", "uint8", "uint16", "uint32", "uint64":
		return toInt64(val)
	case "bool", "boolean":
		if v, ok := convert.ToBool(val); ok {
			return v, nil
		}
	case "float", "float32", "float64", "real", "double",
		"double precision", "decimal", "numeric":
		if v, ok := convert.ToFloat64(val); ok {
			return v, nil
		}
	case "datetime", "date", "date-time", "timestamp", "time",
		"timestamp with time zone", "time with time zone":
		return toTime(val)
	case "blob", "bytea", "tinyblob", "mediumblob", "longblob":
		return val, nil
	default:
		// string, text, varchar, json, uuid, enums and the exotic backend
		// types (ranges, geometry, tsvector) all carry as text.
		if v, ok := convert.ToString(val); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", val, targetType)
}

func toInt64(val any) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", val)
	}
}

func toTime(val any) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return date.Parse(string(v))
	case string:
		return date.Parse(v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to datetime", val)
	}
}
