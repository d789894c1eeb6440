package sqldriver

import (
	"database/sql"
	"strings"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/mapping"
)

// scanRows scans rows whose columns are selected in fields order into maps
// keyed by field. The first skip rows are discarded.
func scanRows(rows *sql.Rows, m *mapping.ObjectMapping, fields []string, skip int) ([]map[string]any, error) {
	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(fields))
		valuePtrs := make([]any, len(fields))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		if skip > 0 {
			skip--
			continue
		}

		record := make(map[string]any, len(fields))
		for i, f := range fields {
			record[f] = columnValue(fieldType(m, f), values[i])
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// scanColumns scans rows of an arbitrary statement. Columns are matched to
// fields by column name, then by field name; unmatched columns are dropped.
func scanColumns(rows *sql.Rows, m *mapping.ObjectMapping) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	fields := make([]string, len(columns))
	for i, col := range columns {
		fields[i] = columnField(m, col)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]any)
		for i, f := range fields {
			if f != "" {
				record[f] = columnValue(fieldType(m, f), values[i])
			}
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func columnField(m *mapping.ObjectMapping, column string) string {
	for _, cur := range m.Chain() {
		if f, ok := cur.FieldFor(column); ok {
			return f
		}
	}
	for _, f := range m.Meta.FieldNames() {
		if strings.EqualFold(f, column) {
			return f
		}
	}
	return ""
}

// columnValue undoes the encodings bindValue applies to values without a
// native column type. Everything else is left to DataType.Coerce.
func columnValue(dt metadata.DataType, v any) any {
	if dt != metadata.Properties {
		return v
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return v
	}
	props := make(map[string]string)
	if s == "" {
		return props
	}
	for _, pair := range strings.Split(s, ",") {
		k, val, _ := strings.Cut(pair, "=")
		props[k] = val
	}
	return props
}
