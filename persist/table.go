// Package persist writes harvested records to the tabular (CSV) and
// hierarchical (JSON) artifacts, and converts tabular files offline.
package persist

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind tells the JSON writer how to render a column.
type Kind int

const (
	// Scalar cells are written as JSON strings.
	Scalar Kind = iota
	// Structured cells hold an embedded JSON object and are written nested
	// when they parse as one.
	Structured
)

// Column is a named column of a Table.
type Column struct {
	Name string
	Kind Kind
}

// Value is one cell. Null marks a missing value.
type Value struct {
	Text string
	Null bool
}

// Text returns a present cell.
func Text(s string) Value { return Value{Text: s} }

// Null returns a missing cell.
func Null() Value { return Value{Null: true} }

// Field is a column with its value in one row.
type Field struct {
	Column
	Value Value
}

// Table is a set of rows whose columns are the union of the columns the rows
// carried, in first-seen order.
type Table struct {
	columns []Column
	index   map[string]int
	rows    []map[string]Value
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{index: make(map[string]int)}
}

// isArtifactColumn reports columns left behind by index serialization.
func isArtifactColumn(name string) bool {
	return strings.HasPrefix(name, "Unnamed")
}

// Append adds a row. Artifact columns are dropped.
func (t *Table) Append(fields []Field) {
	row := make(map[string]Value, len(fields))
	for _, f := range fields {
		if isArtifactColumn(f.Name) {
			continue
		}
		if _, ok := t.index[f.Name]; !ok {
			t.index[f.Name] = len(t.columns)
			t.columns = append(t.columns, f.Column)
		}
		row[f.Name] = f.Value
	}
	t.rows = append(t.rows, row)
}

// Columns returns the table's columns in order.
func (t *Table) Columns() []Column { return t.columns }

// Len is the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// cell returns the row's value for column, Null when the row lacks it.
func (t *Table) cell(row map[string]Value, column string) Value {
	if v, ok := row[column]; ok {
		return v
	}
	return Null()
}

// WriteCSV writes a header and one line per row. Null cells are empty.
// A table without columns writes nothing.
func (t *Table) WriteCSV(w io.Writer) error {
	if len(t.columns) == 0 {
		return nil
	}
	cw := csv.NewWriter(w)
	header := make([]string, len(t.columns))
	for i, c := range t.columns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	line := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, c := range t.columns {
			line[i] = t.cell(row, c.Name).Text
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the rows as a 2-space indented array of objects with
// keys in column order. Null cells become null; structured cells holding a
// JSON object are nested, anything else stays a string.
func (t *Table) WriteJSON(w io.Writer) error {
	objects := make([]*orderedmap.OrderedMap[string, json.RawMessage], 0, len(t.rows))
	for _, row := range t.rows {
		obj := orderedmap.New[string, json.RawMessage](len(t.columns))
		for _, c := range t.columns {
			raw, err := rawCell(t.cell(row, c.Name), c.Kind)
			if err != nil {
				return err
			}
			obj.Set(c.Name, raw)
		}
		objects = append(objects, obj)
	}

	var compact bytes.Buffer
	if err := writeArray(&compact, objects); err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}

// rawCell renders one cell as JSON.
func rawCell(v Value, kind Kind) (json.RawMessage, error) {
	if v.Null {
		return json.RawMessage("null"), nil
	}
	if kind == Structured && isObjectLiteral(v.Text) {
		return json.RawMessage(v.Text), nil
	}
	return marshalString(v.Text)
}

// isObjectLiteral reports whether s is brace-delimited and parses as JSON.
func isObjectLiteral(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && json.Valid([]byte(s))
}

// marshalString encodes s without HTML escaping.
func marshalString(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeArray(buf *bytes.Buffer, objects []*orderedmap.OrderedMap[string, json.RawMessage]) error {
	buf.WriteByte('[')
	for i, obj := range objects {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeObject(buf, obj); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeObject(buf *bytes.Buffer, obj *orderedmap.OrderedMap[string, json.RawMessage]) error {
	buf.WriteByte('{')
	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		if pair != obj.Oldest() {
			buf.WriteByte(',')
		}
		key, err := marshalString(pair.Key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(pair.Value)
	}
	buf.WriteByte('}')
	return nil
}
