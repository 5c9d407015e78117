package persist

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/use-agent/partharvest/models"
)

// naTokens are the cell spellings read as missing values.
var naTokens = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true,
	"None": true, "n/a": true, "nan": true, "null": true,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DefaultJSONPath swaps the extension of csvPath for .json.
func DefaultJSONPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".json"
}

// ConvertFile converts a tabular artifact into a hierarchical one. With an
// empty jsonPath the output goes next to the input. It returns the path
// written.
func ConvertFile(csvPath, jsonPath string) (string, error) {
	if jsonPath == "" {
		jsonPath = DefaultJSONPath(csvPath)
	}
	f, err := os.Open(csvPath)
	if err != nil {
		return "", models.NewHarvestError(models.ErrCodeInvalidInput, "open "+csvPath, err)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return "", models.NewHarvestError(models.ErrCodeInvalidInput, "read "+csvPath, err)
	}
	if err := writeAtomic(jsonPath, t.WriteJSON); err != nil {
		return "", fmt.Errorf("write %s: %w", jsonPath, err)
	}
	slog.Info("converted", "csv", csvPath, "json", jsonPath, "records", t.Len())
	return jsonPath, nil
}

// ReadCSV loads a CSV with a header row. There is no schema, so every
// column is structured: any cell that is an object literal gets nested.
// NA spellings become null and artifact columns are dropped.
func ReadCSV(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(3); len(head) == 3 && string(head) == string(utf8BOM) {
		br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	t := NewTable()
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return t, nil
	}
	if err != nil {
		return nil, err
	}
	columns := headerColumns(header)

	for line := 2; ; line++ {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(cells) > len(columns) {
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(columns), len(cells))
		}
		fields := make([]Field, len(columns))
		for i, c := range columns {
			v := Null()
			if i < len(cells) && !naTokens[cells[i]] {
				v = Text(cells[i])
			}
			fields[i] = Field{Column: c, Value: v}
		}
		t.Append(fields)
	}
	return t, nil
}

// headerColumns names blank headers "Unnamed: i" and suffixes repeats with
// ".n", the way dataframe exports spell them.
func headerColumns(header []string) []Column {
	seen := make(map[string]int, len(header))
	columns := make([]Column, len(header))
	for i, name := range header {
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n)
		} else {
			seen[name] = 1
		}
		columns[i] = Column{Name: name, Kind: Structured}
	}
	return columns
}
