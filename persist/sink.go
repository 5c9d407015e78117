package persist

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
)

// Record columns in artifact order.
var (
	colPartNumber   = Column{Name: "part_number"}
	colURL          = Column{Name: "url"}
	colName         = Column{Name: "name"}
	colDescription  = Column{Name: "description"}
	colCategory     = Column{Name: "category"}
	colActualPart   = Column{Name: "actual_part_no"}
	colPriceTeaser  = Column{Name: "price_teaser"}
	colPhasedOut    = Column{Name: "phased_out"}
	colSuccessor    = Column{Name: "successor_product"}
	colCertificates = Column{Name: "certificates"}
	colSpecs        = Column{Name: "specifications", Kind: Structured}
	colAccessories  = Column{Name: "suitable_accessories"}
	colImageURLs    = Column{Name: "image_urls"}
	colImagePaths   = Column{Name: "local_image_paths"}
	colDrawingURLs  = Column{Name: "technical_drawing_urls"}
	colDrawingPaths = Column{Name: "local_technical_drawing_paths"}
	colDatasheet    = Column{Name: "pdf_url"}
)

// listSeparator joins list fields into one cell.
const listSeparator = "|"

// Sink rewrites both artifacts from the full result set on every commit.
type Sink struct {
	csvPath  string
	jsonPath string
}

// NewSink creates a sink writing to the configured output directory.
func NewSink(out config.OutputConfig) *Sink {
	return &Sink{csvPath: out.CSVPath(), jsonPath: out.JSONPath()}
}

// CSVPath is the tabular artifact path.
func (s *Sink) CSVPath() string { return s.csvPath }

// JSONPath is the hierarchical artifact path.
func (s *Sink) JSONPath() string { return s.jsonPath }

// Commit replaces both artifacts with records. Each file is swapped in
// atomically, so a reader sees either the previous or the new prefix.
func (s *Sink) Commit(records []*models.ProductRecord) error {
	t := NewTable()
	for _, rec := range records {
		fields, err := recordFields(rec)
		if err != nil {
			return fmt.Errorf("flatten %s: %w", rec.Identifier, err)
		}
		t.Append(fields)
	}

	if err := writeAtomic(s.csvPath, t.WriteCSV); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if err := writeAtomic(s.jsonPath, t.WriteJSON); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	slog.Debug("results committed", "records", t.Len(), "csv", s.csvPath, "json", s.jsonPath)
	return nil
}

// recordFields flattens a record into one table row.
func recordFields(rec *models.ProductRecord) ([]Field, error) {
	specs, err := specsJSON(rec.Specifications)
	if err != nil {
		return nil, err
	}

	phased := "No"
	if rec.PhasedOut {
		phased = "Yes"
	}
	successor := Null()
	if rec.Successor != nil {
		successor = Text(rec.Successor.String())
	}
	accessories := make([]string, len(rec.Accessories))
	for i, a := range rec.Accessories {
		accessories[i] = a.String()
	}

	return []Field{
		{colPartNumber, Text(rec.Identifier)},
		{colURL, scalar(rec.URL)},
		{colName, scalar(rec.Name)},
		{colDescription, scalar(rec.Description)},
		{colCategory, scalar(rec.Category)},
		{colActualPart, scalar(rec.PartNumber)},
		{colPriceTeaser, scalar(rec.PriceTeaser)},
		{colPhasedOut, Text(phased)},
		{colSuccessor, successor},
		{colCertificates, Text(strings.Join(rec.Certificates, listSeparator))},
		{colSpecs, Text(specs)},
		{colAccessories, Text(strings.Join(accessories, listSeparator))},
		{colImageURLs, Text(strings.Join(rec.ImageURLs, listSeparator))},
		{colImagePaths, Text(strings.Join(rec.ImagePaths, listSeparator))},
		{colDrawingURLs, Text(strings.Join(rec.DrawingURLs, listSeparator))},
		{colDrawingPaths, Text(strings.Join(rec.DrawingPaths, listSeparator))},
		{colDatasheet, scalar(rec.DatasheetURL)},
	}, nil
}

// scalar maps the not-available sentinel to a missing cell.
func scalar(s string) Value {
	if s == models.NotAvailable {
		return Null()
	}
	return Text(s)
}

// specsJSON encodes the ordered specifications as a compact JSON object.
func specsJSON(specs *models.Specifications) (string, error) {
	if specs == nil || specs.Len() == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for pair := specs.Oldest(); pair != nil; pair = pair.Next() {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		key, err := marshalString(pair.Key)
		if err != nil {
			return "", err
		}
		val, err := marshalString(pair.Value)
		if err != nil {
			return "", err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// artifactMode is the permission of every written artifact.
const artifactMode = 0o644

// writeAtomic writes path through a temp file in the same directory and
// renames it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	bw := bufio.NewWriterSize(f, 1<<16)
	if err := write(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	// CreateTemp makes the file owner-only.
	if err := f.Chmod(artifactMode); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
