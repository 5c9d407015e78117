package persist

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
)

func TestTable_WriteJSON(t *testing.T) {
	a := Column{Name: "a"}
	b := Column{Name: "b", Kind: Structured}

	tbl := NewTable()
	tbl.Append([]Field{{a, Text("x<y & z")}, {b, Text(`{"k":"v","n":[1,2]}`)}})
	tbl.Append([]Field{{a, Null()}})

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteJSON(&buf))

	want := `[
  {
    "a": "x<y & z",
    "b": {
      "k": "v",
      "n": [
        1,
        2
      ]
    }
  },
  {
    "a": null,
    "b": null
  }
]
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("json mismatch (-want +got):\n%s", diff)
	}
}

func TestTable_StructuredCells(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   string
		want string
	}{
		{"object", Structured, `{"a":1}`, `{"a":1}`},
		{"not json", Structured, "not-json", `"not-json"`},
		{"broken object", Structured, "{broken", `"{broken"`},
		{"brace text", Structured, "{a} and {b}", `"{a} and {b}"`},
		{"scalar keeps object text", Scalar, `{"a":1}`, `"{\"a\":1}"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := rawCell(Text(tt.in), tt.kind)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(raw))
		})
	}
}

func TestTable_ColumnUnion(t *testing.T) {
	tbl := NewTable()
	tbl.Append([]Field{{Column{Name: "id"}, Text("1")}, {Column{Name: "Unnamed: 0"}, Text("0")}})
	tbl.Append([]Field{{Column{Name: "extra"}, Text("e")}, {Column{Name: "id"}, Text("2")}})

	var names []string
	for _, c := range tbl.Columns() {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"id", "extra"}, names)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	require.Equal(t, "id,extra\n1,\n2,e\n", buf.String())
}

func testRecord(id string) *models.ProductRecord {
	rec := models.NewProductRecord(id)
	rec.URL = "https://www.sick.com/sk/en/p/p" + id
	rec.Name = "W4S-3 <Inox> & Co"
	rec.PartNumber = id
	rec.Certificates = []string{"CE", "UKCA"}
	rec.Accessories = []models.Accessory{{Name: "Bracket", PartNumber: "2019649"}}
	rec.Specifications.Set("Technical data > Sensing range", "4 m")
	rec.Specifications.Set("Technical data > Electrical > Supply voltage", "< 30 V")
	rec.ImageURLs = []string{"https://cdn/a.jpg", "https://cdn/b.png"}
	rec.ImagePaths = []string{"scraped_data/images/" + id + "_0.jpg"}
	return rec
}

func readJSON(t *testing.T, path string) (string, []map[string]any) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return string(raw), out
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSink_Commit(t *testing.T) {
	out := config.OutputConfig{Dir: filepath.Join(t.TempDir(), "scraped_data")}
	sink := NewSink(out)

	phased := testRecord("1041425")
	phased.PhasedOut = true
	phased.Successor = &models.Successor{Name: "W4S-4", PartNumber: "1099999", URL: "https://www.sick.com/p/p9"}
	plain := models.NewProductRecord("2000000")

	require.NoError(t, sink.Commit([]*models.ProductRecord{phased, plain}))

	rows := readCSV(t, out.CSVPath())
	require.Len(t, rows, 3)
	require.Equal(t, []string{
		"part_number", "url", "name", "description", "category", "actual_part_no",
		"price_teaser", "phased_out", "successor_product", "certificates",
		"specifications", "suitable_accessories", "image_urls", "local_image_paths",
		"technical_drawing_urls", "local_technical_drawing_paths", "pdf_url",
	}, rows[0])

	first := rows[1]
	require.Equal(t, "1041425", first[0])
	require.Equal(t, "", first[3], "N/A must be an empty cell")
	require.Equal(t, "Yes", first[7])
	require.Equal(t, "W4S-4 (Part: 1099999) | URL: https://www.sick.com/p/p9", first[8])
	require.Equal(t, "CE|UKCA", first[9])
	require.Equal(t, `{"Technical data > Sensing range":"4 m","Technical data > Electrical > Supply voltage":"< 30 V"}`, first[10])
	require.Equal(t, "Bracket (2019649)", first[11])
	require.Equal(t, "https://cdn/a.jpg|https://cdn/b.png", first[12])

	second := rows[2]
	require.Equal(t, "2000000", second[0])
	require.Equal(t, "No", second[7])
	require.Equal(t, "", second[8])
	require.Equal(t, "{}", second[10])

	raw, objs := readJSON(t, out.JSONPath())
	require.Len(t, objs, 2)
	require.Contains(t, raw, `"name": "W4S-3 <Inox> & Co"`)
	require.Contains(t, raw, `"Technical data > Electrical > Supply voltage": "< 30 V"`)
	require.Less(t, strings.Index(raw, `"part_number"`), strings.Index(raw, `"url"`))
	require.Less(t, strings.Index(raw, `"Technical data > Sensing range"`), strings.Index(raw, `"Technical data > Electrical`))

	require.Nil(t, objs[0]["description"])
	require.Equal(t, map[string]any{
		"Technical data > Sensing range":               "4 m",
		"Technical data > Electrical > Supply voltage": "< 30 V",
	}, objs[0]["specifications"])
	require.Equal(t, map[string]any{}, objs[1]["specifications"])
	require.Nil(t, objs[1]["successor_product"])
	require.Nil(t, objs[1]["pdf_url"])
	require.Equal(t, "", objs[1]["certificates"])

	entries, err := os.ReadDir(out.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "temp files left behind")
}

func TestSink_EmptyCommit(t *testing.T) {
	out := config.OutputConfig{Dir: t.TempDir()}
	require.NoError(t, NewSink(out).Commit(nil))

	raw, err := os.ReadFile(out.JSONPath())
	require.NoError(t, err)
	require.Equal(t, "[]", strings.TrimSpace(string(raw)))

	csvRaw, err := os.ReadFile(out.CSVPath())
	require.NoError(t, err)
	require.Empty(t, csvRaw)
}

func TestSink_ArtifactsReadable(t *testing.T) {
	out := config.OutputConfig{Dir: t.TempDir()}
	require.NoError(t, NewSink(out).Commit(nil))

	for _, path := range []string{out.CSVPath(), out.JSONPath()} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o644), info.Mode().Perm(), path)
	}
}

func TestSink_CommitRewritesPrefix(t *testing.T) {
	out := config.OutputConfig{Dir: t.TempDir()}
	sink := NewSink(out)
	var results []*models.ProductRecord

	for _, id := range []string{"a", "b", "c"} {
		results = append(results, testRecord(id))
		require.NoError(t, sink.Commit(results))

		_, objs := readJSON(t, out.JSONPath())
		require.Len(t, objs, len(results))
		require.Equal(t, id, objs[len(objs)-1]["part_number"])
		require.Len(t, readCSV(t, out.CSVPath()), len(results)+1)
	}
}

func TestReadCSV(t *testing.T) {
	in := "\xEF\xBB\xBF" + `,part_number,specifications,note,note,Unnamed: 9
0,1041425,"{""a"":1}",not-json,{broken,x
1,NaN,N/A,,None
`
	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteJSON(&buf))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	want := []map[string]any{
		{"part_number": "1041425", "specifications": map[string]any{"a": float64(1)}, "note": "not-json", "note.1": "{broken"},
		{"part_number": nil, "specifications": nil, "note": nil, "note.1": nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCSV_TooManyFields(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n"))
	require.Error(t, err)
}

func TestConvertFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "products.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("part_number,pdf_url\n1041425,\n"), 0o644))

	got, err := ConvertFile(csvPath, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "products.json"), got)

	_, objs := readJSON(t, got)
	require.Equal(t, []map[string]any{{"part_number": "1041425", "pdf_url": nil}}, objs)

	explicit := filepath.Join(dir, "out", "custom.json")
	got, err = ConvertFile(csvPath, explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, got)
	require.FileExists(t, explicit)
}

func TestConvertFile_Missing(t *testing.T) {
	_, err := ConvertFile(filepath.Join(t.TempDir(), "nope.csv"), "")
	require.True(t, models.IsCode(err, models.ErrCodeInvalidInput), "got %v", err)
}

func TestDefaultJSONPath(t *testing.T) {
	require.Equal(t, "scraped_data/products.json", DefaultJSONPath("scraped_data/products.csv"))
	require.Equal(t, "data.v1/export.json", DefaultJSONPath("data.v1/export"))
}
